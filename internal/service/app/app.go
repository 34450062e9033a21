package app

import (
	"context"

	"cyphr/internal/service/client"
	"cyphr/internal/state"
	"cyphr/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		sidebar *tview.TextView
		status  *tview.TextView
		input   *tview.InputField

		client *client.Client
		log    *zap.Logger
	}
)

func NewApp(c *client.Client) *App {
	return &App{
		app:    tview.NewApplication(),
		client: c,
		log:    log.Named("app"),
	}
}

// Run shows the UI until the user quits or ctx is done. Blocking.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.buildUI(ctx)

	// the client loop never waits on the draw loop
	redraw := make(chan struct{}, 1)
	unwatch := a.client.Watch(func(state.State) {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer unwatch()

	a.client.OnNotify(func(n state.Notify) {
		name := state.ConversationName(a.client.Snapshot(), n.Conversation)
		go a.app.QueueUpdateDraw(func() { a.say("new message in " + tview.Escape(name)) })
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				a.app.Stop()
				return
			case <-redraw:
				a.app.QueueUpdateDraw(func() { a.render(a.client.Snapshot()) })
			}
		}
	}()

	a.render(a.client.Snapshot())
	return a.app.SetRoot(a.layout(), true).SetFocus(a.input).Run()
}

func (a *App) Stop() {
	a.app.Stop()
}

func (a *App) buildUI(ctx context.Context) {
	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true).SetTitle(" Chat ")

	a.sidebar = tview.NewTextView().
		SetDynamicColors(true)
	a.sidebar.SetBorder(true).SetTitle(" cyphr ")

	a.status = tview.NewTextView().
		SetDynamicColors(true)

	a.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" Message or /help ")

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if text == "" {
			return
		}
		a.input.SetText("")

		// store round trips must not block the draw loop
		go func(line string) {
			out, err := Execute(ctx, a.client, line)
			if err != nil {
				a.log.Debug("command failed", zap.String("line", line), zap.Error(err))
				out = "[red]" + tview.Escape(err.Error()) + "[-]"
			}
			if out == "" {
				return
			}
			a.app.QueueUpdateDraw(func() { a.say(out) })
		}(text)
	})
}

func (a *App) layout() tview.Primitive {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.status, 1, 0, false).
		AddItem(a.input, 3, 0, true)

	return tview.NewFlex().
		AddItem(a.sidebar, 32, 0, false).
		AddItem(right, 0, 1, true)
}

// render must run on the draw loop.
func (a *App) render(st state.State) {
	a.sidebar.SetText(sidebar(st))

	title, body := chat(st)
	a.chatbox.SetTitle(title)
	a.chatbox.SetText(body)
	a.chatbox.ScrollToEnd()

	if msg := status(st); msg != "" {
		a.status.SetText("[red]" + tview.Escape(msg) + "[-]")
	}
}

// say shows feedback below the chat.
func (a *App) say(text string) {
	a.status.SetText(text)
}
