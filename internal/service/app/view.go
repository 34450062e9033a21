package app

import (
	"fmt"
	"strings"
	"time"

	"cyphr/internal/model"
	"cyphr/internal/state"

	"github.com/rivo/tview"
)

const shortPub = 8

func short(pub string) string {
	if len(pub) <= shortPub {
		return pub
	}
	return pub[:shortPub]
}

func loginLabel(l state.Login) string {
	switch {
	case l.Name != "":
		return l.Name
	case l.Alias != "":
		return l.Alias
	}
	return short(l.Pair.Pub)
}

// senderLabel names pub the way the user knows it.
func senderLabel(st state.State, pub string) string {
	if pub == st.Login.Pair.Pub {
		return "You"
	}
	if ct, ok := st.Contact(pub); ok {
		return ct.Label()
	}
	return short(pub)
}

func requestLabel(st state.State, req model.ContactRequest) string {
	from := senderLabel(st, req.SenderPub)
	if req.Content.Kind == model.RequestGroupInvite {
		return fmt.Sprintf("group invite from %s (%d members)", from, len(req.Content.MemberPubs))
	}
	if req.Content.Text == "" {
		return from
	}
	return fmt.Sprintf("%s: %s", from, req.Content.Text)
}

func contentText(c model.Content) string {
	if c.Kind == model.KindRich && (len(c.Images) > 0 || c.Audio != "") {
		return fmt.Sprintf("%s [gray](%d images, audio: %t)[-]", tview.Escape(c.Text), len(c.Images), c.Audio != "")
	}
	return tview.Escape(c.Text)
}

// sidebar lists conversations and pending requests, numbered for /select and
// /accept.
func sidebar(st state.State) string {
	if !st.Login.LoggedIn {
		return "[gray]not logged in[-]\n\n/register, /login or /anon"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%s[-]\n\n", tview.Escape(loginLabel(st.Login)))

	b.WriteString("[::b]Conversations[::-]\n")
	for i, conv := range st.Conversations {
		marker := " "
		if conv.UUID == st.Selected {
			marker = ">"
		}
		unread := ""
		if state.Unread(st, conv) {
			unread = " [red]*[-]"
		}
		fmt.Fprintf(&b, "%s%d %s%s\n", marker, i+1, tview.Escape(state.ConversationName(st, conv)), unread)
	}

	if len(st.Requests) > 0 {
		b.WriteString("\n[::b]Requests[::-]\n")
		for i, req := range st.Requests {
			fmt.Fprintf(&b, " %d %s\n", i+1, tview.Escape(requestLabel(st, req)))
		}
	}

	if len(st.Contacts) > 0 {
		b.WriteString("\n[::b]Contacts[::-]\n")
		for _, ct := range st.Contacts {
			fmt.Fprintf(&b, " %s [gray]%s[-]\n", tview.Escape(ct.Label()), short(ct.Pub))
		}
	}
	return b.String()
}

// chat renders the visible messages of the selected conversation.
func chat(st state.State) (title, body string) {
	conv, ok := st.SelectedConversation()
	if !ok {
		return " Chat ", ""
	}

	var b strings.Builder
	msgs := state.Visible(state.ConversationMessages(st.Login.Pair.Pub, conv.ConversationID, st.Messages))
	for _, m := range msgs {
		color := "green"
		if m.SenderPub == st.Login.Pair.Pub {
			color = "yellow"
		}
		fmt.Fprintf(&b, "[gray]%s[-] [%s]%s:[-] %s\n",
			time.UnixMilli(m.Timestamp).Format("15:04"),
			color,
			tview.Escape(senderLabel(st, m.SenderPub)),
			contentText(m.Content))
	}
	return fmt.Sprintf(" Chat with %s ", tview.Escape(state.ConversationName(st, conv))), b.String()
}

// status is the most relevant error in st, if any.
func status(st state.State) string {
	switch {
	case st.Login.Err != "":
		return "login failed: " + st.Login.Err
	case st.SendError != "":
		return "send failed: " + st.SendError
	case st.ContactError != nil:
		return fmt.Sprintf("contact %s: %s", short(st.ContactError.Pub), st.ContactError.Reason)
	}
	for pub, reason := range st.RequestErrors {
		return fmt.Sprintf("request to %s: %s", short(pub), reason)
	}
	return ""
}
