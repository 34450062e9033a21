package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cyphr/internal/model"
	"cyphr/internal/service/client"
	"cyphr/internal/state"
)

var (
	ErrNoSelection = errors.New("no conversation selected, use /select")
	ErrUnknown     = errors.New("unknown command, try /help")
)

type command struct {
	usage string
	help  string
	// args is the minimum number of arguments.
	args int
	run  func(ctx context.Context, c *client.Client, args []string) (string, error)
}

func commands() map[string]command {
	return map[string]command{
		"help": {"/help", "list commands", 0, help},
		"register": {"/register <alias> <password> <confirmation>", "create an account", 3,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.Register(ctx, args[0], args[1], args[2])
			}},
		"login": {"/login <alias> <password>", "log into an account", 2,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.Login(ctx, args[0], args[1])
			}},
		"anon": {"/anon", "log in with a throwaway account", 0,
			func(ctx context.Context, c *client.Client, _ []string) (string, error) {
				return "", c.LoginAnonymous(ctx)
			}},
		"key": {"/key <pub> <epub> <priv> <epriv>", "log in with an exported key pair", 4,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.LoginKeyPair(ctx, model.KeyPair{Pub: args[0], Epub: args[1], Priv: args[2], Epriv: args[3]})
			}},
		"whoami": {"/whoami", "show your public key", 0, whoami},
		"rename": {"/rename <name>", "change your display name", 1,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.Rename(ctx, strings.Join(args, " "))
			}},
		"logout": {"/logout", "end the session", 0,
			func(_ context.Context, c *client.Client, _ []string) (string, error) {
				return "logged out", c.Logout()
			}},
		"add": {"/add <pub>", "add a contact", 1,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.AddContact(ctx, args[0])
			}},
		"remove": {"/remove <pub>", "remove a contact", 1,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				return "", c.RemoveContact(ctx, args[0])
			}},
		"request": {"/request <pub> [text]", "start a conversation", 1,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				if err := c.SendRequest(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return "", err
				}
				return "request sent to " + short(args[0]), nil
			}},
		"group": {"/group <pub,pub,...> [text]", "start a group", 1,
			func(ctx context.Context, c *client.Client, args []string) (string, error) {
				pubs := splitPubs(args[0])
				if err := c.SendGroupRequests(ctx, pubs, strings.Join(args[1:], " ")); err != nil {
					return "", err
				}
				return fmt.Sprintf("invited %d members", len(pubs)), nil
			}},
		"accept":  {"/accept <n>", "accept request n", 1, resolve(true)},
		"decline": {"/decline <n>", "decline request n", 1, resolve(false)},
		"select": {"/select <n>", "open conversation n", 1,
			func(_ context.Context, c *client.Client, args []string) (string, error) {
				st := c.Snapshot()
				i, err := index(args[0], len(st.Conversations))
				if err != nil {
					return "", err
				}
				c.Select(st.Conversations[i].UUID)
				return "", nil
			}},
		"close": {"/close", "close the open conversation", 0,
			func(_ context.Context, c *client.Client, _ []string) (string, error) {
				c.Deselect()
				return "", nil
			}},
		"delete": {"/delete", "forget the open conversation", 0,
			selected(func(ctx context.Context, c *client.Client, conv model.Conversation, _ []string) (string, error) {
				return "", c.RemoveConversation(ctx, conv.UUID)
			})},
		"members": {"/members <pub,pub,...> [text]", "set the members of the open group", 1,
			selected(func(ctx context.Context, c *client.Client, conv model.Conversation, args []string) (string, error) {
				pubs := splitPubs(args[0])
				if me := c.Snapshot().Login.Pair.Pub; !slices.Contains(pubs, me) {
					pubs = append([]string{me}, pubs...)
				}
				return "group members updated", c.UpdateGroupMembers(ctx, conv.UUID, pubs, strings.Join(args[1:], " "))
			})},
		"name": {"/name <name>", "name the open group", 1,
			selected(func(ctx context.Context, c *client.Client, conv model.Conversation, args []string) (string, error) {
				return "", c.UpdateGroupName(ctx, conv.UUID, strings.Join(args, " "))
			})},
		"older": {"/older", "load expired history of the open conversation", 0,
			selected(func(ctx context.Context, c *client.Client, conv model.Conversation, _ []string) (string, error) {
				return "loading older messages", c.LoadExpired(ctx, conv.UUID)
			})},
		"expire": {"/expire", "expire old messages now", 0,
			func(ctx context.Context, c *client.Client, _ []string) (string, error) {
				n, err := c.ExpireAll(ctx)
				return fmt.Sprintf("expired history in %d conversations", n), err
			}},
	}
}

// Execute runs one line of input: a slash command, or a message for the open
// conversation. The returned text is feedback for the user.
func Execute(ctx context.Context, c *client.Client, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}

	if !strings.HasPrefix(line, "/") {
		st := c.Snapshot()
		if st.Selected == "" {
			return "", ErrNoSelection
		}
		return "", c.Send(ctx, st.Selected, line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", ErrUnknown
	}
	cmd, ok := commands()[fields[0]]
	if !ok {
		return "", fmt.Errorf("/%s: %w", fields[0], ErrUnknown)
	}
	args := fields[1:]
	if len(args) < cmd.args {
		return "", fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, c, args)
}

func help(context.Context, *client.Client, []string) (string, error) {
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", cmds[name].usage, cmds[name].help)
	}
	b.WriteString("anything else is sent to the open conversation")
	return b.String(), nil
}

func whoami(_ context.Context, c *client.Client, _ []string) (string, error) {
	s, ok := c.Session()
	if !ok {
		return "", client.ErrNotLoggedIn
	}
	return fmt.Sprintf("%s (%s)", loginLabel(state.Login{Alias: s.Alias, Name: s.Name, Pair: s.Pair}), s.Pair.Pub), nil
}

func resolve(accept bool) func(context.Context, *client.Client, []string) (string, error) {
	return func(ctx context.Context, c *client.Client, args []string) (string, error) {
		st := c.Snapshot()
		i, err := index(args[0], len(st.Requests))
		if err != nil {
			return "", err
		}
		if accept {
			return "", c.Accept(ctx, st.Requests[i])
		}
		return "", c.Decline(ctx, st.Requests[i])
	}
}

func selected(fn func(context.Context, *client.Client, model.Conversation, []string) (string, error)) func(context.Context, *client.Client, []string) (string, error) {
	return func(ctx context.Context, c *client.Client, args []string) (string, error) {
		conv, ok := c.Snapshot().SelectedConversation()
		if !ok {
			return "", ErrNoSelection
		}
		return fn(ctx, c, conv, args)
	}
}

// index parses the one-based position arg among n items.
func index(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("no item %q, expected 1 to %d", arg, n)
	}
	return i - 1, nil
}

func splitPubs(arg string) []string {
	var pubs []string
	for _, pub := range strings.Split(arg, ",") {
		if pub = strings.TrimSpace(pub); pub != "" {
			pubs = append(pubs, pub)
		}
	}
	return pubs
}
