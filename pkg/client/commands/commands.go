// Package commands parses the chat input line and runs the resulting command
// against a session. The terminal UI and the headless client share it.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aeolun/hsschat/pkg/client/session"
)

// Kind identifies what an input line asks for.
type Kind int

const (
	KindMessage Kind = iota
	KindRename
	KindSwitch
	KindAvatar
	KindRemoveAvatar
	KindHelp
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindRename:
		return "rename"
	case KindSwitch:
		return "switch"
	case KindAvatar:
		return "avatar"
	case KindRemoveAvatar:
		return "unavatar"
	case KindHelp:
		return "help"
	case KindQuit:
		return "quit"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrUnknownChannel  = errors.New("no such user")
	ErrNoUploader      = errors.New("avatar uploads are not available")
)

// Command is one parsed input line.
type Command struct {
	Kind Kind
	Arg  string
}

// Definition describes a slash command for parsing and help output.
type Definition struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	Kind    Kind
	NeedArg bool
}

// Registry holds the known slash commands in help order.
var Registry = []Definition{
	{Name: "rename", Aliases: []string{"nick"}, Usage: "/rename NAME", Help: "Change your display name", Kind: KindRename, NeedArg: true},
	{Name: "switch", Aliases: []string{"s", "msg"}, Usage: "/switch all|ID|NAME", Help: "Switch to the main chat or a private conversation", Kind: KindSwitch, NeedArg: true},
	{Name: "avatar", Usage: "/avatar PATH", Help: "Upload an image as your avatar", Kind: KindAvatar, NeedArg: true},
	{Name: "unavatar", Usage: "/unavatar", Help: "Remove your avatar", Kind: KindRemoveAvatar},
	{Name: "help", Aliases: []string{"?"}, Usage: "/help", Help: "Show this help", Kind: KindHelp},
	{Name: "quit", Aliases: []string{"exit", "q"}, Usage: "/quit", Help: "Leave the chat", Kind: KindQuit},
}

func lookup(name string) (Definition, bool) {
	for _, s := range Registry {
		if s.Name == name {
			return s, true
		}
		for _, a := range s.Aliases {
			if a == name {
				return s, true
			}
		}
	}
	return Definition{}, false
}

// Parse turns an input line into a Command. Lines not starting with "/" are
// messages; a leading "//" sends a literal slash.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: KindMessage, Arg: trimmed}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: KindMessage, Arg: trimmed[1:]}, nil
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	def, ok := lookup(strings.ToLower(name))
	if !ok {
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	arg = strings.TrimSpace(arg)
	if def.NeedArg && arg == "" {
		return Command{}, fmt.Errorf("%w: usage %s", ErrMissingArgument, def.Usage)
	}
	return Command{Kind: def.Kind, Arg: arg}, nil
}

// HelpText lists the slash commands.
func HelpText() string {
	var b strings.Builder
	for i, s := range Registry {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-22s %s", s.Usage, s.Help)
	}
	return b.String()
}

// Result is what running a command produced.
type Result struct {
	Change session.Change
	// Avatar is set for avatar commands; the caller runs it off the
	// reconciler's goroutine and feeds the outcome to ApplyAvatarResult.
	Avatar func() session.AvatarResult
	Help   bool
	Quit   bool
}

// Run executes cmd against rec. It must be called on the reconciler's goroutine.
func Run(ctx context.Context, rec *session.Reconciler, up session.AvatarUploader, cmd Command) (Result, error) {
	switch cmd.Kind {
	case KindMessage:
		return Result{}, rec.SendMessage(cmd.Arg)
	case KindRename:
		return Result{}, rec.Rename(cmd.Arg)
	case KindSwitch:
		key, err := ResolveChannel(rec.Store(), cmd.Arg)
		if err != nil {
			return Result{}, err
		}
		ch, err := rec.ActivateChannel(key)
		return Result{Change: ch}, err
	case KindAvatar:
		if up == nil {
			return Result{}, ErrNoUploader
		}
		fn, err := rec.UploadAvatar(ctx, up, cmd.Arg)
		return Result{Avatar: fn}, err
	case KindRemoveAvatar:
		if up == nil {
			return Result{}, ErrNoUploader
		}
		fn, err := rec.RemoveAvatar(ctx, up)
		return Result{Avatar: fn}, err
	case KindHelp:
		return Result{Help: true}, nil
	case KindQuit:
		return Result{Quit: true}, rec.Leave()
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
}

// ResolveChannel maps a /switch argument to a channel key. It accepts "all",
// a roster id, or a display name (case-insensitive). The own entry never
// resolves: there is no private channel with yourself.
func ResolveChannel(store *session.Store, arg string) (session.ChannelKey, error) {
	if arg == "" || strings.EqualFold(arg, string(session.ChannelAll)) {
		return session.ChannelAll, nil
	}
	own := store.OwnID()
	if _, ok := store.Entry(arg); ok && arg != own {
		return session.ChannelKey(arg), nil
	}
	for _, e := range store.Roster() {
		if e.ID != own && strings.EqualFold(e.DisplayName, arg) {
			return session.ChannelKey(e.ID), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownChannel, arg)
}
