package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/commands"
	"github.com/aeolun/hsschat/pkg/client/session"
)

// runHeadless drives the reconciler from stdin lines and prints the active
// channel to out. It returns when stdin ends, /quit is entered, ctx is
// cancelled or the server goes away.
func runHeadless(ctx context.Context, conn client.ConnectionInterface, rec *session.Reconciler, up session.AvatarUploader, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{out: out}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := scanner.Text()
			if err := rec.Post(ctx, func() session.Change {
				return p.execute(ctx, cancel, rec, up, line, logger)
			}); err != nil {
				return
			}
		}
		_ = rec.Post(ctx, func() session.Change {
			if err := rec.Leave(); err != nil {
				logger.Debug().Err(err).Msg("Leave failed")
			}
			cancel()
			return session.Change{}
		})
	}()

	err := rec.Run(ctx, conn.Incoming(), func(ch session.Change) {
		p.render(rec.Snapshot(), ch)
	})
	switch {
	case errors.Is(err, session.ErrStreamClosed):
		fmt.Fprintln(out, "* disconnected from server")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// execute runs one input line on the reconciler goroutine.
func (p *printer) execute(ctx context.Context, quit context.CancelFunc, rec *session.Reconciler, up session.AvatarUploader, line string, logger zerolog.Logger) session.Change {
	cmd, err := commands.Parse(line)
	if err != nil {
		p.errorf("%v", err)
		return session.Change{}
	}
	res, err := commands.Run(ctx, rec, up, cmd)
	if err != nil {
		p.errorf("%v", err)
		return res.Change
	}

	switch {
	case res.Help:
		fmt.Fprintln(p.out, commands.HelpText())
	case res.Quit:
		quit()
	case res.Avatar != nil:
		fmt.Fprintln(p.out, "* working on your avatar...")
		go func() {
			result := res.Avatar()
			_ = rec.Post(ctx, func() session.Change {
				if result.Err != nil {
					logger.Warn().Err(result.Err).Msg("Avatar request failed")
					p.errorf("avatar: %v", result.Err)
				}
				return rec.ApplyAvatarResult(result)
			})
		}()
	}
	return res.Change
}

// printer writes the active channel incrementally. It is only used from the
// reconciler goroutine.
type printer struct {
	out     io.Writer
	active  session.ChannelKey
	printed int
	started bool
}

func (p *printer) render(v session.View, ch session.Change) {
	if ch.Notify != nil && ch.Channel != v.Active {
		fmt.Fprintf(p.out, "* private message from %s (/switch %s)\n", ch.Notify.AuthorName, ch.Channel)
	}

	// A channel switch or a replaced log starts over
	if !p.started || v.Active != p.active || ch.Replaced || len(v.Messages) < p.printed {
		p.started = true
		p.active = v.Active
		p.printed = 0
		fmt.Fprintf(p.out, "== %s ==\n", v.Title)
	}
	for _, m := range v.Messages[p.printed:] {
		fmt.Fprintln(p.out, formatLine(m, v.OwnID))
	}
	p.printed = len(v.Messages)
}

func (p *printer) errorf(format string, args ...any) {
	fmt.Fprintf(p.out, "! "+format+"\n", args...)
}

func formatLine(m session.Message, ownID string) string {
	ts := ""
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.Local().Format("15:04") + " "
	}
	text := strings.ReplaceAll(m.Text, "\n", "\n      ")
	switch {
	case m.System:
		return ts + "* " + text
	case m.AuthorID != "" && m.AuthorID == ownID:
		return ts + "<" + m.AuthorName + " (you)> " + text
	}
	return ts + "<" + m.AuthorName + "> " + text
}
