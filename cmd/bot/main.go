// Command bot is a small hsschat helper bot. It answers "!" commands in the
// main chat when mentioned, and any "!" command sent to it privately.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/hsschat/pkg/botlib"
)

var (
	flagServer   string
	flagNickname string
)

var rootCmd = &cobra.Command{
	Use:          "bot",
	Short:        "hsschat helper bot",
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagServer, "server", "localhost:8000", "server address")
	flags.StringVar(&flagNickname, "nickname", "HelperBot", "bot nickname")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	bot := botlib.New(botlib.Config{
		Server:   flagServer,
		Nickname: flagNickname,
		Logger:   &logger,
	})
	register(bot, time.Now)

	logger.Info().Str("server", flagServer).Str("nickname", flagNickname).Msg("Starting bot")
	return bot.Run(ctx)
}

func register(bot *botlib.Bot, now func() time.Time) {
	// Public: only when addressed
	bot.OnMention(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Mentioned: %s", msg.Text)
		reply(ctx, msg, now)
	})

	bot.OnPrivate(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Private message: %s", msg.Text)
		reply(ctx, msg, now)
	})
}

func reply(ctx *botlib.Context, msg *botlib.Message, now func() time.Time) {
	name, args, ok := msg.Command()
	if !ok {
		if err := ctx.Reply(fmt.Sprintf("Hi %s! Send !help for what I can do.", msg.AuthorName)); err != nil {
			ctx.Log("Failed to reply: %v", err)
		}
		return
	}
	if err := ctx.Reply(respond(name, args, ctx.Users(), now())); err != nil {
		ctx.Log("Failed to reply: %v", err)
	}
}

// respond computes the answer to one command.
func respond(name, args string, users []botlib.User, now time.Time) string {
	switch name {
	case "ping":
		return "pong"
	case "time":
		return "It is " + now.UTC().Format("15:04:05") + " UTC."
	case "users":
		if len(users) == 0 {
			return "Nobody else is here."
		}
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%d online: %s", len(names), strings.Join(names, ", "))
	case "echo":
		if args == "" {
			return "Echo what?"
		}
		return args
	case "help":
		return "Commands: !ping, !time, !users, !echo TEXT, !help"
	}
	return fmt.Sprintf("Unknown command !%s. Try !help.", name)
}
