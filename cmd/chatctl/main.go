// Command chatctl is the operator companion of the relay: it mints access
// tokens, seeds users and conversations, and prints a room's history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/internal"
	"chat-relay/repositories"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

const usage = `usage: chatctl <command> [flags]

commands:
  token    -user ID -name USERNAME    print a signed access token
  seed     -file PATH                 load users and conversations from JSON
  history  -room ID [-limit N] [-before ID]
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	switch args[0] {
	case "token":
		return runToken(cfg, args[1:], out)
	case "seed":
		return runSeed(ctx, cfg, args[1:], out)
	case "history":
		return runHistory(ctx, cfg, args[1:], out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runToken(cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	username := fs.String("name", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenDuration)
	token, err := issuer.Generate(domain.Identity{ID: domain.UserID(*userID), Username: *username})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runSeed(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	path := fs.String("file", "seed.json", "fixture file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	file, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer file.Close()
	seed, err := ReadSeed(file)
	if err != nil {
		return err
	}

	return withStore(ctx, cfg, func(store repositories.Store) error {
		return seed.Apply(ctx, store, out)
	})
}

func runHistory(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	room := fs.String("room", "", "conversation id")
	limit := fs.Int("limit", 50, "page size")
	before := fs.Int64("before", 0, "only messages with a smaller id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *room == "" {
		return errors.New("-room is required")
	}

	return withStore(ctx, cfg, func(store repositories.Store) error {
		messages, err := store.History(ctx, domain.RoomID(*room), *before, *limit)
		if err != nil {
			return err
		}
		renderHistory(out, messages)
		return nil
	})
}

func withStore(ctx context.Context, cfg Config, fn func(repositories.Store) error) error {
	log := logs.GetLoggerFromString(cfg.LogLevel)
	store, err := internal.OpenStore(ctx, cfg.StoreDriver, cfg.BadgerFilepath, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func renderHistory(out io.Writer, messages []domain.Message) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Time", "Sender", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, msg := range messages {
		table.Append([]string{
			strconv.FormatInt(msg.ID, 10),
			msg.CreatedAt.Format("2006-01-02 15:04:05"),
			msg.SenderUsername,
			msg.Content,
		})
	}
	table.Render()
}
