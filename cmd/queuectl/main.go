// Command queuectl inspects and repairs the durable delivery queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/config"
	"github.com/lalithlochan/discordbridge/internal/db"
	"github.com/lalithlochan/discordbridge/internal/observ"
)

const usage = `usage: queuectl <command> [flags]

commands:
  count             print the number of pending messages
  list [-n limit]   print the oldest pending messages
  delete <id>       drop one message
  schema            print the DDL for the configured driver
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args[0] == "schema" {
		ddl, err := db.Schema(cfg.DBDriver)
		if err != nil {
			return err
		}
		for _, stmt := range ddl {
			fmt.Printf("%s;\n\n", stmt)
		}
		return nil
	}

	logger, err := observ.NewLogger(cfg.Env, "warn")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.New(ctx, db.Config{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		URL:    cfg.DatabaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open queue store: %w", err)
	}
	defer database.Close()

	queue := db.NewQueue(database, logger)

	switch args[0] {
	case "count":
		n, err := queue.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)

	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		limit := fs.Int("n", 20, "maximum rows to print")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return list(ctx, queue, *limit)

	case "delete":
		if len(args) != 2 {
			return errors.New("delete needs exactly one message id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", args[1], err)
		}
		if _, err := queue.Get(ctx, id); err != nil {
			return err
		}
		if err := queue.Delete(ctx, id); err != nil {
			return err
		}
		logger.Warn("message deleted by operator", zap.Int64("message_id", id))
		fmt.Printf("deleted %d\n", id)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	return nil
}

func list(ctx context.Context, queue *db.Queue, limit int) error {
	messages, err := queue.Dequeue(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tTHREAD\tRETRIES\tCREATED\tLAST ERROR")
	for _, m := range messages {
		thread := "-"
		if m.ThreadID != nil {
			thread = *m.ThreadID
		}
		lastErr := ""
		if m.LastError != nil {
			lastErr = *m.LastError
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.SessionID, thread, m.RetryCount,
			m.Created().Format(time.RFC3339), lastErr)
	}
	return tw.Flush()
}
