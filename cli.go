package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"reddit-highlighter/pageview"
	"reddit-highlighter/pretty"
	"reddit-highlighter/scraper"
	"reddit-highlighter/server"
	"reddit-highlighter/visits"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(out, errOut io.Writer) *cli.App {
	app := &cli.App{
		Name:      "reddit-highlighter",
		Usage:     "Highlight Reddit comments posted since your last visit",
		Version:   Version,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"CONFIG_FILE"}, Usage: "YAML config file"},
		},
		Commands: []*cli.Command{
			serveCmd(),
			visitCmd(),
			purgeCmd(),
			historyCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// withDeps builds dependencies for a command action.
func withDeps(fn func(c *cli.Context, d *deps) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		d, err := setup(c.Context, c.String("config"), c.App.ErrWriter)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer d.close()
		return fn(c, d)
	}
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve page views over HTTP",
		Action: withDeps(func(c *cli.Context, d *deps) error {
			runner := d.runner()
			defer runner.Wait()

			srv := server.New(&server.Config{
				Runner:    runner,
				History:   d.history,
				Logger:    d.logger,
				IsHTTP403: scraper.IsHTTP403Error,
			})
			if err := srv.ListenAndServe(c.Context, d.cfg.Port); err != nil {
				d.logger.Error("Server failed", "error", err)
				return cli.Exit(err.Error(), 1)
			}
			return nil
		}),
	}
}

// visitCmd creates the visit command.
func visitCmd() *cli.Command {
	return &cli.Command{
		Name:      "visit",
		Usage:     "Record a visit to a thread and report its new comments",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "reference", Aliases: []string{"r"}, Usage: "Reference time in ms since epoch (0 turns highlighting off)"},
			&cli.BoolFlag{Name: "load-all", Usage: "Load every \"continue this thread\" link"},
		},
		Action: withDeps(func(c *cli.Context, d *deps) error {
			if c.NArg() != 1 {
				return cli.Exit("visit requires exactly one thread url", 1)
			}

			req := pageview.Request{URL: c.Args().First(), LoadAll: c.Bool("load-all")}
			if c.IsSet("reference") {
				ref := c.Int64("reference")
				req.Reference = &ref
			}

			runner := d.runner()
			report, err := runner.Run(c.Context, req)
			runner.Wait()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return outputJSON(c.App.Writer, report)
		}),
	}
}

// purgeCmd creates the purge command.
func purgeCmd() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete the history of threads not visited within the expiration window",
		Action: withDeps(func(c *cli.Context, d *deps) error {
			removed, err := d.history.PurgeExpired(c.Context, time.Now().UnixMilli(), d.cfg.Expiration)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"removed":    removed,
				"expiration": d.cfg.Expiration.String(),
			})
		}),
	}
}

type historyEntry struct {
	Label string `json:"label"`
	Time  int64  `json:"time"`
}

// historyCmd creates the history command.
func historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the stored visits of a thread",
		ArgsUsage: "<thread-id>",
		Action: withDeps(func(c *cli.Context, d *deps) error {
			if c.NArg() != 1 {
				return cli.Exit("history requires exactly one thread id", 1)
			}
			threadID := c.Args().First()

			times, err := d.history.Load(c.Context, threadID)
			if errors.Is(err, visits.ErrCorrupt) {
				d.logger.Warn("Ignoring corrupt visit record", "thread_id", threadID, "error", err)
				times, err = nil, nil
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("load history: %v", err), 1)
			}

			now := time.Now().UnixMilli()
			entries := make([]historyEntry, 0, len(times))
			for i := len(times) - 1; i >= 0; i-- {
				entries = append(entries, historyEntry{Time: times[i], Label: pretty.Prettify(times[i], now)})
			}
			return outputJSON(c.App.Writer, map[string]any{
				"thread_id": threadID,
				"visits":    entries,
			})
		}),
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
