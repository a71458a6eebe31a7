package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/urfave/cli/v2"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	"github.com/mohammadpnp/contact-import/internal/bootstrap"
	"github.com/mohammadpnp/contact-import/internal/config"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

func main() {
	sessionFlag := &cli.StringFlag{
		Name:     "session",
		Usage:    "Import session ID",
		Required: true,
	}

	cliApp := &cli.App{
		Name:  "importctl",
		Usage: "Operate contact import sessions without the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Create a session from a CSV file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "csv",
						Usage:    "Path to CSV file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "account",
						Usage: "Owning account ID",
						Value: "local",
					},
					&cli.StringSliceFlag{
						Name:  "mapping",
						Usage: "Column mapping as column:property (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "enrichment",
						Usage: "Enrichment config ID (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "enrich",
						Usage: "Run enrichment right after upload",
					},
				},
				Action: importCSV,
			},
			{
				Name:   "enrich",
				Usage:  "Validate and enrich an uploaded session",
				Flags:  []cli.Flag{sessionFlag},
				Action: enrichSession,
			},
			{
				Name:  "sync",
				Usage: "Sync a session to the CRM with a progress bar",
				Flags: []cli.Flag{
					sessionFlag,
					&cli.StringFlag{
						Name:  "assignee",
						Usage: "CRM owner ID for follow-up tasks",
					},
				},
				Action: syncSession,
			},
			{
				Name:   "status",
				Usage:  "Show session detail",
				Flags:  []cli.Flag{sessionFlag},
				Action: showStatus,
			},
			{
				Name:  "export",
				Usage: "Export session rows as CSV",
				Flags: []cli.Flag{
					sessionFlag,
					&cli.StringFlag{
						Name:  "filter",
						Usage: "all, clean or flagged",
						Value: "all",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output file (stdout when empty)",
					},
				},
				Action: exportSession,
			},
			{
				Name:   "purge",
				Usage:  "Expire every session past its retention window",
				Action: purgeExpired,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withContainer builds the service graph from --config and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withContainer(c *cli.Context, fn func(ctx context.Context, container *bootstrap.Container) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()
	return fn(ctx, container)
}

func importCSV(c *cli.Context) error {
	path := c.String("csv")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	rows, err := app.DecodeCSV(bytes.NewReader(data))
	if err != nil {
		return err
	}
	mappings, err := parseMappings(c.StringSlice("mapping"))
	if err != nil {
		return err
	}

	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		out, err := container.Create.Execute(ctx, app.CreateSessionInput{
			AccountID:           c.String("account"),
			FileName:            filepath.Base(path),
			Rows:                rows,
			FieldMappings:       mappings,
			EnrichmentConfigIDs: c.StringSlice("enrichment"),
			File:                data,
			ContentType:         "text/csv",
		})
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created with %d rows (expires %s)\n", out.SessionID, out.TotalRows, out.ExpiresAt.Format("2006-01-02 15:04"))
		if !c.Bool("enrich") {
			return nil
		}
		summary, err := container.Enrich.Execute(ctx, out.SessionID)
		if err != nil {
			return err
		}
		fmt.Printf("Enriched: %d, Failed: %d\n", summary.Enriched, summary.Failed)
		return nil
	})
}

func enrichSession(c *cli.Context) error {
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		summary, err := container.Enrich.Execute(ctx, c.String("session"))
		if err != nil {
			return err
		}
		fmt.Printf("Status: %s\nEnriched: %d\nFailed: %d\n", summary.Status, summary.Enriched, summary.Failed)
		return nil
	})
}

func syncSession(c *cli.Context) error {
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		bar := pb.New64(0)
		bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} failed: {{string . "failed"}}`)
		bar.Set("failed", "0")
		var failed int
		started := false

		emitter := app.EmitterFunc(func(event app.Event) error {
			switch event.Type {
			case app.EventProgress:
				if !started {
					bar.Start()
					started = true
				}
				bar.SetTotal(event.Total)
				bar.SetCurrent(event.Completed)
			case app.EventResult:
				if event.Result != nil && event.Result.Failed() {
					failed++
					bar.Set("failed", fmt.Sprintf("%d", failed))
				}
			case app.EventError:
				fmt.Fprintf(os.Stderr, "sync error: %s\n", event.Error)
			}
			return nil
		})

		summary, err := container.Sync.Execute(ctx, app.SyncSessionInput{
			SessionID:      c.String("session"),
			TaskAssigneeID: c.String("assignee"),
		}, emitter)
		if started {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		fmt.Printf("Status: %s\nSynced: %d\nFailed: %d\nRetry: %d\n", summary.Status, summary.Synced, summary.Failed, summary.RetryCount)
		if summary.AuthAborted {
			fmt.Println("Sync stopped: CRM authorization expired")
		}
		return nil
	})
}

func showStatus(c *cli.Context) error {
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		detail, err := container.Queries.Detail(ctx, c.String("session"))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	})
}

func exportSession(c *cli.Context) error {
	filter, err := app.ParseExportFilter(c.String("filter"))
	if err != nil {
		return err
	}
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		out, err := container.Queries.Export(ctx, c.String("session"), filter)
		if err != nil {
			return err
		}
		target := c.String("out")
		if target == "" {
			_, err = os.Stdout.Write(out.Data)
			return err
		}
		if err := os.WriteFile(target, out.Data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d rows to %s\n", out.Rows, target)
		return nil
	})
}

func purgeExpired(c *cli.Context) error {
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		result, err := container.Reaper.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d sessions\n", result.PurgedCount)
		for _, id := range result.PurgedSessionIDs {
			fmt.Println(" ", id)
		}
		return nil
	})
}

func parseMappings(values []string) (map[string]string, error) {
	mappings := make(map[string]string, len(values))
	for _, v := range values {
		column, target, ok := strings.Cut(v, ":")
		column = strings.TrimSpace(column)
		if !ok || column == "" {
			return nil, fmt.Errorf("invalid mapping %q, want column:property", v)
		}
		mappings[column] = strings.TrimSpace(target)
	}
	return mappings, nil
}
