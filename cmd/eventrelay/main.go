// Command eventrelay runs the outbox sweeper and the inbox cleaner against a shared database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "eventrelay",
		Usage:   "Transactional outbox relay and inbox maintenance",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the outbox sweeper and inbox cleaner until interrupted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runWorkers(ctx)
				},
			},
			{
				Name:  "migrate",
				Usage: "Create the outbox and inbox tables",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMigrate(ctx)
				},
			},
			{
				Name:  "sweep",
				Usage: "Re-publish stale unpublished outbox records once and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSweepOnce(ctx)
				},
			},
			{
				Name:  "cleanup",
				Usage: "Purge expired inbox records once and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runCleanupOnce(ctx)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
