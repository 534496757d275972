// README: Operator CLI; runs sweeps, table overrides and migrations against the shared database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"floortwin/internal/broadcast"
	"floortwin/internal/config"
	"floortwin/internal/infra"
	"floortwin/internal/modules/floor"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if floor.IsClientError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type globals struct {
	cfg        config.Config
	dsn        string
	outputJSON bool
	log        *logrus.Logger
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "floorctl",
		Short: "Operate the floor state service",
		Long: `Operator commands for the floor state service.

Examples:
  floorctl migrate
  floorctl sweep --threshold 20m --venue v1 --dry-run
  floorctl set-state T4 OUT_OF_SERVICE
  floorctl recompute T4
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g.cfg = cfg
			if g.dsn == "" {
				g.dsn = cfg.DB.DSN
			}
			g.log = infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
			g.log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.dsn, "dsn", "", "Postgres DSN (default $FLOOR_DB_DSN)")
	cmd.PersistentFlags().BoolVar(&g.outputJSON, "json", false, "Output results as JSON")

	cmd.AddCommand(sweepCmd(g), setStateCmd(g), recomputeCmd(g), migrateCmd(g))
	return cmd
}

func sweepCmd(g *globals) *cobra.Command {
	var (
		threshold time.Duration
		venue     string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Raise wait-time alarms for tables with overdue orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold <= 0 {
				threshold = g.cfg.Sweep.Threshold
			}
			return withService(cmd.Context(), g, func(ctx context.Context, svc *floor.Service) error {
				report, err := svc.Sweep(ctx, floor.SweepOptions{
					Threshold: threshold,
					VenueID:   types.ID(venue),
					DryRun:    dryRun,
				})
				if err != nil {
					return err
				}
				if g.outputJSON {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				printSweep(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "Wait threshold (default $FLOOR_WAIT_THRESHOLD)")
	cmd.Flags().StringVar(&venue, "venue", "", "Only sweep this venue")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	return cmd
}

func setStateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <table-id> <state>",
		Short: "Override a table's display state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := table.ParseState(args[1])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(ctx context.Context, svc *floor.Service) error {
				change, err := svc.SetTableState(ctx, types.ID(args[0]), state)
				if err != nil {
					return err
				}
				return printChange(cmd.OutOrStdout(), g.outputJSON, change)
			})
		},
	}
}

func recomputeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <table-id>",
		Short: "Re-derive a table's state from its active orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), g, func(ctx context.Context, svc *floor.Service) error {
				change, err := svc.RecomputeTable(ctx, types.ID(args[0]))
				if err != nil {
					return err
				}
				return printChange(cmd.OutOrStdout(), g.outputJSON, change)
			})
		},
	}
}

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.dsn == "" {
				return errNoDSN
			}
			version, err := infra.Migrate(g.dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

var errNoDSN = errors.New("no database: pass --dsn or set FLOOR_DB_DSN")

// withService connects to the database and, when a shared bus is configured,
// publishes through it so running API processes push the change to viewers.
func withService(parent context.Context, g *globals, fn func(ctx context.Context, svc *floor.Service) error) error {
	if g.dsn == "" {
		return errNoDSN
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDB(ctx, g.dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	var pub broadcast.Publisher
	local := broadcast.NewHub(broadcast.Options{Logger: g.log})
	defer local.Close()
	switch g.cfg.Bus {
	case config.BusRedis:
		client, err := infra.NewRedis(ctx, g.cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer client.Close()
		pub = broadcast.NewRedisRelay(client, g.cfg.Redis.Channel, local, g.log)
	case config.BusNATS:
		conn, err := infra.NewNATS(g.cfg.NATS.URL, g.log)
		if err != nil {
			return err
		}
		defer func() {
			_ = conn.Flush()
			conn.Close()
		}()
		pub = broadcast.NewNATSRelay(conn, g.cfg.NATS.Subject, local, g.log)
	default:
		g.log.Warn("FLOOR_BUS is memory; changes will not reach live viewers")
		pub = local
	}

	svc := floor.NewService(floor.NewStore(pool), pub, floor.WithLogger(g.log))
	return fn(ctx, svc)
}

func printSweep(w io.Writer, r *floor.SweepReport) {
	mode := "applied"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "sweep (%s, threshold %s): %d stale orders\n", mode, r.Threshold, r.StaleOrders)
	for _, t := range r.Tables {
		line := fmt.Sprintf("  %-12s %-16s %3d min  %d orders  was %s", t.TableID, t.Outcome, t.WaitMinutes(), t.OrderCount, t.PreviousState)
		if t.Err != "" {
			line += "  error: " + t.Err
		}
		fmt.Fprintln(w, line)
	}
	if r.DryRun {
		fmt.Fprintf(w, "would_raise=%d already_alarmed=%d skipped=%d failed=%d\n", r.WouldRaise, r.AlreadyAlarmed, r.Skipped, r.Failed)
		return
	}
	fmt.Fprintf(w, "raised=%d already_alarmed=%d skipped=%d failed=%d\n", r.Raised, r.AlreadyAlarmed, r.Skipped, r.Failed)
}

func printChange(w io.Writer, asJSON bool, c *floor.TableChange) error {
	if asJSON {
		return writeJSON(w, c)
	}
	if !c.Changed {
		fmt.Fprintf(w, "table %s unchanged (%s)\n", c.TableID, c.New)
		return nil
	}
	fmt.Fprintf(w, "table %s: %s -> %s\n", c.TableID, c.Old, c.New)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
