package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wan-balancer-sim/core"
	"github.com/signalsfoundry/wan-balancer-sim/internal/config"
	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/timectrl"
)

func newRunCmd() *cobra.Command {
	var (
		realtime bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation headless and print per-link distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.TotalPackets == 0 && duration <= 0 {
				return errors.New("run needs --total-packets or --duration to end")
			}
			cfg.Mode = timectrl.Accelerated.String()
			if realtime {
				cfg.Mode = timectrl.RealTime.String()
			}
			log := logging.New(cfg.Logging())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHeadless(ctx, cmd.OutOrStdout(), cfg, log, duration)
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace the run on the wall clock instead of accelerated time")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop the run after this much wall-clock time")
	return cmd
}

// runHeadless starts one run and blocks until it reaches its budget, the
// duration elapses or ctx is cancelled, then prints the final stats.
func runHeadless(ctx context.Context, out io.Writer, cfg *config.Config, log logging.Logger, duration time.Duration) error {
	ctrl, err := buildController(ctx, cfg, log, nil)
	if err != nil {
		return err
	}

	runID, err := ctrl.Start(ctx)
	if err != nil {
		return err
	}

	waitCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	if err := ctrl.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s stopped (%s)\n", runID, ctrl.Status().LastStop)
	return writeStats(out, ctrl.Stats())
}

func writeStats(out io.Writer, stats core.Stats) error {
	fmt.Fprintf(out, "algorithm: %s  generated: %d  in flight: %d\n",
		stats.Algorithm, stats.TotalGenerated, stats.InFlight)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINK\tTYPE\tROUTE\tWEIGHT\tDELIVERED\tSHARE\tEXPECTED\tSTATUS")
	for _, l := range stats.Links {
		expected, status := "-", "-"
		if l.Theoretical != nil {
			expected = fmt.Sprintf("%.1f%%", *l.Theoretical)
		}
		if l.Classification != "" {
			status = string(l.Classification)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d->%d\t%d\t%d\t%.1f%%\t%s\t%s\n",
			l.LinkID, l.Type, l.Source, l.Target, l.Weight, l.TotalDelivered, l.Percentage, expected, status)
	}
	return tw.Flush()
}
