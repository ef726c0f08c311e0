package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/parcel-positioning/internal/config"
	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/observability"
	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
	"github.com/signalsfoundry/parcel-positioning/internal/scenario"
)

type replayOptions struct {
	Live        bool
	Quiet       bool
	NoCheck     bool
	MetricsAddr string
	Skip        []string
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Replay scenarios through the positioning cascade",
	Long: "Replays each scenario in simulated time (or wall-clock time with --live), prints the " +
		"events the orchestrator emits and fails when a scenario's expectations are not met.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cmd.OutOrStdout(), cfg, logger, args, replayOpts)
	},
}

func init() {
	f := replayCmd.Flags()
	f.BoolVar(&replayOpts.Live, "live", false, "run in wall-clock time through the concurrent engine")
	f.BoolVarP(&replayOpts.Quiet, "quiet", "q", false, "print only the per-scenario summary")
	f.BoolVar(&replayOpts.NoCheck, "no-check", false, "do not fail on unmet expectations")
	f.StringVar(&replayOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	f.StringSliceVar(&replayOpts.Skip, "skip", nil, "strategies to leave out of the cascade (overrides positioning.skip)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, out io.Writer, cfg *config.Config, log logging.Logger, paths []string, opts replayOptions) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Noop()
	}
	posCfg := cfg.Positioning
	if opts.Skip != nil {
		posCfg.Skip = opts.Skip
		if err := posCfg.Validate(); err != nil {
			return eris.Wrap(err, "--skip")
		}
	}

	shutdown, err := observability.InitTracing(ctx, cfg.TracingSetup(), log)
	if err != nil {
		return eris.Wrap(err, "init tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewPositioningCollector(prometheus.NewRegistry())
	if err != nil {
		return eris.Wrap(err, "init metrics")
	}
	addr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if srv := serveMetrics(addr, cfg.Metrics.Path, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	failed := 0
	for _, path := range paths {
		sc, err := scenario.LoadFile(path)
		if err != nil {
			return err
		}

		start := sc.Start
		if opts.Live {
			start = time.Now()
		}
		runOpts := scenario.Options{
			Config:       posCfg,
			Logger:       log.With(logging.String("scenario", sc.Name)),
			Metrics:      collector,
			Tracer:       otel.Tracer("parcel-sim"),
			Tick:         cfg.Replay.Tick,
			PollInterval: cfg.Replay.PollInterval,
			FrameMetrics: collector,
		}
		if !opts.Quiet {
			fmt.Fprintf(out, "== %s (%s)\n", sc.Name, path)
			runOpts.Observer = positioning.EventSinkFunc(func(ev positioning.Event) {
				fmt.Fprintf(out, "%10s  %s\n", ev.At.Sub(start).Round(time.Millisecond), ev)
			})
		}

		var res *scenario.Result
		if opts.Live {
			res, err = scenario.RunLive(ctx, sc, runOpts)
		} else {
			res, err = scenario.Replay(ctx, sc, runOpts)
		}
		if err != nil {
			return eris.Wrapf(err, "scenario %s", path)
		}

		printSummary(out, sc, res)
		if opts.NoCheck {
			continue
		}
		if err := res.Check(sc.Expect); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s:\n%v\n", sc.Name, err)
		}
	}

	if failed > 0 {
		return eris.Errorf("%d of %d scenarios did not meet their expectations", failed, len(paths))
	}
	return nil
}

func printSummary(out io.Writer, sc *scenario.Scenario, res *scenario.Result) {
	ev, ok := res.FirstPlacement()
	if !ok {
		fmt.Fprintf(out, "%s: not positioned after %s; tried %v, resting in %s (%s)\n",
			sc.Name, sc.Duration, res.Methods(), res.Final.Active, res.Final.State)
	} else {
		took, _ := res.TimeToPosition()
		fmt.Fprintf(out, "%s: positioned by %s after %s; tried %v; %s\n",
			sc.Name, ev.Kind, took.Round(time.Millisecond), res.Methods(), res.Final.Transform)
	}
	for _, err := range res.StepErrors {
		fmt.Fprintf(out, "  rejected: %v\n", err)
	}
}
