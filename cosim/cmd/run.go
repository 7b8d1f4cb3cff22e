package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/scenario"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario on every node against a bus mapped memory.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return run(cmd.Context(), cfg, log.StandardLogger())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range scenario.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func init() {
	addRunFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}

// nodeTracers measure the utilization of a node.
type nodeTracers struct {
	busy *tracing.BusyTimeTracer
	avg  *tracing.AverageTimeTracer
}

func run(ctx context.Context, cfg Config, logger *log.Logger) error {
	actor, err := scenario.Lookup(cfg.Scenario, cfg.Scenarios)
	if err != nil {
		return err
	}

	if cfg.ParallelIDs {
		sim.UseParallelIDGenerator()
	}

	engine := sim.NewSerialEngine()
	if logger.IsLevelEnabled(log.TraceLevel) {
		engine.AcceptHook(sim.NewEventLogger(logger))
	}

	b := cfg.builder().
		WithEngine(engine).
		WithTarget(buildTarget(cfg)).
		WithLogger(logger).
		Build("CoSim")

	var monitor *monitoring.Monitor
	var bar *monitoring.ProgressBar

	if cfg.Monitor {
		monitor = monitoring.NewMonitor().
			WithLogger(logger).
			WithPortNumber(cfg.MonitorPort)
		monitor.RegisterEngine(engine)
		monitor.RegisterNodes(b)
		bar = monitor.CreateProgressBar("nodes", uint64(cfg.Nodes))
	}

	for id := 0; id < cfg.Nodes; id++ {
		b.Spawn(id, withProgress(actor, bar))
	}

	tracers := attachTracers(b, engine, cfg, logger)

	if monitor != nil {
		if err := startMonitor(monitor, cfg); err != nil {
			return err
		}

		defer func() {
			monitor.CompleteProgressBar(bar)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := monitor.StopServer(ctx); err != nil {
				logger.WithError(err).Warn("cannot stop the monitoring server")
			}
		}()
	}

	start := time.Now()
	runErr := b.Run(ctx)

	logUtilization(b, tracers, logger, time.Since(start))

	if runErr != nil {
		return runErr
	}

	if !b.Passed() {
		return errFailed
	}

	return nil
}

// buildTarget maps the memory behind the bus. random_bursts gets one region
// per node so that a burst leaving its window fails with mem.ErrUnmapped.
func buildTarget(cfg Config) mem.Target {
	bus := mem.NewBus()

	if cfg.Scenario != "random_bursts" {
		mustMap(bus, mem.Region{
			Name:   "Memory",
			Size:   4 * mem.GB,
			Target: mem.NewStorage(4 * mem.GB),
		})

		return bus
	}

	for id := 0; id < cfg.Nodes; id++ {
		mustMap(bus, mem.Region{
			Name:   fmt.Sprintf("Node[%d]", id),
			Base:   uint64(id) * scenario.NodeRegion,
			Size:   scenario.NodeRegion,
			Target: mem.NewStorage(scenario.NodeRegion),
		})
	}

	return bus
}

func mustMap(bus *mem.Bus, r mem.Region) {
	if err := bus.Map(r); err != nil {
		panic(err)
	}
}

func withProgress(actor scenario.Main, bar *monitoring.ProgressBar) scenario.Main {
	if bar == nil {
		return actor
	}

	return func(n *bridge.Node) error {
		bar.IncrementInProgress(1)
		defer bar.MoveInProgressToFinished(1)

		return actor(n)
	}
}

func attachTracers(
	b *bridge.Bridge,
	engine sim.Engine,
	cfg Config,
	logger *log.Logger,
) map[int]nodeTracers {
	var db *tracing.DBTracer
	if cfg.Record != "" {
		path := cfg.Record
		if path == autoRecord {
			path = ""
		}

		db = tracing.NewDBTracer(engine, datarecording.New(path))
		engine.RegisterSimulationEndHandler(db)
	}

	if logger.IsLevelEnabled(log.DebugLevel) {
		b.AcceptHook(tracing.NewLogHook(logger))
	}

	tracers := make(map[int]nodeTracers)

	for _, n := range b.Nodes() {
		t := nodeTracers{
			busy: tracing.NewBusyTimeTracer(engine, func(task tracing.Task) bool {
				return task.Kind != "idle"
			}),
			avg: tracing.NewAverageTimeTracer(engine, func(task tracing.Task) bool {
				return task.Kind != "idle"
			}),
		}

		tracing.CollectNodeTrace(n, t.busy)
		tracing.CollectNodeTrace(n, t.avg)
		engine.RegisterSimulationEndHandler(t.busy)
		tracers[n.ID()] = t

		if db != nil {
			db.RecordNode(n)
		}
	}

	return tracers
}

func startMonitor(m *monitoring.Monitor, cfg Config) error {
	if err := m.StartServer(); err != nil {
		return err
	}

	if cfg.OpenBrowser {
		if err := m.OpenBrowser(); err != nil {
			log.WithError(err).Warn("cannot open the browser")
		}
	}

	return nil
}

func logUtilization(
	b *bridge.Bridge,
	tracers map[int]nodeTracers,
	logger *log.Logger,
	wall time.Duration,
) {
	now := b.Engine().CurrentTime()

	for _, n := range b.Nodes() {
		t := tracers[n.ID()]

		utilization := 0.0
		if now > 0 {
			utilization = float64(t.busy.BusyTime()) / float64(now)
		}

		logger.WithFields(log.Fields{
			"node":        n.ID(),
			"trans":       t.avg.TotalCount(),
			"avg_cycles":  fmt.Sprintf("%.2f", t.avg.AverageTime()),
			"max_cycles":  t.avg.MaxTime(),
			"utilization": fmt.Sprintf("%.1f%%", 100*utilization),
		}).Info("node utilization")
	}

	logger.WithFields(log.Fields{
		"cycles":    now,
		"simulated": b.Freq().Elapsed(now),
		"wall":      wall.Round(time.Millisecond),
	}).Info("simulation done")
}
