// Command simulate sweeps CSMA scenarios and packet sizes, running one TCP
// and one UDP flow per combination, and writes per-protocol metrics to CSV.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/lars-sto/csma-flow-simulation/internal/config"
	"github.com/lars-sto/csma-flow-simulation/internal/csma"
	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

var app = &cli.App{
	Name:  "simulate",
	Usage: "Measure TCP and UDP throughput and delivery ratio on a shared CSMA channel.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "experiment YAML `file` (defaults to the built-in experiment)",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "metrics CSV `file`",
		},
		&cli.StringFlag{
			Name:  "flows",
			Usage: "optional per-flow CSV `file` (empty disables)",
		},
		&cli.StringFlag{
			Name:  "scenario",
			Usage: "comma-separated scenario name filters (substring)",
		},
		&cli.IntFlag{
			Name:  "nodes",
			Usage: "number of nodes on the channel",
		},
		&cli.DurationFlag{
			Name:  "sim-time",
			Usage: "simulated time per run",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log `level`, optionally followed by scope overrides, e.g. info,csma=debug",
			Value: "info",
		},
	},
	Action: run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) (err error) {
	lf, err := newLoggerFactory(c.String("log-level"), os.Stderr)
	if err != nil {
		return err
	}

	exp := config.Default()
	if path := c.String("config"); path != "" {
		if exp, err = config.Load(path); err != nil {
			return err
		}
	}
	if c.IsSet("out") {
		exp.Output = c.String("out")
	}
	if c.IsSet("flows") {
		exp.FlowsOutput = c.String("flows")
	}
	if c.IsSet("nodes") {
		exp.Nodes = c.Int("nodes")
	}
	if c.IsSet("sim-time") {
		exp.SimTime = config.Duration(c.Duration("sim-time"))
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	scenarios := filterScenarios(exp.SimScenarios(), parseCSVList(c.String("scenario")))

	engine, err := csma.New(exp.EngineOptions(), lf)
	if err != nil {
		return err
	}
	runner, err := sim.NewRunner(engine, exp.RunOptions(), lf)
	if err != nil {
		return err
	}

	metrics, err := sim.NewMetricsCSVWriter(exp.Output)
	if err != nil {
		return err
	}
	reporters := []sim.Reporter{metrics, sim.NewConsoleReporter(os.Stdout)}
	if exp.FlowsOutput != "" {
		flows, err := sim.NewFlowCSVRecorder(exp.FlowsOutput)
		if err != nil {
			return multierr.Append(err, metrics.Close())
		}
		reporters = append(reporters, flows)
	}
	rep := sim.MultiReporter(reporters...)
	defer func() { err = multierr.Append(err, rep.Close()) }()

	runs, err := sim.NewSweep(runner, rep, lf).Run(scenarios, exp.PacketSizes)
	if err != nil {
		return fmt.Errorf("after %d runs: %w", runs, err)
	}
	lf.NewLogger("sweep").Infof("%d runs written to %s", runs, exp.Output)
	return nil
}

func parseCSVList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// filterScenarios keeps scenarios whose name contains any filter. No
// filters keeps all.
func filterScenarios(scenarios []sim.Scenario, filters []string) []sim.Scenario {
	if len(filters) == 0 {
		return scenarios
	}
	var out []sim.Scenario
	for _, sc := range scenarios {
		for _, sub := range filters {
			if strings.Contains(sc.Name, sub) {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}
