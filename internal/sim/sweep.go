package sim

import (
	"fmt"
	"time"

	"github.com/pion/logging"
)

// Sweep runs every (scenario, packet size) pair once, scenario-major, and
// hands each run's aggregates to the reporter.
type Sweep struct {
	runner   *Runner
	reporter Reporter
	log      logging.LeveledLogger
}

func NewSweep(runner *Runner, reporter Reporter, lf logging.LoggerFactory) *Sweep {
	return &Sweep{runner: runner, reporter: reporter, log: lf.NewLogger("sweep")}
}

// Run stops at the first failing run. Reports of completed runs have
// already been emitted at that point.
func (s *Sweep) Run(scenarios []Scenario, packetSizes []int) (runs int, err error) {
	if len(scenarios) == 0 || len(packetSizes) == 0 {
		s.log.Warnf("nothing to run: %d scenarios, %d packet sizes", len(scenarios), len(packetSizes))
		return 0, nil
	}

	for _, sc := range scenarios {
		for _, size := range packetSizes {
			key := RunKey{Scenario: sc, PacketSize: size}
			s.log.Infof("running simulation with packet size %d bytes in scenario %s", size, sc.Name)
			began := time.Now()

			records, err := s.runner.Execute(key)
			if err != nil {
				return runs, fmt.Errorf("run %s: %w", key, err)
			}

			tcp, udp := Aggregate(records)
			for _, agg := range []ProtocolAggregate{tcp, udp} {
				if agg.DegenerateFlows > 0 {
					s.log.Warnf("run %s: %d %s flow(s) with zero-length rx window, throughput is not finite",
						key, agg.DegenerateFlows, ProtocolLabel(agg.Protocol))
				}
			}

			if err := s.reporter.OnRun(RunReport{Key: key, TCP: tcp, UDP: udp, Flows: records}); err != nil {
				return runs, fmt.Errorf("report %s: %w", key, err)
			}
			runs++
			s.log.Infof("simulation completed for packet size %d bytes, scenario %s (%d flows, %v)",
				size, sc.Name, len(records), time.Since(began).Round(time.Millisecond))
		}
	}
	return runs, nil
}
