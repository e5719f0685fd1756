package sim

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pion/logging"
	"go.uber.org/multierr"
)

// RunOptions are the per-run constants shared by every RunKey of a sweep.
type RunOptions struct {
	NodeCount int
	SimTime   time.Duration

	// both flows start at FlowStart and stop at SimTime; sinks listen from SinkStart
	FlowStart time.Duration
	SinkStart time.Duration

	// fixed best-effort rate, independent of the scenario channel
	BestEffortRate DataRate
	// on/off cycle of the best-effort source; zero on time sends continuously
	BestEffortOnTime  time.Duration
	BestEffortOffTime time.Duration

	ReliablePort   uint16
	BestEffortPort uint16
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		NodeCount:         5,
		SimTime:           10 * time.Second,
		FlowStart:         time.Second,
		SinkStart:         0,
		BestEffortRate:    100 * Mbps,
		BestEffortOnTime:  time.Second,
		BestEffortOffTime: time.Second,
		ReliablePort:      50000,
		BestEffortPort:    4000,
	}
}

func (o RunOptions) Validate() error {
	switch {
	case o.NodeCount < 2:
		return fmt.Errorf("node count %d: need at least a sender and a sink", o.NodeCount)
	case o.SimTime <= 0:
		return errors.New("simulation time must be positive")
	case o.FlowStart < 0 || o.FlowStart >= o.SimTime:
		return fmt.Errorf("flow start %v outside [0, %v)", o.FlowStart, o.SimTime)
	case o.SinkStart < 0 || o.SinkStart > o.FlowStart:
		return fmt.Errorf("sink start %v must be within [0, %v]", o.SinkStart, o.FlowStart)
	case o.BestEffortRate == 0:
		return errors.New("best-effort rate must be positive")
	case o.BestEffortOnTime < 0 || o.BestEffortOffTime < 0:
		return fmt.Errorf("best-effort on/off periods %v/%v must not be negative", o.BestEffortOnTime, o.BestEffortOffTime)
	case o.ReliablePort == 0 || o.BestEffortPort == 0 || o.ReliablePort == o.BestEffortPort:
		return fmt.Errorf("ports %d/%d must be distinct and nonzero", o.ReliablePort, o.BestEffortPort)
	}
	return nil
}

// Runner turns one RunKey into one engine run and returns its flow table.
type Runner struct {
	engine Engine
	opt    RunOptions
	log    logging.LeveledLogger
}

func NewRunner(engine Engine, opt RunOptions, lf logging.LoggerFactory) (*Runner, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &Runner{engine: engine, opt: opt, log: lf.NewLogger("run")}, nil
}

func (r *Runner) Options() RunOptions { return r.opt }

// Execute configures, runs and tears down one topology. Destroy is called on
// every path once the topology exists.
func (r *Runner) Execute(key RunKey) (records []FlowRecord, err error) {
	opt := r.opt
	if key.PacketSize <= 0 {
		return nil, fmt.Errorf("packet size %d must be positive", key.PacketSize)
	}

	topo, err := r.engine.CreateTopology(opt.NodeCount)
	if err != nil {
		return nil, fmt.Errorf("create topology: %w", err)
	}
	defer func() {
		if derr := topo.Destroy(); derr != nil {
			err = multierr.Append(err, fmt.Errorf("destroy topology: %w", derr))
		}
	}()

	if err := topo.ConfigureChannel(key.Scenario.DataRate, key.Scenario.Delay); err != nil {
		return nil, fmt.Errorf("configure channel: %w", err)
	}

	sender, sink := 0, opt.NodeCount-1
	if err := topo.InstallReliableFlow(ReliableFlow{
		Sender:    sender,
		Sink:      sink,
		Port:      opt.ReliablePort,
		ChunkSize: key.PacketSize,
		MaxBytes:  0,
		Start:     opt.FlowStart,
		Stop:      opt.SimTime,
		SinkStart: opt.SinkStart,
	}); err != nil {
		return nil, fmt.Errorf("install reliable flow: %w", err)
	}
	if err := topo.InstallBestEffortFlow(BestEffortFlow{
		Sender:      sender,
		Sink:        sink,
		Port:        opt.BestEffortPort,
		Rate:        opt.BestEffortRate,
		PayloadSize: key.PacketSize,
		OnTime:      opt.BestEffortOnTime,
		OffTime:     opt.BestEffortOffTime,
		Start:       opt.FlowStart,
		Stop:        opt.SimTime,
		SinkStart:   opt.SinkStart,
	}); err != nil {
		return nil, fmt.Errorf("install best-effort flow: %w", err)
	}

	mon, err := topo.InstallFlowMonitor()
	if err != nil {
		return nil, fmt.Errorf("install flow monitor: %w", err)
	}

	r.log.Debugf("run %s: %d nodes, channel %v/%v, until %v", key, opt.NodeCount, key.Scenario.DataRate, key.Scenario.Delay, opt.SimTime)
	if err := topo.Run(opt.SimTime); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return CollectFlowRecords(mon), nil
}

// CollectFlowRecords joins the monitor's stats with its classifier, ordered
// by flow id. Unclassified flows keep a zero five-tuple.
func CollectFlowRecords(mon FlowMonitor) []FlowRecord {
	stats := mon.FlowStats()
	out := make([]FlowRecord, 0, len(stats))
	for id, st := range stats {
		t, _ := mon.Classify(id)
		out = append(out, FlowRecord{ID: id, Tuple: t, Stats: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
