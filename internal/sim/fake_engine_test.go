package sim_test

import (
	"errors"
	"time"

	"inet.af/netaddr"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

var (
	senderIP = netaddr.MustParseIP("10.1.1.1")
	sinkIP   = netaddr.MustParseIP("10.1.1.5")
)

// fakeEngine hands out scripted topologies and records every call.
type fakeEngine struct {
	created   int
	destroyed int
	active    bool

	calls      []string
	channels   []channelCall
	reliable   []sim.ReliableFlow
	bestEffort []sim.BestEffortFlow
	stops      []time.Duration

	// failRun makes the n-th topology (1-based) fail in Run.
	failRun       int
	failConfigure bool
	destroyErr    error

	// records returns the flow table of a run.
	records func(rate sim.DataRate, packetSize int) map[sim.FlowID]fakeFlow
}

type channelCall struct {
	Rate  sim.DataRate
	Delay time.Duration
}

type fakeFlow struct {
	tuple sim.FiveTuple
	stats sim.FlowStats
}

var errFakeRun = errors.New("fake run failure")

func (e *fakeEngine) CreateTopology(n int) (sim.Topology, error) {
	if e.active {
		return nil, errors.New("topology leak")
	}
	e.active = true
	e.created++
	e.calls = append(e.calls, "create")
	return &fakeTopology{e: e, n: e.created}, nil
}

type fakeTopology struct {
	e    *fakeEngine
	n    int
	rate sim.DataRate
	size int
}

func (t *fakeTopology) ConfigureChannel(rate sim.DataRate, delay time.Duration) error {
	t.e.calls = append(t.e.calls, "channel")
	if t.e.failConfigure {
		return errors.New("bad channel")
	}
	t.rate = rate
	t.e.channels = append(t.e.channels, channelCall{Rate: rate, Delay: delay})
	return nil
}

func (t *fakeTopology) InstallReliableFlow(f sim.ReliableFlow) error {
	t.e.calls = append(t.e.calls, "reliable")
	t.e.reliable = append(t.e.reliable, f)
	t.size = f.ChunkSize
	return nil
}

func (t *fakeTopology) InstallBestEffortFlow(f sim.BestEffortFlow) error {
	t.e.calls = append(t.e.calls, "besteffort")
	t.e.bestEffort = append(t.e.bestEffort, f)
	return nil
}

func (t *fakeTopology) InstallFlowMonitor() (sim.FlowMonitor, error) {
	t.e.calls = append(t.e.calls, "monitor")
	return t, nil
}

func (t *fakeTopology) Run(stop time.Duration) error {
	t.e.calls = append(t.e.calls, "run")
	t.e.stops = append(t.e.stops, stop)
	if t.e.failRun == t.n {
		return errFakeRun
	}
	return nil
}

func (t *fakeTopology) Destroy() error {
	t.e.calls = append(t.e.calls, "destroy")
	t.e.active = false
	t.e.destroyed++
	return t.e.destroyErr
}

func (t *fakeTopology) flows() map[sim.FlowID]fakeFlow {
	if t.e.records == nil {
		return defaultFlows(t.size)
	}
	return t.e.records(t.rate, t.size)
}

func (t *fakeTopology) FlowStats() map[sim.FlowID]sim.FlowStats {
	out := make(map[sim.FlowID]sim.FlowStats)
	for id, f := range t.flows() {
		out[id] = f.stats
	}
	return out
}

func (t *fakeTopology) Classify(id sim.FlowID) (sim.FiveTuple, bool) {
	f, ok := t.flows()[id]
	return f.tuple, ok && f.tuple.Protocol != 0
}

// defaultFlows is one TCP data flow, its ACK flow and one UDP flow, with
// counters derived from the packet size so runs are distinguishable.
func defaultFlows(size int) map[sim.FlowID]fakeFlow {
	s := uint64(size)
	return map[sim.FlowID]fakeFlow{
		1: {
			tuple: sim.FiveTuple{Src: senderIP, Dst: sinkIP, SrcPort: 49153, DstPort: 50000, Protocol: sim.ProtocolTCP},
			stats: sim.FlowStats{
				TxPackets: 100 + s, RxPackets: 90 + s, RxBytes: 1_000_000,
				TimeFirstTxPacket: time.Second, TimeLastRxPacket: 9 * time.Second,
			},
		},
		2: {
			tuple: sim.FiveTuple{Src: sinkIP, Dst: senderIP, SrcPort: 50000, DstPort: 49153, Protocol: sim.ProtocolTCP},
			stats: sim.FlowStats{
				TxPackets: 50, RxPackets: 50, RxBytes: 0,
				TimeFirstTxPacket: time.Second, TimeLastRxPacket: 9 * time.Second,
			},
		},
		3: {
			tuple: sim.FiveTuple{Src: senderIP, Dst: sinkIP, SrcPort: 49154, DstPort: 4000, Protocol: sim.ProtocolUDP},
			stats: sim.FlowStats{
				TxPackets: 1000, RxPackets: 500, RxBytes: 2_000_000,
				TimeFirstTxPacket: time.Second, TimeLastRxPacket: 5 * time.Second,
			},
		},
	}
}
