package sim

import "time"

// Engine provisions one fresh topology per run. Implementations own all
// simulated state; the sweep only sees the calls below and the flow table.
type Engine interface {
	CreateTopology(nodeCount int) (Topology, error)
}

// Topology is the run-scoped handle returned by an Engine.
type Topology interface {
	ConfigureChannel(rate DataRate, delay time.Duration) error
	InstallReliableFlow(f ReliableFlow) error
	InstallBestEffortFlow(f BestEffortFlow) error
	InstallFlowMonitor() (FlowMonitor, error)

	// Run blocks until simulated time reaches stop.
	Run(stop time.Duration) error

	// Destroy releases all run-scoped state. It must be safe to call after a
	// failed configuration step.
	Destroy() error
}

// FlowMonitor exposes what was observed during a run.
type FlowMonitor interface {
	FlowStats() map[FlowID]FlowStats
	Classify(id FlowID) (FiveTuple, bool)
}

// ReliableFlow is an unbounded bulk transfer with a fixed application chunk.
type ReliableFlow struct {
	Sender    int
	Sink      int
	Port      uint16
	ChunkSize int
	MaxBytes  uint64 // 0 means unbounded
	Start     time.Duration
	Stop      time.Duration
	SinkStart time.Duration
}

// BestEffortFlow is an on/off datagram flow sending at Rate while on. Each
// cycle begins with OffTime idle; OnTime zero means always on.
type BestEffortFlow struct {
	Sender      int
	Sink        int
	Port        uint16
	Rate        DataRate
	PayloadSize int
	OnTime      time.Duration
	OffTime     time.Duration
	Start       time.Duration
	Stop        time.Duration
	SinkStart   time.Duration
}
