// Package csma is an in-process discrete-event engine: hosts on one shared
// CSMA channel running a reliable bulk flow and an on/off datagram flow,
// observed by a five-tuple flow monitor.
package csma

import (
	"errors"
	"fmt"

	"github.com/pion/logging"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

var (
	ErrTopologyActive    = errors.New("previous topology not destroyed")
	ErrNotConfigured     = errors.New("channel not configured")
	ErrChannelConfigured = errors.New("channel already configured")
	ErrAlreadyRun        = errors.New("topology already run")
	ErrDestroyed         = errors.New("topology destroyed")
)

// maxNodes is the number of host addresses in 10.1.1.0/24.
const maxNodes = 254

type Options struct {
	QueueSize int // frames per device queue
	Seed      int64
	Loss      LossSpec
	TCP       TCPConfig
}

func DefaultOptions() Options {
	return Options{
		QueueSize: 100,
		Seed:      1,
		TCP:       DefaultTCPConfig(),
	}
}

func (o Options) Validate() error {
	if o.QueueSize <= 0 {
		return fmt.Errorf("queue size %d must be positive", o.QueueSize)
	}
	if o.TCP.SegmentSize <= 0 || o.TCP.SegmentSize > mtu-ipHeaderLen-tcpHeaderLen {
		return fmt.Errorf("tcp segment size %d out of range", o.TCP.SegmentSize)
	}
	if o.TCP.DelAckCount <= 0 || o.TCP.InitialCwnd <= 0 || o.TCP.RcvBuf <= 0 || o.TCP.SndBuf <= 0 {
		return errors.New("tcp delayed-ack count, initial window and buffers must be positive")
	}
	if o.TCP.MinRTO <= 0 || o.TCP.MaxRTO < o.TCP.MinRTO || o.TCP.InitialRTO <= 0 || o.TCP.ConnTimeout <= 0 {
		return errors.New("tcp timers must be positive and MaxRTO >= MinRTO")
	}
	_, err := NewLossModel(o.Loss, o.Seed)
	return err
}

// Engine hands out one topology at a time.
type Engine struct {
	opt    Options
	log    logging.LeveledLogger
	active *Topology
	built  int
}

func New(opt Options, lf logging.LoggerFactory) (*Engine, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opt: opt, log: lf.NewLogger("csma")}, nil
}

func (e *Engine) CreateTopology(nodeCount int) (sim.Topology, error) {
	if e.active != nil {
		return nil, ErrTopologyActive
	}
	if nodeCount < 2 || nodeCount > maxNodes {
		return nil, fmt.Errorf("node count %d outside [2,%d]", nodeCount, maxNodes)
	}
	t := newTopology(e, nodeCount)
	e.active = t
	e.built++
	e.log.Tracef("topology #%d: %d nodes", e.built, nodeCount)
	return t, nil
}

// Built is the number of topologies created so far.
func (e *Engine) Built() int { return e.built }

func (e *Engine) release(t *Topology) {
	if e.active == t {
		e.active = nil
	}
}
