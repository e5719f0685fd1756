package csma

import (
	"fmt"
	"time"

	"github.com/pion/logging"
	"inet.af/netaddr"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

type application interface {
	Start()
	Stop()
}

type appSchedule struct {
	app         application
	start, stop time.Duration
}

// Topology is one run's set of nodes on a single CSMA channel. It
// implements sim.Topology.
type Topology struct {
	eng *Engine
	log logging.LeveledLogger
	s   *scheduler

	nodes []*node
	byIP  map[netaddr.IP]*node
	ch    *channel
	mon   *Monitor
	apps  []appSchedule

	tcpSenders []*tcpSender
	tcpSinks   []*tcpSink
	udpSources []*udpSource
	udpSinks   []*udpSink

	ran       bool
	destroyed bool
}

func newTopology(e *Engine, nodeCount int) *Topology {
	t := &Topology{
		eng:  e,
		log:  e.log,
		s:    newScheduler(),
		byIP: make(map[netaddr.IP]*node, nodeCount),
	}
	for i := 0; i < nodeCount; i++ {
		t.nodes = append(t.nodes, newNode(t, i))
	}
	return t
}

func (t *Topology) usable() error {
	switch {
	case t.destroyed:
		return ErrDestroyed
	case t.ran:
		return ErrAlreadyRun
	}
	return nil
}

// ConfigureChannel attaches every node to one shared channel and assigns
// addresses from 10.1.1.0/24.
func (t *Topology) ConfigureChannel(rate sim.DataRate, delay time.Duration) error {
	if err := t.usable(); err != nil {
		return err
	}
	if t.ch != nil {
		return ErrChannelConfigured
	}
	if rate == 0 {
		return fmt.Errorf("channel data rate must be positive")
	}
	if delay < 0 {
		return fmt.Errorf("channel delay %v is negative", delay)
	}
	loss, err := NewLossModel(t.eng.opt.Loss, t.eng.opt.Seed)
	if err != nil {
		return err
	}

	ch := newChannel(t.s, rate, delay, loss)
	ch.onLost = t.probeDrop
	for _, n := range t.nodes {
		if err := n.assignAddress(); err != nil {
			return err
		}
		n.dev = &device{node: n, mac: n.mac, capacity: t.eng.opt.QueueSize}
		ch.attach(n.dev)
		t.byIP[n.ip] = n
	}
	t.ch = ch
	return nil
}

func (t *Topology) endpoints(sender, sink int) (*node, *node, error) {
	if err := t.usable(); err != nil {
		return nil, nil, err
	}
	if t.ch == nil {
		return nil, nil, ErrNotConfigured
	}
	if sender < 0 || sender >= len(t.nodes) || sink < 0 || sink >= len(t.nodes) {
		return nil, nil, fmt.Errorf("nodes %d->%d outside [0,%d)", sender, sink, len(t.nodes))
	}
	if sender == sink {
		return nil, nil, fmt.Errorf("sender and sink are both node %d", sender)
	}
	return t.nodes[sender], t.nodes[sink], nil
}

func (t *Topology) InstallReliableFlow(f sim.ReliableFlow) error {
	src, dst, err := t.endpoints(f.Sender, f.Sink)
	if err != nil {
		return err
	}
	if f.ChunkSize <= 0 || f.ChunkSize > t.eng.opt.TCP.SndBuf {
		return fmt.Errorf("chunk size %d outside (0, %d]", f.ChunkSize, t.eng.opt.TCP.SndBuf)
	}
	if f.Stop <= f.Start {
		return fmt.Errorf("reliable flow stops at %v before it starts at %v", f.Stop, f.Start)
	}

	cfg := t.eng.opt.TCP
	sink := newTCPSink(dst, f.Port, cfg)
	if err := dst.bindTCP(f.Port, sink.onSegment); err != nil {
		return err
	}
	sender := newTCPSender(src, dst.ip, f.Port, f.ChunkSize, f.MaxBytes, cfg)
	if err := src.bindTCP(sender.sport, sender.onSegment); err != nil {
		return err
	}

	t.tcpSinks = append(t.tcpSinks, sink)
	t.tcpSenders = append(t.tcpSenders, sender)
	t.apps = append(t.apps,
		appSchedule{app: sink, start: f.SinkStart, stop: f.Stop},
		appSchedule{app: sender, start: f.Start, stop: f.Stop},
	)
	return nil
}

func (t *Topology) InstallBestEffortFlow(f sim.BestEffortFlow) error {
	src, dst, err := t.endpoints(f.Sender, f.Sink)
	if err != nil {
		return err
	}
	if f.PayloadSize <= 0 || f.PayloadSize > len(zeroBytes)-udpHeaderLen-ipHeaderLen {
		return fmt.Errorf("payload size %d out of range", f.PayloadSize)
	}
	if f.Rate == 0 {
		return fmt.Errorf("best-effort rate must be positive")
	}
	if f.Stop <= f.Start {
		return fmt.Errorf("best-effort flow stops at %v before it starts at %v", f.Stop, f.Start)
	}
	if f.OnTime < 0 || f.OffTime < 0 {
		return fmt.Errorf("on/off periods %v/%v must not be negative", f.OnTime, f.OffTime)
	}

	sink := newUDPSink(dst, f.Port)
	if err := dst.bindUDP(f.Port, sink.onDatagram); err != nil {
		return err
	}
	source := newUDPSource(src, dst.ip, f)
	if err := src.bindUDP(source.sport, func(netaddr.IP, uint16, []byte) {}); err != nil {
		return err
	}

	t.udpSinks = append(t.udpSinks, sink)
	t.udpSources = append(t.udpSources, source)
	t.apps = append(t.apps,
		appSchedule{app: sink, start: f.SinkStart, stop: f.Stop},
		appSchedule{app: source, start: f.Start, stop: f.Stop},
	)
	return nil
}

// InstallFlowMonitor installs probes on every node. Installing again returns
// the same monitor.
func (t *Topology) InstallFlowMonitor() (sim.FlowMonitor, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if t.mon == nil {
		t.mon = newMonitor(t)
	}
	return t.mon, nil
}

func (t *Topology) probeTx(p *packet) {
	if t.mon != nil {
		t.mon.onTx(p)
	}
}

func (t *Topology) probeRx(p *packet) {
	if t.mon != nil {
		t.mon.onRx(p)
	}
}

func (t *Topology) probeDrop(p *packet) {
	if t.mon != nil {
		t.mon.onDrop(p)
	}
}

// Run schedules all applications and advances simulated time to stop.
func (t *Topology) Run(stop time.Duration) error {
	if err := t.usable(); err != nil {
		return err
	}
	if t.ch == nil {
		return ErrNotConfigured
	}
	if stop <= 0 {
		return fmt.Errorf("stop time %v must be positive", stop)
	}
	t.ran = true

	for _, as := range t.apps {
		as := as
		t.s.At(as.start, as.app.Start)
		t.s.At(as.stop, as.app.Stop)
	}

	began := time.Now()
	t.s.Run(stop)
	t.log.Debugf("simulated %v in %v: %d events, %d frames, %d lost on wire",
		stop, time.Since(began).Round(time.Millisecond), t.s.done, t.ch.frames, t.ch.lostFrames)
	t.logCounters()
	return nil
}

func (t *Topology) logCounters() {
	for _, n := range t.nodes {
		if n.txDropped > 0 || n.rxErrors > 0 {
			t.log.Debugf("node %d (%s): %d queue drops, %d rx errors", n.id, n.ip, n.txDropped, n.rxErrors)
		}
	}
	for _, s := range t.tcpSenders {
		t.log.Debugf("tcp %s:%d: %d writes, %d segments, %d retransmits, %d timeouts, cwnd %d, rto %v",
			s.n.ip, s.sport, s.writes, s.segments, s.retransmits, s.timeouts, s.cwnd, s.rto)
	}
	for _, s := range t.tcpSinks {
		t.log.Debugf("tcp sink :%d: %d bytes delivered", s.port, s.received())
	}
	for _, s := range t.udpSources {
		t.log.Debugf("udp %s:%d: %d datagrams sent", s.n.ip, s.sport, s.sent)
	}
	for _, s := range t.udpSinks {
		t.log.Debugf("udp sink :%d: %d datagrams, %d sequence gaps, %d reordered", s.port, s.received, s.lost(), s.reordered)
	}
}

// Destroy drops all run state and frees the engine for the next topology.
// The monitor keeps its counters.
func (t *Topology) Destroy() error {
	if t.destroyed {
		return nil
	}
	t.destroyed = true
	t.s.reset()
	t.nodes = nil
	t.byIP = nil
	t.ch = nil
	t.apps = nil
	t.tcpSenders, t.tcpSinks, t.udpSources, t.udpSinks = nil, nil, nil, nil
	t.eng.release(t)
	return nil
}
