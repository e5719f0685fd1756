package csma

import (
	"time"

	"github.com/google/gopacket/layers"
	"inet.af/netaddr"
)

// TCPConfig holds the transport constants of the reliable flow.
type TCPConfig struct {
	SegmentSize   int // MSS in bytes
	InitialCwnd   int // segments
	RcvBuf        int // bytes; fixed advertised window
	SndBuf        int // bytes the application may have unacknowledged
	InitialRTO    time.Duration
	MinRTO        time.Duration
	MaxRTO        time.Duration
	ConnTimeout   time.Duration
	SynRetries    int
	DelAckCount   int
	DelAckTimeout time.Duration
}

func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		SegmentSize:   536,
		InitialCwnd:   10,
		RcvBuf:        131072,
		SndBuf:        131072,
		InitialRTO:    time.Second,
		MinRTO:        time.Second,
		MaxRTO:        60 * time.Second,
		ConnTimeout:   3 * time.Second,
		SynRetries:    6,
		DelAckCount:   2,
		DelAckTimeout: 200 * time.Millisecond,
	}
}

const advertisedWindow = 65535

var zeroBytes = make([]byte, 65536)

type tcpState int

const (
	tcpClosed tcpState = iota
	tcpSynSent
	tcpEstablished
)

// tcpSender is a bulk-send application over a NewReno sender. Sequence
// numbers are relative: the SYN takes 0, data starts at 1.
type tcpSender struct {
	cfg   TCPConfig
	n     *node
	peer  netaddr.IP
	sport uint16
	dport uint16

	chunk    int
	maxBytes uint64
	written  uint64 // stream bytes handed over by the application
	writes   uint64

	state   tcpState
	stopped bool

	una    uint32
	nxt    uint32
	sndMax uint32

	cwnd     uint32
	ssthresh uint32

	dupAcks    int
	inRecovery bool
	recover    uint32

	rto      time.Duration
	srtt     time.Duration
	rttvar   time.Duration
	rttValid bool
	timing   bool
	timedSeq uint32
	timedAt  time.Duration
	rtoTimer timer

	synRetries int

	segments    uint64
	retransmits uint64
	timeouts    uint64
}

func newTCPSender(n *node, peer netaddr.IP, dport uint16, chunk int, maxBytes uint64, cfg TCPConfig) *tcpSender {
	return &tcpSender{
		cfg:      cfg,
		n:        n,
		peer:     peer,
		sport:    n.allocPort(),
		dport:    dport,
		chunk:    chunk,
		maxBytes: maxBytes,
		rto:      cfg.InitialRTO,
		rtoTimer: timer{s: n.topo.s},
	}
}

func (t *tcpSender) mss() uint32 { return uint32(t.cfg.SegmentSize) }

func (t *tcpSender) Start() {
	if t.stopped {
		return
	}
	t.state = tcpSynSent
	t.sendSYN()
	t.rtoTimer.Reset(t.cfg.ConnTimeout, t.onSynTimeout)
}

func (t *tcpSender) Stop() {
	t.stopped = true
	t.rtoTimer.Stop()
}

func (t *tcpSender) onSynTimeout() {
	if t.state != tcpSynSent || t.stopped {
		return
	}
	t.synRetries++
	if t.synRetries > t.cfg.SynRetries {
		t.state = tcpClosed
		return
	}
	t.sendSYN()
	t.rtoTimer.Reset(t.cfg.ConnTimeout<<t.synRetries, t.onSynTimeout)
}

func (t *tcpSender) sendSYN() {
	t.emit(&layers.TCP{Seq: 0, SYN: true}, nil)
}

func (t *tcpSender) sendPureAck() {
	t.emit(&layers.TCP{Seq: t.nxt, Ack: 1, ACK: true}, nil)
}

func (t *tcpSender) emit(h *layers.TCP, payload []byte) {
	h.SrcPort = layers.TCPPort(t.sport)
	h.DstPort = layers.TCPPort(t.dport)
	h.Window = advertisedWindow
	_ = t.n.sendTCP(t.peer, h, payload)
}

func (t *tcpSender) onSegment(_ netaddr.IP, h *layers.TCP) {
	if t.stopped {
		return
	}
	switch t.state {
	case tcpSynSent:
		if h.SYN && h.ACK && h.Ack == 1 {
			t.establish()
		}
	case tcpEstablished:
		if h.SYN && h.ACK {
			// our handshake ACK was lost
			t.sendPureAck()
			return
		}
		if h.ACK {
			t.onAck(h.Ack)
		}
	}
}

func (t *tcpSender) establish() {
	t.state = tcpEstablished
	t.rtoTimer.Stop()
	t.una, t.nxt, t.sndMax = 1, 1, 1
	t.cwnd = uint32(t.cfg.InitialCwnd) * t.mss()
	t.ssthresh = 1 << 30
	t.rto = t.cfg.InitialRTO
	t.sendPureAck()
	t.sendData()
}

func (t *tcpSender) onAck(ack uint32) {
	if ack > t.sndMax {
		return
	}
	mss := t.mss()

	if ack > t.una {
		acked := ack - t.una
		if t.timing && ack > t.timedSeq {
			t.sampleRTT(t.n.topo.s.Now() - t.timedAt)
			t.timing = false
		}

		t.una = ack
		if t.nxt < t.una {
			t.nxt = t.una
		}
		t.dupAcks = 0

		switch {
		case t.inRecovery && ack >= t.recover:
			t.inRecovery = false
			t.cwnd = t.ssthresh
		case t.inRecovery:
			// partial ack: the next hole is lost too
			t.retransmit(t.una)
			if acked < t.cwnd {
				t.cwnd -= acked
			} else {
				t.cwnd = 0
			}
			t.cwnd += mss
		case t.cwnd < t.ssthresh:
			t.cwnd += min(acked, mss)
		default:
			inc := mss * mss / t.cwnd
			if inc == 0 {
				inc = 1
			}
			t.cwnd += inc
		}

		if t.una == t.sndMax {
			t.rtoTimer.Stop()
		} else {
			t.rtoTimer.Reset(t.rto, t.onRTO)
		}
		t.sendData()
		return
	}

	if ack == t.una && t.una < t.sndMax {
		t.dupAcks++
		switch {
		case !t.inRecovery && t.dupAcks == 3:
			t.ssthresh = max((t.sndMax-t.una)/2, 2*mss)
			t.inRecovery = true
			t.recover = t.sndMax
			t.retransmit(t.una)
			t.cwnd = t.ssthresh + 3*mss
		case t.inRecovery:
			t.cwnd += mss
			t.sendData()
		}
	}
}

func (t *tcpSender) onRTO() {
	if t.state != tcpEstablished || t.stopped || t.una == t.sndMax {
		return
	}
	mss := t.mss()
	t.timeouts++
	t.ssthresh = max((t.sndMax-t.una)/2, 2*mss)
	t.cwnd = mss
	t.nxt = t.una
	t.inRecovery = false
	t.dupAcks = 0
	t.timing = false
	t.rto = min(2*t.rto, t.cfg.MaxRTO)
	t.sendData()
	if !t.rtoTimer.Armed() {
		t.rtoTimer.Reset(t.rto, t.onRTO)
	}
}

// fill lets the application write whole chunks while the send buffer has
// room for them.
func (t *tcpSender) fill() {
	for {
		n := uint64(t.chunk)
		if t.maxBytes > 0 {
			if t.written >= t.maxBytes {
				return
			}
			n = min(n, t.maxBytes-t.written)
		}
		if t.written-uint64(t.una-1)+n > uint64(t.cfg.SndBuf) {
			return
		}
		t.written += n
		t.writes++
	}
}

// segmentLen is the payload length of the segment starting at seq: up to one
// MSS of buffered data, regardless of how it was written.
func (t *tcpSender) segmentLen(seq uint32) uint32 {
	off := uint64(seq - 1)
	if off >= t.written {
		return 0
	}
	return uint32(min(uint64(t.mss()), t.written-off))
}

func (t *tcpSender) sendData() {
	if t.state != tcpEstablished || t.stopped {
		return
	}
	t.fill()
	window := min(t.cwnd, uint32(t.cfg.RcvBuf))
	for {
		flight := t.nxt - t.una
		l := t.segmentLen(t.nxt)
		if l == 0 || (flight > 0 && flight+l > window) {
			break
		}
		if t.nxt == t.sndMax && !t.timing {
			t.timing = true
			t.timedSeq = t.nxt
			t.timedAt = t.n.topo.s.Now()
		}
		t.sendSegment(t.nxt, l)
		t.nxt += l
		if t.nxt > t.sndMax {
			t.sndMax = t.nxt
		}
		if !t.rtoTimer.Armed() {
			t.rtoTimer.Reset(t.rto, t.onRTO)
		}
	}
}

func (t *tcpSender) sendSegment(seq, l uint32) {
	t.segments++
	t.emit(&layers.TCP{Seq: seq, Ack: 1, ACK: true, PSH: true}, zeroBytes[:l])
}

func (t *tcpSender) retransmit(seq uint32) {
	l := min(t.segmentLen(seq), t.sndMax-seq)
	if l == 0 {
		return
	}
	t.retransmits++
	t.timing = false
	t.sendSegment(seq, l)
}

func (t *tcpSender) sampleRTT(r time.Duration) {
	if !t.rttValid {
		t.srtt = r
		t.rttvar = r / 2
		t.rttValid = true
	} else {
		diff := t.srtt - r
		if diff < 0 {
			diff = -diff
		}
		t.rttvar = (3*t.rttvar + diff) / 4
		t.srtt = (7*t.srtt + r) / 8
	}
	rto := t.srtt + max(time.Millisecond, 4*t.rttvar)
	t.rto = min(max(rto, t.cfg.MinRTO), t.cfg.MaxRTO)
}

// tcpSink accepts connections on one port and acknowledges cumulatively
// with delayed ACKs.
type tcpSink struct {
	cfg    TCPConfig
	n      *node
	port   uint16
	active bool
	conns  map[connKey]*tcpConn
}

type connKey struct {
	ip   netaddr.IP
	port uint16
}

type tcpConn struct {
	sink     *tcpSink
	peer     netaddr.IP
	peerPort uint16

	rcvNxt   uint32
	ooo      map[uint32]uint32
	pending  int
	delack   timer
	received uint64
	acks     uint64
}

func newTCPSink(n *node, port uint16, cfg TCPConfig) *tcpSink {
	return &tcpSink{cfg: cfg, n: n, port: port, conns: make(map[connKey]*tcpConn)}
}

func (s *tcpSink) Start() { s.active = true }

func (s *tcpSink) Stop() {
	s.active = false
	for _, c := range s.conns {
		c.delack.Stop()
	}
}

func (s *tcpSink) received() uint64 {
	var n uint64
	for _, c := range s.conns {
		n += c.received
	}
	return n
}

func (s *tcpSink) onSegment(src netaddr.IP, h *layers.TCP) {
	if !s.active {
		return
	}
	key := connKey{ip: src, port: uint16(h.SrcPort)}
	c := s.conns[key]

	if h.SYN && !h.ACK {
		if c == nil {
			c = &tcpConn{
				sink:     s,
				peer:     src,
				peerPort: uint16(h.SrcPort),
				rcvNxt:   1,
				ooo:      make(map[uint32]uint32),
				delack:   timer{s: s.n.topo.s},
			}
			s.conns[key] = c
		}
		s.emit(c, &layers.TCP{Seq: 0, Ack: 1, SYN: true, ACK: true})
		return
	}
	if c == nil || len(h.Payload) == 0 {
		return
	}
	c.onData(h.Seq, uint32(len(h.Payload)))
}

func (c *tcpConn) onData(seq, l uint32) {
	switch {
	case seq == c.rcvNxt:
		hadHole := len(c.ooo) > 0
		c.rcvNxt += l
		c.received += uint64(l)
		for {
			nl, ok := c.ooo[c.rcvNxt]
			if !ok {
				break
			}
			delete(c.ooo, c.rcvNxt)
			c.rcvNxt += nl
			c.received += uint64(nl)
		}
		if hadHole {
			c.ackNow()
			return
		}
		c.pending++
		if c.pending >= c.sink.cfg.DelAckCount {
			c.ackNow()
		} else if !c.delack.Armed() {
			c.delack.Reset(c.sink.cfg.DelAckTimeout, c.ackNow)
		}
	case seq > c.rcvNxt:
		if _, ok := c.ooo[seq]; !ok {
			c.ooo[seq] = l
		}
		c.ackNow()
	default:
		c.ackNow()
	}
}

func (c *tcpConn) ackNow() {
	c.pending = 0
	c.delack.Stop()
	c.acks++
	c.sink.emit(c, &layers.TCP{Seq: 1, Ack: c.rcvNxt, ACK: true})
}

func (s *tcpSink) emit(c *tcpConn, h *layers.TCP) {
	h.SrcPort = layers.TCPPort(s.port)
	h.DstPort = layers.TCPPort(c.peerPort)
	h.Window = advertisedWindow
	_ = s.n.sendTCP(c.peer, h, nil)
}
