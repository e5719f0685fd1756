package csma

import (
	"time"

	"github.com/pion/rtp"
	"inet.af/netaddr"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

const (
	rtpHeaderLen   = 12
	rtpPayloadType = 96
	rtpClockRate   = 90000
)

// udpSource sends fixed-size datagrams at a constant bit rate during on
// periods. A cycle opens with an off period; a partial interval cut short by
// an off period carries over into the next on period. With a zero on time it
// sends continuously. Datagrams large enough for an RTP header carry one, so
// the sink can count sequence gaps.
type udpSource struct {
	n        *node
	peer     netaddr.IP
	sport    uint16
	dport    uint16
	size     int
	interval time.Duration
	onTime   time.Duration
	offTime  time.Duration

	tx        timer
	phase     timer
	lastStart time.Duration
	residual  time.Duration

	ssrc   uint32
	seq    uint16
	active bool
	sent   uint64
}

func newUDPSource(n *node, peer netaddr.IP, f sim.BestEffortFlow) *udpSource {
	interval := f.Rate.TxTime(f.PayloadSize)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	sport := n.allocPort()
	return &udpSource{
		n:        n,
		peer:     peer,
		sport:    sport,
		dport:    f.Port,
		size:     f.PayloadSize,
		interval: interval,
		onTime:   f.OnTime,
		offTime:  f.OffTime,
		tx:       timer{s: n.topo.s},
		phase:    timer{s: n.topo.s},
		ssrc:     uint32(n.id)<<16 | uint32(sport),
	}
}

func (u *udpSource) Start() {
	if u.active {
		return
	}
	u.active = true
	if u.onTime <= 0 {
		u.startSending()
		return
	}
	u.phase.Reset(u.offTime, u.startSending)
}

func (u *udpSource) Stop() {
	u.active = false
	u.cancel()
	u.phase.Stop()
}

func (u *udpSource) startSending() {
	if !u.active {
		return
	}
	u.lastStart = u.n.topo.s.Now()
	u.scheduleNext()
	if u.onTime > 0 {
		u.phase.Reset(u.onTime, u.stopSending)
	}
}

func (u *udpSource) stopSending() {
	u.cancel()
	u.phase.Reset(u.offTime, u.startSending)
}

// cancel drops the pending datagram and keeps the elapsed part of its
// interval.
func (u *udpSource) cancel() {
	if u.tx.Armed() {
		u.residual += u.n.topo.s.Now() - u.lastStart
		u.tx.Stop()
	}
}

func (u *udpSource) scheduleNext() {
	u.tx.Reset(u.interval-u.residual, u.send)
}

func (u *udpSource) send() {
	if !u.active {
		return
	}
	if err := u.n.sendUDP(u.peer, u.sport, u.dport, u.payload()); err == nil {
		u.sent++
	}
	u.residual = 0
	u.lastStart = u.n.topo.s.Now()
	u.scheduleNext()
}

func (u *udpSource) payload() []byte {
	if u.size < rtpHeaderLen {
		return zeroBytes[:u.size]
	}
	now := u.n.topo.s.Now()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadType,
			SequenceNumber: u.seq,
			Timestamp:      uint32(now * rtpClockRate / time.Second),
			SSRC:           u.ssrc,
		},
		Payload: zeroBytes[:u.size-rtpHeaderLen],
	}
	b, err := pkt.Marshal()
	if err != nil {
		return zeroBytes[:u.size]
	}
	u.seq++
	return b
}

// udpSink counts datagrams and, for RTP-framed ones, sequence gaps.
type udpSink struct {
	n      *node
	port   uint16
	active bool

	received uint64
	bytes    uint64

	framed    uint64
	seen      bool
	cycles    uint32
	lastSeq   uint16
	baseExt   uint32
	maxExt    uint32
	reordered uint64
}

func newUDPSink(n *node, port uint16) *udpSink {
	return &udpSink{n: n, port: port}
}

func (s *udpSink) Start() { s.active = true }
func (s *udpSink) Stop()  { s.active = false }

func (s *udpSink) onDatagram(_ netaddr.IP, _ uint16, payload []byte) {
	if !s.active {
		return
	}
	s.received++
	s.bytes += uint64(len(payload))

	if len(payload) < rtpHeaderLen {
		return
	}
	var h rtp.Header
	if _, err := h.Unmarshal(payload); err != nil {
		return
	}
	s.framed++
	s.track(h.SequenceNumber)
}

func (s *udpSink) track(seq uint16) {
	if !s.seen {
		s.seen = true
		s.lastSeq = seq
		s.baseExt = uint32(seq)
		s.maxExt = uint32(seq)
		return
	}
	if seq < s.lastSeq && s.lastSeq-seq > 0x8000 {
		s.cycles++
	}
	s.lastSeq = seq
	ext := s.cycles<<16 | uint32(seq)
	if ext > s.maxExt {
		s.maxExt = ext
	} else {
		s.reordered++
	}
}

// lost is the number of RTP sequence numbers never seen between the first
// and the highest one received.
func (s *udpSink) lost() uint64 {
	if !s.seen {
		return 0
	}
	expected := uint64(s.maxExt-s.baseExt) + 1
	if expected <= s.framed {
		return 0
	}
	return expected - s.framed
}
