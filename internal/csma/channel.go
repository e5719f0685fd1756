package csma

import (
	"bytes"
	"net"
	"time"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

type DropReason string

const (
	DropNone     DropReason = ""
	DropQueue    DropReason = "queue_overflow"
	DropWireLoss DropReason = "wire_loss"
)

const (
	mtu          = 1500
	ipHeaderLen  = 20
	ethOverhead  = 18 // DIX header + FCS
	minFrameSize = 64
)

// wireBytes is the number of bytes an IP packet of ipLen occupies on the
// medium, including per-fragment Ethernet overhead and minimum frame padding.
func wireBytes(ipLen int) int {
	payload := ipLen - ipHeaderLen
	per := mtu - ipHeaderLen
	frags := 1
	if payload > per {
		frags = (payload + per - 1) / per
	}
	total := 0
	for i := 0; i < frags; i++ {
		chunk := min(per, payload-i*per)
		f := ipHeaderLen + chunk + ethOverhead
		if f < minFrameSize {
			f = minFrameSize
		}
		total += f
	}
	return total
}

// packet is one IP datagram in flight, carried as a full Ethernet frame.
type packet struct {
	frame  []byte
	ipLen  int
	flow   sim.FlowID
	sentAt time.Duration
}

// channel is a shared medium: one frame at a time, busy for serialization
// plus propagation delay. Backlogged devices get the medium in round-robin
// order once it goes idle.
type channel struct {
	s     *scheduler
	rate  sim.DataRate
	delay time.Duration
	loss  LossModel

	devices []*device
	busy    bool
	last    int

	frames     uint64
	lostFrames uint64
	onLost     func(p *packet)
}

func newChannel(s *scheduler, rate sim.DataRate, delay time.Duration, loss LossModel) *channel {
	return &channel{s: s, rate: rate, delay: delay, loss: loss, last: -1}
}

func (c *channel) attach(d *device) {
	d.index = len(c.devices)
	d.ch = c
	c.devices = append(c.devices, d)
}

func (c *channel) kick() {
	if c.busy {
		return
	}
	n := len(c.devices)
	for i := 1; i <= n; i++ {
		d := c.devices[(c.last+i+n)%n]
		if len(d.queue) > 0 {
			c.last = d.index
			c.transmit(d)
			return
		}
	}
}

func (c *channel) transmit(d *device) {
	p := d.dequeue()
	size := wireBytes(p.ipLen)
	d.sent++
	c.frames++

	lost := false
	if c.loss != nil {
		lost = c.loss.Drop(FrameMeta{At: c.s.Now(), Device: d.index, Frame: d.sent, SizeBytes: size})
	}

	c.busy = true
	c.s.After(c.rate.TxTime(size)+c.delay, func() {
		// frames queued during delivery wait for arbitration
		if lost {
			c.lostFrames++
			if c.onLost != nil {
				c.onLost(p)
			}
		} else {
			c.deliver(d, p)
		}
		c.busy = false
		c.kick()
	})
}

func (c *channel) deliver(from *device, p *packet) {
	for _, d := range c.devices {
		if d != from && d.accepts(p.frame) {
			d.node.input(p)
		}
	}
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// device is a node's attachment to the channel with a DropTail queue.
type device struct {
	index    int
	node     *node
	ch       *channel
	mac      net.HardwareAddr
	capacity int
	queue    []*packet

	sent       uint64
	queueDrops uint64
}

func (d *device) enqueue(p *packet) DropReason {
	if len(d.queue) >= d.capacity {
		d.queueDrops++
		return DropQueue
	}
	d.queue = append(d.queue, p)
	d.ch.kick()
	return DropNone
}

func (d *device) dequeue() *packet {
	p := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return p
}

func (d *device) accepts(frame []byte) bool {
	if len(frame) < 6 {
		return false
	}
	dst := frame[:6]
	return bytes.Equal(dst, d.mac) || bytes.Equal(dst, broadcastMAC)
}
