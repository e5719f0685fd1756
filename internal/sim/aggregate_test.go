package sim_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

func record(id sim.FlowID, proto layers.IPProtocol, st sim.FlowStats) sim.FlowRecord {
	return sim.FlowRecord{ID: id, Tuple: sim.FiveTuple{Src: senderIP, Dst: sinkIP, Protocol: proto}, Stats: st}
}

func TestAggregateSums(t *testing.T) {
	assert := assert.New(t)
	records := []sim.FlowRecord{
		record(1, sim.ProtocolTCP, sim.FlowStats{
			TxPackets: 10, RxPackets: 8, RxBytes: 1_250_000,
			TimeFirstTxPacket: time.Second, TimeLastRxPacket: 3 * time.Second,
		}),
		record(2, sim.ProtocolTCP, sim.FlowStats{
			TxPackets: 4, RxPackets: 4, RxBytes: 250_000,
			TimeFirstTxPacket: time.Second, TimeLastRxPacket: 2 * time.Second,
		}),
		record(3, sim.ProtocolUDP, sim.FlowStats{
			TxPackets: 200, RxPackets: 150, RxBytes: 100_000,
			TimeFirstTxPacket: time.Second, TimeLastRxPacket: 9 * time.Second,
		}),
		record(4, layers.IPProtocolICMPv4, sim.FlowStats{TxPackets: 1000, RxPackets: 1000, RxBytes: 5}),
	}

	tcp, udp := sim.Aggregate(records)

	assert.Equal(sim.ProtocolTCP, tcp.Protocol)
	assert.Equal(2, tcp.Flows)
	assert.Equal(uint64(14), tcp.TxPackets)
	assert.Equal(uint64(12), tcp.RxPackets)
	// 1.25e6*8/2s + 2.5e5*8/1s
	assert.InDelta(5.0+2.0, tcp.ThroughputMbps, 1e-9)
	assert.InDelta(12.0/14.0*100, tcp.PDRPercent, 1e-9)
	assert.Zero(tcp.DegenerateFlows)

	assert.Equal(1, udp.Flows)
	assert.Equal(uint64(200), udp.TxPackets)
	assert.Equal(uint64(150), udp.RxPackets)
	assert.InDelta(0.1, udp.ThroughputMbps, 1e-9)
	assert.InDelta(75.0, udp.PDRPercent, 1e-9)
}

func TestAggregateEmptyProtocol(t *testing.T) {
	tcp, udp := sim.Aggregate(nil)
	assert.Zero(t, tcp.TxPackets)
	assert.Zero(t, tcp.PDRPercent)
	assert.Zero(t, tcp.ThroughputMbps)
	assert.Equal(t, sim.ProtocolUDP, udp.Protocol)
	assert.Zero(t, udp.Flows)
}

func TestPDR(t *testing.T) {
	assert := assert.New(t)
	assert.Zero(sim.PDR(0, 0))
	assert.Zero(sim.PDR(0, 5))
	assert.Equal(100.0, sim.PDR(7, 7))
	assert.Equal(50.0, sim.PDR(10, 5))
	for tx := uint64(1); tx < 50; tx++ {
		for rx := uint64(0); rx <= tx; rx++ {
			p := sim.PDR(tx, rx)
			assert.False(math.IsNaN(p) || math.IsInf(p, 0))
			assert.GreaterOrEqual(p, 0.0)
			assert.LessOrEqual(p, 100.0)
		}
	}
}

func TestAggregateDegenerateWindow(t *testing.T) {
	assert := assert.New(t)

	// one packet received at the instant it was sent
	same := record(1, sim.ProtocolUDP, sim.FlowStats{
		TxPackets: 1, RxPackets: 1, RxBytes: 100,
		TimeFirstTxPacket: time.Second, TimeLastRxPacket: time.Second,
	})
	_, udp := sim.Aggregate([]sim.FlowRecord{same})
	assert.Equal(1, udp.DegenerateFlows)
	assert.True(math.IsInf(udp.ThroughputMbps, 1))
	assert.Equal(100.0, udp.PDRPercent)

	// nothing sent or received at all
	empty := record(2, sim.ProtocolTCP, sim.FlowStats{})
	tcp, _ := sim.Aggregate([]sim.FlowRecord{empty})
	assert.Equal(1, tcp.DegenerateFlows)
	assert.True(math.IsNaN(tcp.ThroughputMbps))
	assert.Zero(tcp.PDRPercent)
}

func TestFlowThroughputNeverReceived(t *testing.T) {
	st := sim.FlowStats{TxPackets: 5, TimeFirstTxPacket: time.Second}
	v := sim.FlowThroughputBps(st)
	assert.Zero(t, v)
	assert.False(t, math.IsNaN(v))
}
