package sim

import (
	"github.com/google/gopacket/layers"
)

// FlowThroughputBps is rxBytes*8 over the window from the first transmitted
// to the last received packet. A zero-length window is not guarded: the
// result is +Inf or NaN and the flow is reported as degenerate.
func FlowThroughputBps(s FlowStats) float64 {
	window := (s.TimeLastRxPacket - s.TimeFirstTxPacket).Seconds()
	return float64(s.RxBytes) * 8 / window
}

// AggregateProtocol sums the records of one protocol into a fresh aggregate.
func AggregateProtocol(proto layers.IPProtocol, records []FlowRecord) ProtocolAggregate {
	agg := ProtocolAggregate{Protocol: proto}
	for _, r := range records {
		if r.Tuple.Protocol != proto {
			continue
		}
		agg.Flows++
		agg.TxPackets += r.Stats.TxPackets
		agg.RxPackets += r.Stats.RxPackets
		if r.Stats.TimeLastRxPacket == r.Stats.TimeFirstTxPacket {
			agg.DegenerateFlows++
		}
		agg.ThroughputMbps += FlowThroughputBps(r.Stats) / 1e6
	}
	agg.PDRPercent = PDR(agg.TxPackets, agg.RxPackets)
	return agg
}

// Aggregate returns the TCP and UDP aggregates of one run. Records of any
// other protocol are ignored.
func Aggregate(records []FlowRecord) (tcp, udp ProtocolAggregate) {
	return AggregateProtocol(ProtocolTCP, records), AggregateProtocol(ProtocolUDP, records)
}

// PDR is the delivery ratio in percent, 0 when nothing was sent.
func PDR(tx, rx uint64) float64 {
	if tx == 0 {
		return 0
	}
	return float64(rx) / float64(tx) * 100
}
