package csma

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"inet.af/netaddr"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

// Monitor observes every IPv4 packet sent or received by any node of one
// topology. Flows are identified by five-tuple and numbered from 1 in the
// order they are first seen.
type Monitor struct {
	t *Topology

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	ids    map[sim.FiveTuple]sim.FlowID
	tuples []sim.FiveTuple
	stats  []sim.FlowStats

	unclassified uint64
}

func newMonitor(t *Topology) *Monitor {
	m := &Monitor{t: t, ids: make(map[sim.FiveTuple]sim.FlowID)}
	m.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &m.eth, &m.ip4, &m.tcp, &m.udp, &m.payload)
	m.parser.IgnoreUnsupported = true
	return m
}

// classify decodes the frame and extracts its five-tuple.
func (m *Monitor) classify(frame []byte) (sim.FiveTuple, bool) {
	m.decoded = m.decoded[:0]
	if err := m.parser.DecodeLayers(frame, &m.decoded); err != nil {
		return sim.FiveTuple{}, false
	}
	var ft sim.FiveTuple
	hasIP := false
	for _, lt := range m.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			hasIP = true
			ft.Src, _ = netaddr.FromStdIP(m.ip4.SrcIP)
			ft.Dst, _ = netaddr.FromStdIP(m.ip4.DstIP)
			ft.Protocol = m.ip4.Protocol
		case layers.LayerTypeTCP:
			ft.SrcPort, ft.DstPort = uint16(m.tcp.SrcPort), uint16(m.tcp.DstPort)
		case layers.LayerTypeUDP:
			ft.SrcPort, ft.DstPort = uint16(m.udp.SrcPort), uint16(m.udp.DstPort)
		}
	}
	return ft, hasIP
}

func (m *Monitor) onTx(p *packet) {
	ft, ok := m.classify(p.frame)
	if !ok {
		m.unclassified++
		return
	}
	id, ok := m.ids[ft]
	if !ok {
		m.tuples = append(m.tuples, ft)
		m.stats = append(m.stats, sim.FlowStats{})
		id = sim.FlowID(len(m.tuples))
		m.ids[ft] = id
	}

	now := m.t.s.Now()
	p.flow = id
	p.sentAt = now

	st := &m.stats[id-1]
	if st.TxPackets == 0 {
		st.TimeFirstTxPacket = now
	}
	st.TimeLastTxPacket = now
	st.TxPackets++
	st.TxBytes += uint64(p.ipLen)
}

func (m *Monitor) onRx(p *packet) {
	if p.flow == 0 {
		return
	}
	now := m.t.s.Now()
	st := &m.stats[p.flow-1]
	if st.RxPackets == 0 {
		st.TimeFirstRxPacket = now
	}
	st.TimeLastRxPacket = now
	st.RxPackets++
	st.RxBytes += uint64(p.ipLen)
	st.DelaySum += now - p.sentAt
}

func (m *Monitor) onDrop(p *packet) {
	if p.flow == 0 {
		return
	}
	m.stats[p.flow-1].LostPackets++
}

// FlowStats returns a snapshot of the per-flow counters.
func (m *Monitor) FlowStats() map[sim.FlowID]sim.FlowStats {
	out := make(map[sim.FlowID]sim.FlowStats, len(m.stats))
	for i, st := range m.stats {
		out[sim.FlowID(i+1)] = st
	}
	return out
}

func (m *Monitor) Classify(id sim.FlowID) (sim.FiveTuple, bool) {
	if id == 0 || int(id) > len(m.tuples) {
		return sim.FiveTuple{}, false
	}
	return m.tuples[id-1], true
}
