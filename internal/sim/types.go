package sim

import (
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"inet.af/netaddr"
)

// Transport protocols aggregated per run.
const (
	ProtocolTCP = layers.IPProtocolTCP
	ProtocolUDP = layers.IPProtocolUDP
)

// ProtocolLabel is the name written to the Protocol column.
func ProtocolLabel(p layers.IPProtocol) string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return p.String()
	}
}

// Scenario is a named channel profile applied to one run.
type Scenario struct {
	Name     string
	Delay    time.Duration
	DataRate DataRate
}

// RunKey identifies one independent run.
type RunKey struct {
	Scenario   Scenario
	PacketSize int
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s/%dB", k.Scenario.Name, k.PacketSize)
}

type FlowID uint32

type FiveTuple struct {
	Src      netaddr.IP
	Dst      netaddr.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol layers.IPProtocol
}

func (t FiveTuple) String() string {
	return fmt.Sprintf("%s %s:%d -> %s:%d", ProtocolLabel(t.Protocol), t.Src, t.SrcPort, t.Dst, t.DstPort)
}

// FlowStats are the counters a flow monitor keeps per flow.
// Times are simulated time since the start of the run.
type FlowStats struct {
	TxPackets uint64
	RxPackets uint64
	TxBytes   uint64
	RxBytes   uint64

	TimeFirstTxPacket time.Duration
	TimeLastTxPacket  time.Duration
	TimeFirstRxPacket time.Duration
	TimeLastRxPacket  time.Duration

	DelaySum    time.Duration
	LostPackets uint64
}

type FlowRecord struct {
	ID    FlowID
	Tuple FiveTuple
	Stats FlowStats
}

// ProtocolAggregate is the derived metric set of one protocol in one run.
type ProtocolAggregate struct {
	Protocol layers.IPProtocol
	Flows    int

	TxPackets uint64
	RxPackets uint64

	ThroughputMbps float64
	PDRPercent     float64

	// flows whose rx window has zero length; their throughput term is not finite
	DegenerateFlows int
}

// RunReport is everything reporters receive for one completed run.
type RunReport struct {
	Key   RunKey
	TCP   ProtocolAggregate
	UDP   ProtocolAggregate
	Flows []FlowRecord
}

// ResultRow is the unit written to the metrics CSV.
type ResultRow struct {
	PacketSize int
	Scenario   string
	Protocol   string
	ProtocolAggregate
}

// Rows returns the TCP row followed by the UDP row.
func (r RunReport) Rows() []ResultRow {
	return []ResultRow{
		{PacketSize: r.Key.PacketSize, Scenario: r.Key.Scenario.Name, Protocol: ProtocolLabel(ProtocolTCP), ProtocolAggregate: r.TCP},
		{PacketSize: r.Key.PacketSize, Scenario: r.Key.Scenario.Name, Protocol: ProtocolLabel(ProtocolUDP), ProtocolAggregate: r.UDP},
	}
}
