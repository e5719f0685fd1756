package sim

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const consoleRule = "============================================="

// ConsoleReporter prints one human-readable block per run.
type ConsoleReporter struct {
	w io.Writer
}

func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (c *ConsoleReporter) OnRun(r RunReport) error {
	b := bufio.NewWriter(c.w)
	fmt.Fprintln(b, consoleRule)
	fmt.Fprintf(b, "Simulation Results for PacketSize = %d bytes\n", r.Key.PacketSize)
	fmt.Fprintf(b, "               Scenario = %s\n", r.Key.Scenario.Name)
	fmt.Fprintln(b, consoleRule)
	for _, agg := range []ProtocolAggregate{r.TCP, r.UDP} {
		writeProtocolBlock(b, agg)
	}
	return b.Flush()
}

func writeProtocolBlock(b *bufio.Writer, agg ProtocolAggregate) {
	fmt.Fprintf(b, "%s%s:\n", strings.Repeat(" ", 20), ProtocolLabel(agg.Protocol))
	fmt.Fprintf(b, "       Transmitted Packets:   %d\n", agg.TxPackets)
	fmt.Fprintf(b, "       Received Packets:      %d\n", agg.RxPackets)
	fmt.Fprintf(b, "       Throughput:            %s Mbps\n", f2(agg.ThroughputMbps))
	fmt.Fprintf(b, "       Packet Delivery Ratio: %s %%\n", f2(agg.PDRPercent))
}

func (c *ConsoleReporter) Close() error { return nil }
