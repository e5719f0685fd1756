package sim_test

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

func sampleReport(size int) sim.RunReport {
	records := make([]sim.FlowRecord, 0, 3)
	for id, f := range defaultFlows(size) {
		records = append(records, sim.FlowRecord{ID: id, Tuple: f.tuple, Stats: f.stats})
	}
	tcp, udp := sim.Aggregate(records)
	return sim.RunReport{
		Key:   sim.RunKey{Scenario: sim.DefaultScenarios()[0], PacketSize: size},
		TCP:   tcp,
		UDP:   udp,
		Flows: records,
	}
}

func TestMetricsCSVWriterFormatting(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "m.csv")
	w, err := sim.NewMetricsCSVWriter(path)
	require.NoError(err)

	// header is on disk before any row
	b, err := os.ReadFile(path)
	require.NoError(err)
	assert.Equal("PacketSize,Scenario,Protocol,TxPackets,RxPackets,ThroughputMbps,PDR\n", string(b))

	require.NoError(w.WriteRow(sim.ResultRow{
		PacketSize: 128, Scenario: "congest", Protocol: "UDP",
		ProtocolAggregate: sim.ProtocolAggregate{TxPackets: 3, RxPackets: 1, ThroughputMbps: 12.346, PDRPercent: 100.0 / 3},
	}))
	require.NoError(w.WriteRow(sim.ResultRow{
		PacketSize: 64, Scenario: "ideal", Protocol: "TCP",
		ProtocolAggregate: sim.ProtocolAggregate{ThroughputMbps: math.Copysign(0, -1)},
	}))
	require.NoError(w.Close())

	b, err = os.ReadFile(path)
	require.NoError(err)
	rows, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	require.NoError(err)
	require.Len(rows, 3)
	assert.Equal([]string{"128", "congest", "UDP", "3", "1", "12.35", "33.33"}, rows[1])
	assert.Equal([]string{"64", "ideal", "TCP", "0", "0", "0.00", "0.00"}, rows[2])
}

func TestMetricsCSVWriterOnRunFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.csv")
	w, err := sim.NewMetricsCSVWriter(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.OnRun(sampleReport(256)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "256,ideal,TCP,406,396,1.00,97.54", lines[1])
	assert.Equal(t, "256,ideal,UDP,1000,500,4.00,50.00", lines[2])
}

func TestMetricsCSVWriterBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := sim.NewMetricsCSVWriter(filepath.Join(blocker, "m.csv"))
	assert.Error(t, err)
}

func TestFlowCSVRecorderHeaderWriteFails(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full")
	}
	_, err := sim.NewFlowCSVRecorder("/dev/full")
	assert.Error(t, err)

	_, err = sim.NewMetricsCSVWriter("/dev/full")
	assert.Error(t, err)
}

func TestFlowCSVRecorderHeaderOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.csv")
	r, err := sim.NewFlowCSVRecorder(path)
	require.NoError(t, err)
	defer r.Close()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "packet_size,scenario,flow_id,"))
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	c := sim.NewConsoleReporter(&buf)
	require.NoError(t, c.OnRun(sampleReport(1024)))
	require.NoError(t, c.Close())

	want := strings.Join([]string{
		"=============================================",
		"Simulation Results for PacketSize = 1024 bytes",
		"               Scenario = ideal",
		"=============================================",
		"                    TCP:",
		"       Transmitted Packets:   1174",
		"       Received Packets:      1164",
		"       Throughput:            1.00 Mbps",
		"       Packet Delivery Ratio: 99.15 %",
		"                    UDP:",
		"       Transmitted Packets:   1000",
		"       Received Packets:      500",
		"       Throughput:            4.00 Mbps",
		"       Packet Delivery Ratio: 50.00 %",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestFlowCSVRecorder(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "flows", "f.csv")
	r, err := sim.NewFlowCSVRecorder(path)
	require.NoError(err)

	rep := sampleReport(64)
	rep.Flows = []sim.FlowRecord{{
		ID:    1,
		Tuple: sim.FiveTuple{Src: senderIP, Dst: sinkIP, SrcPort: 49154, DstPort: 4000, Protocol: sim.ProtocolUDP},
		Stats: sim.FlowStats{
			TxPackets: 4, RxPackets: 2, TxBytes: 400, RxBytes: 200, LostPackets: 2,
			TimeFirstTxPacket: time.Second, TimeLastTxPacket: 2 * time.Second,
			TimeFirstRxPacket: time.Second + time.Millisecond, TimeLastRxPacket: 2 * time.Second,
			DelaySum: 4 * time.Millisecond,
		},
	}}
	require.NoError(r.OnRun(rep))
	require.NoError(r.Close())

	f, err := os.Open(path)
	require.NoError(err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(err)
	require.Len(rows, 2)
	assert.Equal("flow_id", rows[0][2])
	assert.Equal([]string{
		"64", "ideal", "1", "UDP", "10.1.1.1", "49154", "10.1.1.5", "4000",
		"4", "2", "400", "200", "2",
		"1.000000", "2.000000", "1.001000", "2.000000",
		"2.000000", "0.001600",
	}, rows[1])
}

type failingReporter struct {
	onRun, close error
	calls        *[]string
	name         string
}

func (f failingReporter) OnRun(sim.RunReport) error {
	*f.calls = append(*f.calls, f.name+".run")
	return f.onRun
}

func (f failingReporter) Close() error {
	*f.calls = append(*f.calls, f.name+".close")
	return f.close
}

func TestMultiReporter(t *testing.T) {
	assert := assert.New(t)
	var calls []string
	errA, errB := errors.New("a"), errors.New("b")
	m := sim.MultiReporter(
		failingReporter{name: "a", calls: &calls, onRun: errA, close: errA},
		nil,
		failingReporter{name: "b", calls: &calls, close: errB},
	)

	assert.ErrorIs(m.OnRun(sim.RunReport{}), errA)
	assert.Equal([]string{"a.run"}, calls)

	err := m.Close()
	assert.ErrorIs(err, errA)
	assert.ErrorIs(err, errB)
	assert.Equal([]string{"a.run", "a.close", "b.close"}, calls)
}
