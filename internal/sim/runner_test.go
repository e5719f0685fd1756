package sim_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

var congest = sim.Scenario{Name: "congest", Delay: 20 * time.Microsecond, DataRate: 20 * sim.Mbps}

func TestRunnerConfiguresOneRun(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	eng := &fakeEngine{}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(err)

	records, err := r.Execute(sim.RunKey{Scenario: congest, PacketSize: 1024})
	require.NoError(err)

	assert.Equal([]string{"create", "channel", "reliable", "besteffort", "monitor", "run", "destroy"}, eng.calls)
	assert.Equal([]channelCall{{Rate: 20 * sim.Mbps, Delay: 20 * time.Microsecond}}, eng.channels)
	assert.Equal([]time.Duration{10 * time.Second}, eng.stops)

	require.Len(eng.reliable, 1)
	assert.Equal(sim.ReliableFlow{
		Sender: 0, Sink: 4, Port: 50000, ChunkSize: 1024, MaxBytes: 0,
		Start: time.Second, Stop: 10 * time.Second, SinkStart: 0,
	}, eng.reliable[0])

	require.Len(eng.bestEffort, 1)
	assert.Equal(sim.BestEffortFlow{
		Sender: 0, Sink: 4, Port: 4000, Rate: 100 * sim.Mbps, PayloadSize: 1024,
		OnTime: time.Second, OffTime: time.Second,
		Start: time.Second, Stop: 10 * time.Second, SinkStart: 0,
	}, eng.bestEffort[0])

	require.Len(records, 3)
	for i, rec := range records {
		assert.Equal(sim.FlowID(i+1), rec.ID)
	}
	assert.Equal(sim.ProtocolUDP, records[2].Tuple.Protocol)
}

func TestRunnerBestEffortRateIgnoresScenario(t *testing.T) {
	eng := &fakeEngine{}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(t, err)

	for _, sc := range sim.DefaultScenarios() {
		_, err := r.Execute(sim.RunKey{Scenario: sc, PacketSize: 256})
		require.NoError(t, err)
	}
	require.Len(t, eng.bestEffort, 2)
	assert.Equal(t, 100*sim.Mbps, eng.bestEffort[0].Rate)
	assert.Equal(t, 100*sim.Mbps, eng.bestEffort[1].Rate)
}

func TestRunnerDestroysOnFailure(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	eng := &fakeEngine{failConfigure: true}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(err)

	_, err = r.Execute(sim.RunKey{Scenario: congest, PacketSize: 64})
	require.Error(err)
	assert.Contains(err.Error(), "configure channel")
	assert.Equal([]string{"create", "channel", "destroy"}, eng.calls)
	assert.False(eng.active)

	// the next run gets a fresh topology
	eng.failConfigure = false
	_, err = r.Execute(sim.RunKey{Scenario: congest, PacketSize: 64})
	require.NoError(err)
	assert.Equal(2, eng.created)
}

func TestRunnerCombinesDestroyError(t *testing.T) {
	destroyErr := errors.New("teardown failed")
	eng := &fakeEngine{failRun: 1, destroyErr: destroyErr}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(t, err)

	_, err = r.Execute(sim.RunKey{Scenario: congest, PacketSize: 64})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFakeRun)
	assert.ErrorIs(t, err, destroyErr)
}

func TestRunnerRejectsBadInput(t *testing.T) {
	eng := &fakeEngine{}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(t, err)

	_, err = r.Execute(sim.RunKey{Scenario: congest, PacketSize: 0})
	assert.Error(t, err)
	assert.Zero(t, eng.created)

	opt := sim.DefaultRunOptions()
	opt.NodeCount = 1
	_, err = sim.NewRunner(eng, opt, quietLogger())
	assert.Error(t, err)

	opt = sim.DefaultRunOptions()
	opt.FlowStart = opt.SimTime
	_, err = sim.NewRunner(eng, opt, quietLogger())
	assert.Error(t, err)

	opt = sim.DefaultRunOptions()
	opt.BestEffortPort = opt.ReliablePort
	_, err = sim.NewRunner(eng, opt, quietLogger())
	assert.Error(t, err)

	opt = sim.DefaultRunOptions()
	opt.BestEffortOffTime = -time.Second
	_, err = sim.NewRunner(eng, opt, quietLogger())
	assert.Error(t, err)
}

func TestCollectFlowRecordsUnclassified(t *testing.T) {
	eng := &fakeEngine{records: func(sim.DataRate, int) map[sim.FlowID]fakeFlow {
		flows := defaultFlows(64)
		flows[7] = fakeFlow{stats: sim.FlowStats{TxPackets: 3}}
		return flows
	}}
	r, err := sim.NewRunner(eng, sim.DefaultRunOptions(), quietLogger())
	require.NoError(t, err)

	records, err := r.Execute(sim.RunKey{Scenario: congest, PacketSize: 64})
	require.NoError(t, err)
	require.Len(t, records, 4)
	last := records[3]
	assert.Equal(t, sim.FlowID(7), last.ID)
	assert.Zero(t, last.Tuple.Protocol)

	tcp, udp := sim.Aggregate(records)
	assert.Equal(t, uint64(214), tcp.TxPackets)
	assert.Equal(t, uint64(1000), udp.TxPackets)
}
