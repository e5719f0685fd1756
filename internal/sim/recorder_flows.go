package sim

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// FlowCSVRecorder dumps every raw flow record of every run into one CSV.
type FlowCSVRecorder struct {
	f *os.File
	w *csv.Writer
}

func NewFlowCSVRecorder(path string) (*FlowCSVRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	hdr := []string{
		"packet_size",
		"scenario",
		"flow_id",
		"protocol",
		"src_addr",
		"src_port",
		"dst_addr",
		"dst_port",
		"tx_packets",
		"rx_packets",
		"tx_bytes",
		"rx_bytes",
		"lost_packets",
		"first_tx_s",
		"last_tx_s",
		"first_rx_s",
		"last_rx_s",
		"mean_delay_ms",
		"throughput_mbps",
	}
	if err := w.Write(hdr); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &FlowCSVRecorder{f: f, w: w}, nil
}

func (r *FlowCSVRecorder) OnRun(rep RunReport) error {
	for _, fr := range rep.Flows {
		st := fr.Stats
		meanDelayMs := 0.0
		if st.RxPackets > 0 {
			meanDelayMs = float64(st.DelaySum) / float64(st.RxPackets) / float64(time.Millisecond)
		}
		row := []string{
			strconv.Itoa(rep.Key.PacketSize),
			rep.Key.Scenario.Name,
			strconv.FormatUint(uint64(fr.ID), 10),
			ProtocolLabel(fr.Tuple.Protocol),
			fr.Tuple.Src.String(),
			strconv.FormatUint(uint64(fr.Tuple.SrcPort), 10),
			fr.Tuple.Dst.String(),
			strconv.FormatUint(uint64(fr.Tuple.DstPort), 10),
			strconv.FormatUint(st.TxPackets, 10),
			strconv.FormatUint(st.RxPackets, 10),
			strconv.FormatUint(st.TxBytes, 10),
			strconv.FormatUint(st.RxBytes, 10),
			strconv.FormatUint(st.LostPackets, 10),
			ff(st.TimeFirstTxPacket.Seconds()),
			ff(st.TimeLastTxPacket.Seconds()),
			ff(st.TimeFirstRxPacket.Seconds()),
			ff(st.TimeLastRxPacket.Seconds()),
			ff(meanDelayMs),
			ff(FlowThroughputBps(st) / 1e6),
		}
		if err := r.w.Write(row); err != nil {
			return err
		}
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *FlowCSVRecorder) Close() error {
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		_ = r.f.Close()
		return err
	}
	return r.f.Close()
}

func ff(v float64) string { return fmt.Sprintf("%.6f", v) }
