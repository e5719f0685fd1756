package sim

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// MetricsHeader is the first line of the metrics CSV.
var MetricsHeader = []string{
	"PacketSize",
	"Scenario",
	"Protocol",
	"TxPackets",
	"RxPackets",
	"ThroughputMbps",
	"PDR",
}

// MetricsCSVWriter owns the metrics file for a whole sweep.
type MetricsCSVWriter struct {
	f *os.File
	w *csv.Writer
}

func NewMetricsCSVWriter(path string) (*MetricsCSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	if err := w.Write(MetricsHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &MetricsCSVWriter{f: f, w: w}, nil
}

func (s *MetricsCSVWriter) WriteRow(r ResultRow) error {
	return s.w.Write([]string{
		strconv.Itoa(r.PacketSize),
		r.Scenario,
		r.Protocol,
		strconv.FormatUint(r.TxPackets, 10),
		strconv.FormatUint(r.RxPackets, 10),
		f2(r.ThroughputMbps),
		f2(r.PDRPercent),
	})
}

// OnRun writes the TCP and UDP rows and flushes them to disk.
func (s *MetricsCSVWriter) OnRun(r RunReport) error {
	for _, row := range r.Rows() {
		if err := s.WriteRow(row); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *MetricsCSVWriter) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// f2 formats with two decimals; negative zero prints as 0.00.
func f2(v float64) string {
	if v == 0 {
		v = 0
	}
	return fmt.Sprintf("%.2f", v)
}
