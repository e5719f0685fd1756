package sim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataRate is a rate in bits per second.
type DataRate uint64

const (
	BitPerSecond DataRate = 1
	Kbps                  = 1000 * BitPerSecond
	Mbps                  = 1000 * Kbps
	Gbps                  = 1000 * Mbps
)

var errBadDataRate = errors.New("invalid data rate")

var rateUnits = []struct {
	suffix string
	name   string
	unit   DataRate
}{
	{"gbps", "Gbps", Gbps},
	{"mbps", "Mbps", Mbps},
	{"kbps", "kbps", Kbps},
	{"bps", "bps", BitPerSecond},
}

// ParseDataRate accepts "100Mbps", "20mbps", "1Gbps", "500kbps", "64000bps" or a
// plain integer number of bits per second.
func ParseDataRate(s string) (DataRate, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, errBadDataRate
	}
	unit := BitPerSecond
	for _, u := range rateUnits {
		if strings.HasSuffix(in, u.suffix) {
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			unit = u.unit
			break
		}
	}
	v, err := strconv.ParseFloat(in, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w %q", errBadDataRate, s)
	}
	return DataRate(v * float64(unit)), nil
}

func (r DataRate) BitsPerSecond() uint64 { return uint64(r) }

// TxTime is the time needed to serialize n bytes at this rate.
func (r DataRate) TxTime(n int) time.Duration {
	if r == 0 || n <= 0 {
		return 0
	}
	return time.Duration(uint64(n) * 8 * uint64(time.Second) / uint64(r))
}

func (r DataRate) String() string {
	for _, u := range rateUnits[:3] {
		if r >= u.unit && r%u.unit == 0 {
			return strconv.FormatUint(uint64(r/u.unit), 10) + u.name
		}
	}
	return strconv.FormatUint(uint64(r), 10) + "bps"
}

func (r *DataRate) UnmarshalText(text []byte) error {
	v, err := ParseDataRate(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r DataRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
