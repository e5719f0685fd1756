package sim

import (
	"fmt"
	"time"
)

// DefaultScenarios are the two channel profiles of the reference experiment:
// a fast, near-zero delay channel and a slow, higher delay one.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "ideal", Delay: time.Microsecond, DataRate: 100 * Mbps},
		{Name: "congest", Delay: 20 * time.Microsecond, DataRate: 20 * Mbps},
	}
}

func DefaultPacketSizes() []int {
	return []int{64, 128, 256, 512, 1024, 1500}
}

// ValidateScenarios rejects duplicate or empty names. An empty list is valid.
func ValidateScenarios(scenarios []Scenario) error {
	seen := make(map[string]struct{}, len(scenarios))
	for i, sc := range scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario #%d has no name", i)
		}
		if _, dup := seen[sc.Name]; dup {
			return fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		if sc.DataRate == 0 {
			return fmt.Errorf("scenario %q: data rate must be positive", sc.Name)
		}
		if sc.Delay < 0 {
			return fmt.Errorf("scenario %q: negative delay", sc.Name)
		}
		seen[sc.Name] = struct{}{}
	}
	return nil
}

func ValidatePacketSizes(sizes []int) error {
	for _, s := range sizes {
		if s <= 0 {
			return fmt.Errorf("packet size %d must be positive", s)
		}
	}
	return nil
}
