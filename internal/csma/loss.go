package csma

import (
	"fmt"
	"math/rand"
	"time"
)

// FrameMeta describes one frame as it leaves a device onto the medium.
type FrameMeta struct {
	At        time.Duration
	Device    int
	Frame     uint64 // per-device frame counter
	SizeBytes int
}

// LossModel decides whether a frame is corrupted on the medium.
type LossModel interface {
	Name() string
	Drop(meta FrameMeta) bool
}

// LossSpec selects and parameterizes a loss model. A zero value means a
// lossless channel.
type LossSpec struct {
	Model string // "", "none", "bernoulli", "gilbert"

	P float64

	PGB float64
	PBG float64
	PG  float64
	PB  float64
}

// NewLossModel builds a fresh model so every topology starts from the same
// state for a given seed.
func NewLossModel(spec LossSpec, seed int64) (LossModel, error) {
	switch spec.Model {
	case "", "none":
		return nil, nil
	case "bernoulli":
		if spec.P < 0 || spec.P > 1 {
			return nil, fmt.Errorf("bernoulli loss p=%v outside [0,1]", spec.P)
		}
		return NewBernoulliLoss(seed, spec.P), nil
	case "gilbert":
		for _, p := range []float64{spec.PGB, spec.PBG, spec.PG, spec.PB} {
			if p < 0 || p > 1 {
				return nil, fmt.Errorf("gilbert loss probability %v outside [0,1]", p)
			}
		}
		return NewGilbertElliottLoss(seed, spec.PGB, spec.PBG, spec.PG, spec.PB), nil
	default:
		return nil, fmt.Errorf("unknown loss model %q", spec.Model)
	}
}

type BernoulliLoss struct {
	Seed int64
	P    float64
}

func NewBernoulliLoss(seed int64, p float64) *BernoulliLoss {
	return &BernoulliLoss{Seed: seed, P: p}
}

func (m *BernoulliLoss) Name() string { return "bernoulli" }

func (m *BernoulliLoss) Drop(meta FrameMeta) bool {
	if m.P <= 0 {
		return false
	}
	if m.P >= 1 {
		return true
	}
	return u01(m.Seed, meta.Device, meta.Frame) < m.P
}

// GilbertElliottLoss is a two-state burst loss model with one chain per
// transmitting device.
type GilbertElliottLoss struct {
	Seed int64

	PGB float64
	PBG float64
	PG  float64
	PB  float64

	states map[int]*geState
}

type geState struct {
	bad bool
	r   *rand.Rand
}

func NewGilbertElliottLoss(seed int64, pGB, pBG, pG, pB float64) *GilbertElliottLoss {
	return &GilbertElliottLoss{
		Seed: seed,
		PGB:  pGB, PBG: pBG, PG: pG, PB: pB,
		states: make(map[int]*geState),
	}
}

func (m *GilbertElliottLoss) Name() string { return "gilbert" }

func (m *GilbertElliottLoss) Drop(meta FrameMeta) bool {
	st := m.state(meta.Device)

	if !st.bad {
		if st.r.Float64() < m.PGB {
			st.bad = true
		}
	} else {
		if st.r.Float64() < m.PBG {
			st.bad = false
		}
	}

	p := m.PG
	if st.bad {
		p = m.PB
	}
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return st.r.Float64() < p
}

func (m *GilbertElliottLoss) state(device int) *geState {
	if st, ok := m.states[device]; ok {
		return st
	}
	const mix uint64 = 0x9e3779b97f4a7c15

	u := uint64(m.Seed) ^ (uint64(device+1) * mix)
	st := &geState{r: rand.New(rand.NewSource(int64(u)))}
	m.states[device] = st
	return st
}
