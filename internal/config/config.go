// Package config loads experiment descriptions from YAML.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/lars-sto/csma-flow-simulation/internal/csma"
	"github.com/lars-sto/csma-flow-simulation/internal/sim"
)

//go:embed experiment.schema.json
var schemaJSON []byte

var schema = gojsonschema.NewBytesLoader(schemaJSON)

// Duration is a time.Duration written as "10s", "1us", "1.5ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Scenario struct {
	Name     string       `yaml:"name"`
	Delay    Duration     `yaml:"delay"`
	DataRate sim.DataRate `yaml:"dataRate"`
}

type Loss struct {
	Model string  `yaml:"model"`
	P     float64 `yaml:"p"`
	PGB   float64 `yaml:"pGB"`
	PBG   float64 `yaml:"pBG"`
	PG    float64 `yaml:"pG"`
	PB    float64 `yaml:"pB"`
}

type Engine struct {
	QueueSize   int   `yaml:"queueSize"`
	SegmentSize int   `yaml:"segmentSize"`
	Seed        int64 `yaml:"seed"`
	Loss        Loss  `yaml:"loss"`
}

// Experiment is one sweep: the scenario and packet-size grids plus the
// per-run constants and engine tuning.
type Experiment struct {
	Output            string       `yaml:"output"`
	FlowsOutput       string       `yaml:"flowsOutput"`
	Nodes             int          `yaml:"nodes"`
	SimTime           Duration     `yaml:"simTime"`
	FlowStart         Duration     `yaml:"flowStart"`
	BestEffortRate    sim.DataRate `yaml:"bestEffortRate"`
	BestEffortOnTime  Duration     `yaml:"bestEffortOnTime"`
	BestEffortOffTime Duration     `yaml:"bestEffortOffTime"`
	Scenarios         []Scenario   `yaml:"scenarios"`
	PacketSizes       []int        `yaml:"packetSizes"`
	Engine            Engine       `yaml:"engine"`
}

// Default is the reference experiment: two scenarios, six packet sizes,
// five nodes, ten simulated seconds.
func Default() Experiment {
	ro := sim.DefaultRunOptions()
	eo := csma.DefaultOptions()
	e := Experiment{
		Output:            "csma_metrics.csv",
		Nodes:             ro.NodeCount,
		SimTime:           Duration(ro.SimTime),
		FlowStart:         Duration(ro.FlowStart),
		BestEffortRate:    ro.BestEffortRate,
		BestEffortOnTime:  Duration(ro.BestEffortOnTime),
		BestEffortOffTime: Duration(ro.BestEffortOffTime),
		PacketSizes:       sim.DefaultPacketSizes(),
		Engine: Engine{
			QueueSize:   eo.QueueSize,
			SegmentSize: eo.TCP.SegmentSize,
			Seed:        eo.Seed,
		},
	}
	for _, sc := range sim.DefaultScenarios() {
		e.Scenarios = append(e.Scenarios, Scenario{Name: sc.Name, Delay: Duration(sc.Delay), DataRate: sc.DataRate})
	}
	return e
}

type schemaError struct {
	*gojsonschema.Result
	Source string
}

func (e schemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed schema validation:", e.Source)
	for _, desc := range e.Result.Errors() {
		fmt.Fprintf(&b, "\n- %s", desc)
	}
	return b.String()
}

// Load reads path and overlays it on Default. An empty document yields the
// defaults.
func Load(path string) (Experiment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Experiment{}, err
	}
	return Parse(path, b)
}

// Parse is Load on an in-memory document; source names it in errors.
func Parse(source string, b []byte) (Experiment, error) {
	e := Default()
	if len(bytes.TrimSpace(b)) == 0 {
		return e, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Experiment{}, fmt.Errorf("%s: %w", source, err)
	}
	if doc == nil {
		return e, nil
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(doc))
	switch {
	case err != nil:
		return Experiment{}, fmt.Errorf("%s: schema validator: %w", source, err)
	case !result.Valid():
		return Experiment{}, schemaError{Result: result, Source: source}
	}

	if err := yaml.Unmarshal(b, &e); err != nil {
		return Experiment{}, fmt.Errorf("%s: %w", source, err)
	}
	if err := e.Validate(); err != nil {
		return Experiment{}, fmt.Errorf("%s: %w", source, err)
	}
	return e, nil
}

// Validate checks the rules the schema cannot express.
func (e Experiment) Validate() error {
	if e.Output == "" {
		return fmt.Errorf("output path is empty")
	}
	if err := sim.ValidateScenarios(e.SimScenarios()); err != nil {
		return err
	}
	if err := sim.ValidatePacketSizes(e.PacketSizes); err != nil {
		return err
	}
	if err := e.RunOptions().Validate(); err != nil {
		return err
	}
	return e.EngineOptions().Validate()
}

func (e Experiment) SimScenarios() []sim.Scenario {
	out := make([]sim.Scenario, 0, len(e.Scenarios))
	for _, sc := range e.Scenarios {
		out = append(out, sim.Scenario{Name: sc.Name, Delay: time.Duration(sc.Delay), DataRate: sc.DataRate})
	}
	return out
}

func (e Experiment) RunOptions() sim.RunOptions {
	o := sim.DefaultRunOptions()
	o.NodeCount = e.Nodes
	o.SimTime = time.Duration(e.SimTime)
	o.FlowStart = time.Duration(e.FlowStart)
	o.BestEffortRate = e.BestEffortRate
	o.BestEffortOnTime = time.Duration(e.BestEffortOnTime)
	o.BestEffortOffTime = time.Duration(e.BestEffortOffTime)
	return o
}

func (e Experiment) EngineOptions() csma.Options {
	o := csma.DefaultOptions()
	o.QueueSize = e.Engine.QueueSize
	o.TCP.SegmentSize = e.Engine.SegmentSize
	o.Seed = e.Engine.Seed
	o.Loss = csma.LossSpec{
		Model: e.Engine.Loss.Model,
		P:     e.Engine.Loss.P,
		PGB:   e.Engine.Loss.PGB,
		PBG:   e.Engine.Loss.PBG,
		PG:    e.Engine.Loss.PG,
		PB:    e.Engine.Loss.PB,
	}
	return o
}
