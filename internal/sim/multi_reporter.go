package sim

import "go.uber.org/multierr"

// Reporter consumes one RunReport per completed run.
type Reporter interface {
	OnRun(r RunReport) error
	Close() error
}

type multiReporter struct {
	rs []Reporter
}

// MultiReporter forwards OnRun/Close to all non-nil reporters in order.
// OnRun stops at the first failing reporter; Close closes all of them.
func MultiReporter(rs ...Reporter) Reporter {
	out := &multiReporter{rs: make([]Reporter, 0, len(rs))}
	for _, r := range rs {
		if r != nil {
			out.rs = append(out.rs, r)
		}
	}
	return out
}

func (m *multiReporter) OnRun(r RunReport) error {
	for _, rep := range m.rs {
		if err := rep.OnRun(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiReporter) Close() error {
	var err error
	for _, rep := range m.rs {
		err = multierr.Append(err, rep.Close())
	}
	return err
}
