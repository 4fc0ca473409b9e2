package kernel

import (
	"errors"

	"github.com/kview/kview/pkg/logflags"
)

// Names of the kernel statistics counters.
const (
	StatIRQ            = "Number of IRQs"
	StatCtxSwitch      = "Number of Context Switches"
	StatThreadCritZone = "Threads Critical Zones"
	StatISRCritZone    = "ISRs Critical Zones"
)

// Statistics reads the kernel statistics block. A counter the kernel was
// built without is left out entirely; so is one with any unreadable field.
func (in *Inspector) Statistics() ([]StatCounter, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}
	if _, err := in.root(statsExpr, ErrStatisticsNotFound); err != nil {
		return nil, err
	}

	var counters []StatCounter
	add := func(c StatCounter, err error) error {
		switch {
		case err == nil:
			counters = append(counters, c)
		case errors.Is(err, ErrUnresolved):
			if logflags.Kernel() {
				in.log.Debugf("statistics: %s not available: %v", c.Name, err)
			}
		default:
			return notReady(err)
		}
		return nil
	}
	if err := add(in.countStat(StatIRQ, "n_irq")); err != nil {
		return nil, err
	}
	if err := add(in.countStat(StatCtxSwitch, "n_ctxswc")); err != nil {
		return nil, err
	}
	if err := add(in.timeStat(StatThreadCritZone, "m_crit_thd")); err != nil {
		return nil, err
	}
	if err := add(in.timeStat(StatISRCritZone, "m_crit_isr")); err != nil {
		return nil, err
	}
	return counters, nil
}

// countStat reads a plain event counter.
func (in *Inspector) countStat(name, field string) (StatCounter, error) {
	c := StatCounter{Name: name, Best: Missing(""), Worst: Missing(""), Cumulative: Missing("")}
	n, err := in.port.EvalNumber(statsField(field))
	if err != nil {
		return c, err
	}
	c.N = Number(n)
	return c, nil
}

// timeStat reads a time measurement block.
func (in *Inspector) timeStat(name, field string) (StatCounter, error) {
	c := StatCounter{Name: name}
	for _, f := range []struct {
		dst  *Field
		name string
	}{
		{&c.Best, "best"},
		{&c.Worst, "worst"},
		{&c.N, "n"},
	} {
		n, err := in.port.EvalNumber(statsField(field + "." + f.name))
		if err != nil {
			return c, err
		}
		*f.dst = Number(n)
	}
	s, err := in.port.EvalText(statsField64(field + ".cumulative"))
	if err != nil {
		return c, err
	}
	c.Cumulative = Text(s)
	return c, nil
}
