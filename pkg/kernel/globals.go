package kernel

import (
	"errors"
	"fmt"
)

// Globals reads the kernel global variables. Only the virtual timers anchor
// is mandatory; features compiled out of the kernel show as NotEnabled.
func (in *Inspector) Globals() (GlobalSnapshot, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}

	lasttime, err := in.port.EvalText(vtDeltaExpr)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return nil, ErrGlobalStateNotFound
		}
		return nil, notReady(err)
	}
	lt, err := in.optionalText(vtLasttimeExpr, "")
	if err != nil {
		return nil, err
	}
	if lt.Valid {
		lasttime = lt.Text
	}

	systime, err := in.optionalText(vtSystimeExpr, NotEnabled)
	if err != nil {
		return nil, err
	}
	current, err := in.currentThread()
	if err != nil {
		return nil, err
	}
	preempt, err := in.optionalText(preemptExpr, NotEnabled)
	if err != nil {
		return nil, err
	}
	panicMsg, err := in.cstring(panicMsgExpr, panicMsgMaxLen, NullString, NotEnabled)
	if err != nil {
		return nil, err
	}
	isr, err := in.flag(isrCntExpr, "within ISR", "not within ISR")
	if err != nil {
		return nil, err
	}
	lock, err := in.flag(lockCntExpr, "within lock", "not within lock")
	if err != nil {
		return nil, err
	}

	return GlobalSnapshot{
		{"vt_lasttime", Text(lasttime).Text},
		{"vt_systime", systime.Text},
		{"r_current", current},
		{"r_preempt", preempt.Text},
		{"dbg_panic_msg", panicMsg},
		{"dbg_isr_cnt", isr},
		{"dbg_lock_cnt", lock},
	}, nil
}

// currentThread renders the running thread as its address and name.
func (in *Inspector) currentThread() (string, error) {
	cur, err := in.optional(currentThreadExpr, NotAvailable)
	if err != nil || !cur.Valid {
		return cur.Text, err
	}
	if cur.Value == 0 {
		return "0", nil
	}
	a := Address(cur.Value)
	name, err := in.cstring(threadField(a, "name"), threadNameMaxLen, NoName, NotAvailable)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`%s "%s"`, a, name), nil
}

// flag reads a debug counter and describes whether it is non zero.
func (in *Inspector) flag(expr, set, unset string) (string, error) {
	f, err := in.optional(expr, NotEnabled)
	if err != nil || !f.Valid {
		return f.Text, err
	}
	if f.Value != 0 {
		return set, nil
	}
	return unset, nil
}
