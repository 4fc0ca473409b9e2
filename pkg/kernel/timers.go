package kernel

// Timers walks the virtual timers delta list and returns every armed timer
// in firing order.
func (in *Inspector) Timers() (*TimerList, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}
	head, err := in.root(timerListExpr, ErrTimerListNotFound)
	if err != nil {
		return nil, err
	}

	timers := newAddressMap[TimerSnapshot]()
	r := ring{
		name: "timers list",
		head: head,
		next: func(a Address) string { return timerField(a, "next") },
		prev: func(a Address) string { return timerField(a, "prev") },
	}
	err = in.walk(r, func(a Address) error {
		vt := TimerSnapshot{Address: a}
		var err error
		if vt.Delta, err = in.number(timerField(a, "delta")); err != nil {
			return err
		}
		fn, err := in.number(timerField(a, "func"))
		if err != nil {
			return err
		}
		par, err := in.number(timerField(a, "par"))
		if err != nil {
			return err
		}
		vt.Func, vt.Par = Address(fn), Address(par)
		timers.put(a, vt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return timers, nil
}
