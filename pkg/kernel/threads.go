package kernel

import "errors"

// Threads walks the thread registry and returns every registered thread in
// registry order.
func (in *Inspector) Threads() (*ThreadList, error) {
	if err := in.begin(); err != nil {
		return nil, err
	}
	head, err := in.root(registryExpr, ErrRegistryNotFound)
	if err != nil {
		return nil, err
	}

	threads := newAddressMap[ThreadSnapshot]()
	r := ring{
		name:   "registry",
		head:   head,
		next:   func(a Address) string { return threadField(a, "newer") },
		prev:   func(a Address) string { return threadField(a, "older") },
		noNext: ErrRegistryDisabled,
	}
	err = in.walk(r, func(a Address) error {
		t, err := in.thread(a)
		if err != nil {
			return err
		}
		threads.put(a, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (in *Inspector) thread(a Address) (ThreadSnapshot, error) {
	t := ThreadSnapshot{Address: a}
	var err error

	if t.StackLimit, err = in.optional(threadField(a, "wabase"), NotAvailable); err != nil {
		return t, err
	}
	if t.Stack, err = in.optional(threadField(a, "ctx.r13"), NotAvailable); err != nil {
		return t, err
	}
	if !t.Stack.Valid {
		if t.Stack, err = in.optional(threadField(a, "ctx.sp"), NotAvailable); err != nil {
			return t, err
		}
	}
	if t.StackUnused, err = in.stackUnused(t.StackLimit, t.Stack); err != nil {
		return t, err
	}

	if t.Name, err = in.cstring(threadField(a, "name"), threadNameMaxLen, NoName, NotAvailable); err != nil {
		return t, err
	}

	if t.State, err = in.number(threadField(a, "state")); err != nil {
		return t, err
	}
	t.StateLabel = StateLabel(t.State)
	if t.Flags, err = in.number(threadField(a, "flags")); err != nil {
		return t, err
	}
	if t.Prio, err = in.number(threadField(a, "prio")); err != nil {
		return t, err
	}

	optional := []struct {
		dst  *Field
		expr string
	}{
		{&t.Refs, threadField(a, "refs")},
		{&t.Time, threadField(a, "time")},
		{&t.WaitObject, threadField(a, "u.wtobjp")},
		{&t.StatsN, threadField(a, "stats.n")},
		{&t.StatsWorst, threadField(a, "stats.worst")},
	}
	for _, f := range optional {
		if *f.dst, err = in.optional(f.expr, NotAvailable); err != nil {
			return t, err
		}
	}
	if t.StatsCumulative, err = in.optionalText(threadField64(a, "stats.cumulative"), NotAvailable); err != nil {
		return t, err
	}
	return t, nil
}

// stackUnused estimates how many bytes at the bottom of a working area were
// never touched, by counting fill bytes from the limit up to the current
// stack pointer.
func (in *Inspector) stackUnused(limit, sp Field) (Field, error) {
	if !limit.Valid || !sp.Valid || limit.Value <= 0 || sp.Value <= 0 {
		return Missing(NotAvailable), nil
	}
	if sp.Value < limit.Value {
		return Missing(Overflow), nil
	}
	n, err := in.port.ScanFill(Address(limit.Value), Address(sp.Value), stackFillByte)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return Missing(NotAvailable), nil
		}
		return Field{}, notReady(err)
	}
	return Number(n), nil
}
