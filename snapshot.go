// snapshot.go — deferred inheritance.
//
// Fork covers the common case: a child created now inherits the bindings in
// effect now. A Snapshot covers everything else — work that is queued,
// batched, or fanned out later still needs to see the dynamic scope that was
// in effect when it was *submitted*, not whatever the executing context
// happens to have. Capturing is a pointer read; the captured chain is
// immutable, so one snapshot can be re-run any number of times, from any
// number of contexts, concurrently.
package loom

// Snapshot is an immutable capture of a context's inheritable environment,
// together with the aggregate cache masks of every node in the captured
// chain.
type Snapshot struct {
	env           *envNode
	primaryBits   uint16
	secondaryBits uint16
}

// Snapshot captures ec's current inheritable bindings.
func (ec *ExecContext) Snapshot() *Snapshot {
	var p, s uint16
	for n := ec.inheritable; n != nil; n = n.prev {
		p |= n.primaryBits
		s |= n.secondaryBits
	}
	return &Snapshot{env: ec.inheritable, primaryBits: p, secondaryBits: s}
}

// Run executes op on ec with the snapshot's inheritable bindings in effect,
// restoring ec's own bindings on every exit path. If the snapshot is already
// the context's current inheritable environment the body runs directly and
// the cache is left alone.
//
// Swapping in an arbitrary environment cannot cheaply name the cache slots
// that differ between the old and new chains, so the whole cache is cleared
// on install and again on restore. Non-inheritable bindings are untouched.
func (s *Snapshot) Run(ec *ExecContext, op func() error) error {
	if ec.inheritable == s.env {
		return op()
	}
	defer s.install(ec)()
	return op()
}

// Call is Run for value-returning bodies.
func (s *Snapshot) Call(ec *ExecContext, op func() (any, error)) (any, error) {
	if ec.inheritable == s.env {
		return op()
	}
	defer s.install(ec)()
	return op()
}

// Carry captures a snapshot now and returns op wrapped to run under it
// later, from whatever context it is eventually given. Useful for handing
// work to a pool whose workers were created before the bindings existed.
func (ec *ExecContext) Carry(op func() error) func(*ExecContext) error {
	s := ec.Snapshot()
	return func(target *ExecContext) error {
		return s.Run(target, op)
	}
}

//// END_OF_PUBLIC

func (s *Snapshot) install(ec *ExecContext) func() {
	prev := ec.inheritable
	ec.cache.invalidateAll()
	ec.inheritable = s.env
	return func() {
		ec.inheritable = prev
		ec.cache.invalidateAll()
	}
}
