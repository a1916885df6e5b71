// context.go — per-goroutine execution state, forking, and spawning.
//
// WHAT THIS MODULE DOES
// =====================
// An ExecContext holds everything one thread of control needs to take part in
// dynamic scoping: the heads of its two binding chains, its lookup cache, the
// victim-rotation register, and its lifetime stacks. The struct is explicit
// and threaded through calls — there is no thread-local or package-global
// context lookup anywhere in this package.
//
// OWNERSHIP RULES
// ===============
// Every field of an ExecContext is mutated only by the goroutine that owns
// it. The single cross-context operation is the inheritance copy in Fork: the
// child takes the parent's current inheritable chain head by pointer. Chain
// nodes are immutable once published, so the copy needs no further
// synchronization — only a happens-before edge between the copy and the
// child goroutine starting, which Spawn gets for free from goroutine
// creation. Callers using Fork directly must hand the child to its goroutine
// through some ordered mechanism (a channel send, a WaitGroup, the `go`
// statement itself).
//
// No operation here blocks, suspends, or locks. Cancellation is the caller's
// concern; this package only guarantees that scope restoration runs
// unconditionally, so a failed or abandoned body never corrupts the context.
package loom

import "fmt"

// victimSeed primes the rotation register; any nonzero pattern works, the
// register is just rotated one bit per eviction.
const victimSeed uint32 = 0xf0f0f0f0

// ExecContext is the per-goroutine state of the binding runtime. Create one
// root with NewExecContext; derive children with Fork or Spawn. An
// ExecContext must only ever be used from the goroutine it was created for.
type ExecContext struct {
	inheritable    *envNode
	nonInheritable *envNode
	cache          cache
	victims        uint32
	lifetimes      []*Lifetime
	honored        []*Lifetime
}

// NewExecContext returns a fresh root context with no bindings.
func NewExecContext() *ExecContext {
	return &ExecContext{victims: victimSeed}
}

// Fork creates a child context inheriting ec's current inheritable bindings.
// The copy is a single pointer read; the child starts with an empty
// non-inheritable chain, an empty cache, and empty lifetime stacks. Later
// rebinding in ec moves ec's pointer only and never affects the child.
func (ec *ExecContext) Fork() *ExecContext {
	return &ExecContext{inheritable: ec.inheritable, victims: victimSeed}
}

// Proc is a handle for a body started with Spawn.
type Proc struct {
	done chan struct{}
	err  error
}

// Spawn forks a child context and runs op with it on a new goroutine. The
// returned Proc reports op's error from Join; a panicking op is recovered
// and surfaced as the join error rather than tearing down the process.
func (ec *ExecContext) Spawn(op func(child *ExecContext) error) *Proc {
	child := ec.Fork()
	pr := &Proc{done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					pr.err = err
				} else {
					pr.err = fmt.Errorf("loom: spawned body panicked: %v", r)
				}
			}
			close(pr.done)
		}()
		pr.err = op(child)
	}()
	return pr
}

// Join blocks until the spawned body finishes and returns its error. Join
// may be called from any goroutine, any number of times.
func (p *Proc) Join() error {
	<-p.done
	return p.err
}
