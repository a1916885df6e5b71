// lifetime.go — catching resources that outlive their dynamic scope.
//
// A Lifetime is a token pushed onto its context's stack when a scoped
// resource is created and popped when the resource is closed. A Guard wraps
// the token and answers, on every access, "is the scope that created this
// resource still live here?" — failing with *LifetimeError when a resource
// escaped (typically: captured in a closure and used after its scope
// exited, or smuggled into an unrelated context).
//
// This is a validation overlay on the same stack discipline the binding
// chains use, not a storage mechanism. A context may also *honor* a foreign
// lifetime for the extent of one call, which lets a resource be lent across
// contexts deliberately.
package loom

import (
	"math"
	"sync"
)

// Lifetime indexes are global and monotonic so that error reports identify a
// token unambiguously across contexts. Creation is rare; a mutex is fine.
var (
	lifetimeMu      sync.Mutex
	lifetimeCounter uint64
)

const closedDepth = math.MaxInt

// Lifetime is one entry of a context's lifetime stack.
type Lifetime struct {
	owner *ExecContext
	depth int
	index uint64
}

// StartLifetime pushes a new lifetime onto ec's stack and returns it.
func (ec *ExecContext) StartLifetime() *Lifetime {
	lifetimeMu.Lock()
	lifetimeCounter++
	idx := lifetimeCounter
	lifetimeMu.Unlock()
	lt := &Lifetime{owner: ec, depth: len(ec.lifetimes), index: idx}
	ec.lifetimes = append(ec.lifetimes, lt)
	return lt
}

// Close pops the lifetime from its owner's stack. Anything pushed above it
// and not yet closed is discarded with it, so an escaped inner lifetime
// cannot wedge the stack. Closing twice is a no-op. Must be called on the
// owning context's goroutine.
func (lt *Lifetime) Close() {
	if lt.depth == closedDepth {
		return
	}
	if st := lt.owner.lifetimes; lt.depth < len(st) && st[lt.depth] == lt {
		lt.owner.lifetimes = st[:lt.depth]
	}
	lt.depth = closedDepth
}

// Index returns the lifetime's global creation index.
func (lt *Lifetime) Index() uint64 { return lt.index }

// active reports whether lt is still on ec's stack.
func (ec *ExecContext) active(lt *Lifetime) bool {
	return lt.owner == ec && lt.depth < len(ec.lifetimes) && ec.lifetimes[lt.depth] == lt
}

// honors reports whether ec currently honors lt as a forwarded lifetime.
func (ec *ExecContext) honors(lt *Lifetime) bool {
	for _, h := range ec.honored {
		if h == lt {
			return true
		}
	}
	return false
}

// HonorLifetime runs op with lt honored on ec, so guards over lt pass from
// inside op even though ec does not own it. The honor is revoked on every
// exit path.
func (ec *ExecContext) HonorLifetime(lt *Lifetime, op func() error) error {
	ec.honored = append(ec.honored, lt)
	defer func() { ec.honored = ec.honored[:len(ec.honored)-1] }()
	return op()
}

// Guard ties a resource to the lifetime of the scope that created it.
// Embed one in a resource and call Check at each access.
type Guard struct {
	lt *Lifetime
}

// NewGuard starts a lifetime on ec and returns a guard over it.
func NewGuard(ec *ExecContext) *Guard {
	return &Guard{lt: ec.StartLifetime()}
}

// Check returns nil when the guard's lifetime is still live on its owning
// context's stack, or is currently honored by ec. Otherwise the resource has
// escaped its scope and Check returns *LifetimeError. Never retried,
// never suppressed: an escape is a bug in the caller.
func (g *Guard) Check(ec *ExecContext) error {
	if ec.active(g.lt) || ec.honors(g.lt) {
		return nil
	}
	return &LifetimeError{Index: g.lt.index}
}

// Close ends the guard's lifetime.
func (g *Guard) Close() { g.lt.Close() }

// Lifetime returns the guarded lifetime, for forwarding via HonorLifetime.
func (g *Guard) Lifetime() *Lifetime { return g.lt }
