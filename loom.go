// loom.go — PUBLIC SURFACE for scoped variables (keys and key lookup).
//
// OVERVIEW
// ========
// loom implements dynamically scoped variables for Go. A caller associates a
// value with an opaque *Key for the dynamic extent of an operation; any code
// called (transitively) during that extent can read the value without it being
// threaded through as a parameter, and the binding is invisible once the
// operation returns — on every exit path, including panics.
//
// What you get from this package:
//   • **Keys** (`Key`, this file): opaque, identity-compared handles, each
//     carrying a declared value type and an inheritance flag.
//   • **Binding sets** (`Bindings`, bindings.go): fluent multi-key composition
//     via `Where`, activated with `Run`/`Call`.
//   • **Execution contexts** (`ExecContext`, context.go): explicit per-
//     goroutine state — two environment pointers, the lookup cache, the
//     victim counter, the lifetime stack. There is no thread-local or global
//     lookup anywhere; the context is passed where it is needed.
//   • **Snapshots** (snapshot.go): immutable captures of the inheritable
//     environment, re-runnable later from any context.
//   • **Lifetime guards** (lifetime.go): a validation overlay that catches
//     resources used after the scope that created them has exited.
//
// SCOPING SEMANTICS
// -----------------
// Bindings form an immutable singly-linked chain (env.go). Activating a set
// prepends one node and installs it as the context's current head; exit
// restores the previous head. Visibility is therefore strictly LIFO within a
// context: the innermost binding of a key shadows any outer one, and the outer
// one reappears automatically when the inner scope exits, because the *head
// pointer* is what is saved and restored, never per-key state.
//
// Reads go through a small per-context cache (cache.go) first and fall back to
// a linear walk of the chain. The cache is purely an optimization: it is
// invalidated precisely (by bitmask) on every scope entry and exit, and a
// `Get` never returns a different answer than the chain walk would.
//
// INHERITANCE
// -----------
// Keys created with `InheritableForType` live on a separate chain that a child
// context copies — one pointer, not the contents — when it is created via
// `Fork`/`Spawn`. Because published chain nodes are never mutated, the shared
// structure needs no locks. Later rebinding in the parent moves the parent's
// pointer only; the child is unaffected.
//
// ERRORS
// ------
// `Get` returns *NotBoundError for a key with no active binding (a caller
// bug, never retried here). `Where` panics with *TypeMismatchError when a
// value does not satisfy the key's declared type (checked at bind time, fail
// fast). Guards return *LifetimeError for escaped resources. See errors.go.
package loom

import (
	"fmt"
	"reflect"
	"sync"
)

// A Key is a handle for one dynamically scoped variable. Keys are compared by
// identity: two keys created from the same type are still distinct variables.
// A Key is immutable and safe for concurrent use from any goroutine; the
// values it binds should themselves be immutable if they are shared.
type Key struct {
	hash        uint32
	typ         reflect.Type
	inheritable bool
}

// ForType creates a key whose bindings are confined to the context that
// installs them.
func ForType(t reflect.Type) *Key {
	return &Key{hash: generateHash(), typ: t}
}

// InheritableForType creates a key whose bindings are visible to child
// contexts created (via Fork or Spawn) while the binding is in effect.
func InheritableForType(t reflect.Type) *Key {
	return &Key{hash: generateHash(), typ: t, inheritable: true}
}

// For is generic sugar for ForType.
func For[T any]() *Key {
	return ForType(reflect.TypeOf((*T)(nil)).Elem())
}

// InheritableFor is generic sugar for InheritableForType.
func InheritableFor[T any]() *Key {
	return InheritableForType(reflect.TypeOf((*T)(nil)).Elem())
}

// Type returns the key's declared value type.
func (k *Key) Type() reflect.Type { return k.typ }

// Inheritable reports whether bindings of this key are shared with child
// contexts.
func (k *Key) Inheritable() bool { return k.inheritable }

func (k *Key) String() string {
	if k.inheritable {
		return fmt.Sprintf("Key[%v]#%08x(inheritable)", k.typ, k.hash)
	}
	return fmt.Sprintf("Key[%v]#%08x", k.typ, k.hash)
}

// chain selects the environment this key binds into.
func (k *Key) chain(ec *ExecContext) *envNode {
	if k.inheritable {
		return ec.inheritable
	}
	return ec.nonInheritable
}

// Get returns the value bound to k in ec's current dynamic scope. The two
// candidate cache slots are probed first; on a miss the chain is walked and
// the cache repopulated. Returns *NotBoundError if no enclosing scope bound k.
func (k *Key) Get(ec *ExecContext) (any, error) {
	if e := &ec.cache.slots[primaryIndex(k)]; e.key == k {
		return e.value, nil
	}
	if e := &ec.cache.slots[secondaryIndex(k)]; e.key == k {
		return e.value, nil
	}
	return k.slowGet(ec)
}

func (k *Key) slowGet(ec *ExecContext) (any, error) {
	v, ok := find(k.chain(ec), k)
	if !ok {
		return nil, &NotBoundError{Key: k}
	}
	ec.cachePut(k, v)
	return v, nil
}

// IsBound reports whether k has an active binding in ec.
func (k *Key) IsBound(ec *ExecContext) bool {
	_, ok := find(k.chain(ec), k)
	return ok
}

// OrElse returns the bound value, or other if k is not bound. The cache is
// not consulted or populated; this is a plain chain walk.
func (k *Key) OrElse(ec *ExecContext, other any) any {
	if v, ok := find(k.chain(ec), k); ok {
		return v
	}
	return other
}

// OrElseErr returns the bound value, or err if k is not bound.
func (k *Key) OrElseErr(ec *ExecContext, err error) (any, error) {
	if v, ok := find(k.chain(ec), k); ok {
		return v, nil
	}
	return nil, err
}

//// END_OF_PUBLIC

/* ===========================
   PRIVATE: hash generation
   =========================== */

// Key hashes come from a Marsaglia xor-shift generator with full period, so
// 2**32-1 hashes are produced before any repeat. The low indexBits and the
// next indexBits of the hash are the key's two cache indexes; candidates for
// which the two coincide are rejected, so every key occupies two distinct
// cache slots. Key creation is rare and off every hot path, so a single
// mutex around the generator is fine.
var (
	hashMu   sync.Mutex
	nextHash uint32 = 0xf0f0f0f0
)

func generateHash() uint32 {
	hashMu.Lock()
	defer hashMu.Unlock()
	x := nextHash
	for {
		x ^= x >> 12
		x ^= x << 9
		x ^= x >> 23
		if x&cacheTableMask != (x>>cacheIndexBits)&cacheTableMask {
			break
		}
	}
	nextHash = x
	return x
}
