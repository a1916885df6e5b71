// errors.go — the package's error kinds.
//
// Three kinds, all caller bugs, all propagated synchronously and never
// retried or suppressed here:
//
//   - *NotBoundError: a key was read with no active binding in the consulted
//     chain. Returned by Key.Get.
//   - *TypeMismatchError: a value offered for binding does not satisfy the
//     key's declared type. Raised at bind time by Where (panic: the call
//     site is statically wrong, there is nothing to handle).
//   - *LifetimeError: a guarded resource was accessed outside its owning
//     dynamic scope. Returned by Guard.Check.
//
// Callers discriminate with errors.As. Scope restoration is not an error
// path: it runs under defer and succeeds even when the body failed.
package loom

import (
	"fmt"
	"reflect"
)

// NotBoundError reports a read of a key that no enclosing scope has bound.
type NotBoundError struct {
	Key *Key
}

func (e *NotBoundError) Error() string {
	return fmt.Sprintf("loom: %v is not bound in the current context", e.Key)
}

// TypeMismatchError reports a bind-time type check failure. Have is the
// offered value's type, or nil when an untyped nil was offered for a key
// whose declared type has no nil.
type TypeMismatchError struct {
	Key  *Key
	Have reflect.Type
}

func (e *TypeMismatchError) Error() string {
	if e.Have == nil {
		return fmt.Sprintf("loom: cannot bind nil to %v", e.Key)
	}
	return fmt.Sprintf("loom: cannot bind value of type %v to %v", e.Have, e.Key)
}

// LifetimeError reports access to a resource whose creating scope has
// exited. Index identifies the offending lifetime token.
type LifetimeError struct {
	Index uint64
}

func (e *LifetimeError) Error() string {
	return fmt.Sprintf("loom: resource used outside its owning dynamic scope (lifetime %d)", e.Index)
}
