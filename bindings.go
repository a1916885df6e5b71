// bindings.go — composing bindings and running code under them.
//
// A Bindings value accumulates key/value pairs and activates them as one
// unit. The builder is persistent: Where returns a new value and never
// mutates its receiver, so a common prefix can be extended in two directions
// and each result activated independently.
//
// Activation follows a strict acquire/release discipline. Run and Call
//  1. invalidate the cache slots the set's keys can occupy,
//  2. save the context's environment pointers,
//  3. install one new chain node per affected chain (inheritable keys and
//     non-inheritable keys travel on separate chains, and one set may mix
//     both),
//  4. run the body,
//  5. restore the saved pointers and re-invalidate the same slots — under
//     defer, so a body that returns an error or panics still leaves the
//     context exactly as it found it. A panic is rethrown unchanged.
package loom

import "reflect"

// Bindings is an immutable set of key/value pairs plus the two bitmasks
// naming every cache slot its keys map to. The zero of the masks never
// occurs: a Bindings always holds at least one pair.
type Bindings struct {
	inheritables    *bindingLink
	nonInheritables *bindingLink
	primaryBits     uint16
	secondaryBits   uint16
}

// Where starts a binding set with a single pair. The value is checked
// against the key's declared type here, at bind time; a mismatch panics
// with *TypeMismatchError. See Key.Get for how values are read back.
func Where(key *Key, value any) *Bindings {
	return (&Bindings{}).Where(key, value)
}

// Where returns a copy of b extended with one more pair. b is not modified.
func (b *Bindings) Where(key *Key, value any) *Bindings {
	checkBindable(key, value)
	nb := &Bindings{
		inheritables:    b.inheritables,
		nonInheritables: b.nonInheritables,
		primaryBits:     b.primaryBits | 1<<primaryIndex(key),
		secondaryBits:   b.secondaryBits | 1<<secondaryIndex(key),
	}
	link := &bindingLink{key: key, value: value}
	if key.inheritable {
		link.next = nb.inheritables
		nb.inheritables = link
	} else {
		link.next = nb.nonInheritables
		nb.nonInheritables = link
	}
	return nb
}

// Run executes op with b's bindings in effect on ec and returns op's error
// unchanged. The bindings are invisible once Run returns, on every exit path.
func (b *Bindings) Run(ec *ExecContext, op func() error) error {
	defer b.install(ec)()
	return op()
}

// Call is Run for value-returning bodies.
func (b *Bindings) Call(ec *ExecContext, op func() (any, error)) (any, error) {
	defer b.install(ec)()
	return op()
}

//// END_OF_PUBLIC

// install swaps b's bindings in and returns the function that swaps them
// back out. Both chain pointers are saved unconditionally; a chain with no
// pairs in this set keeps its current head.
func (b *Bindings) install(ec *ExecContext) func() {
	mask := b.primaryBits | b.secondaryBits
	ec.cache.invalidate(mask)
	prevInh := ec.inheritable
	prevNon := ec.nonInheritable
	if b.inheritables != nil {
		ec.inheritable = &envNode{
			prev:          prevInh,
			group:         b.inheritables,
			primaryBits:   b.primaryBits,
			secondaryBits: b.secondaryBits,
		}
	}
	if b.nonInheritables != nil {
		ec.nonInheritable = &envNode{
			prev:          prevNon,
			group:         b.nonInheritables,
			primaryBits:   b.primaryBits,
			secondaryBits: b.secondaryBits,
		}
	}
	return func() {
		ec.inheritable = prevInh
		ec.nonInheritable = prevNon
		ec.cache.invalidate(mask)
	}
}

// checkBindable enforces the key's declared type. nil is accepted only for
// declared types that have a nil value.
func checkBindable(key *Key, value any) {
	if value == nil {
		switch key.typ.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface,
			reflect.Map, reflect.Pointer, reflect.Slice:
			return
		}
		panic(&TypeMismatchError{Key: key, Have: nil})
	}
	if t := reflect.TypeOf(value); !t.AssignableTo(key.typ) {
		panic(&TypeMismatchError{Key: key, Have: t})
	}
}
