// env.go — the immutable binding chain.
//
// An environment is a singly-linked list of nodes, each node making a group
// of key/value pairs visible. Nodes are never mutated once installed and
// `prev` always points at an older node, so the structure is acyclic and can
// be read from any number of goroutines without coordination. Environments
// built at different times may share a common suffix; a node lives at least
// as long as any environment that can reach it.
//
// The linear walk here is the ground truth for every lookup. The cache in
// cache.go is an overlay that must never disagree with it.
package loom

// envNode makes one group of bindings visible on top of prev. primaryBits and
// secondaryBits record which cache slots the group's keys map to; primaryBits
// doubles as a prefilter so that find can skip nodes that cannot possibly
// hold the key it is looking for.
type envNode struct {
	prev          *envNode
	group         *bindingLink
	primaryBits   uint16
	secondaryBits uint16
}

// bindingLink is one key/value pair inside a node's group. The group list is
// built by prepending, so within one node the pair added last is found first;
// a duplicate key in one set therefore resolves to the value added last.
type bindingLink struct {
	key   *Key
	value any
	next  *bindingLink
}

// find walks the chain from env and returns the value of the first binding
// of key, by identity. The second result is false if the chain is exhausted.
func find(env *envNode, key *Key) (any, bool) {
	pbit := uint16(1) << primaryIndex(key)
	for n := env; n != nil; n = n.prev {
		if n.primaryBits&pbit == 0 {
			continue
		}
		for l := n.group; l != nil; l = l.next {
			if l.key == key {
				return l.value, true
			}
		}
	}
	return nil, false
}
