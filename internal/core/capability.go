//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package core

// LocalCapa is the opaque integer a domain uses to name a capability it owns.
// Zero is reserved; handles are allocated starting at one.
type LocalCapa uint64

// Ownership records which domain a capability node is installed in and
// under which local handle. Owner is a plain, nil-able pointer rather than
// a reference-counted weak pointer: Go's collector tolerates the cycles a
// Rc/RefCell graph cannot, so "upgrading" a stale owner is just a nil
// check (see SPEC_FULL.md §3).
type Ownership struct {
	Owner  *Capability[Domain]
	Handle LocalCapa
}

func emptyOwnership() Ownership {
	return Ownership{}
}

// Capability is the generic capability-tree node, parameterized over its
// payload kind (MemoryRegion or Domain). Parent and Owned.Owner are
// logical back-references: a nil value means "detached" / "not owned",
// exactly where the original's Weak::upgrade() would fail.
type Capability[T any] struct {
	Owned    Ownership
	Data     T
	Parent   *Capability[T]
	Children []*Capability[T]
}

// NewCapability wraps data in a fresh, parentless, unowned node.
func NewCapability[T any](data T) *Capability[T] {
	return &Capability[T]{
		Owned: emptyOwnership(),
		Data:  data,
	}
}

// AddChild appends child to c's children, in insertion order, and records
// the domain that will own it (the handle is filled in separately once
// the owner installs the capability in its table).
func (c *Capability[T]) AddChild(child *Capability[T], owner *Capability[Domain]) {
	child.Owned = Ownership{Owner: owner, Handle: 0}
	child.Parent = c
	c.Children = append(c.Children, child)
}

// RevokeNode revokes node from its parent; it requires node to have a
// live parent link, else ErrRevokeOnRootCapa (used when the caller holds
// only the subject node, not its parent).
func RevokeNode[T any](node *Capability[T], onRevoke func(*Capability[T]) error) error {
	parent := node.Parent
	if parent == nil {
		return ErrRevokeOnRootCapa
	}
	return parent.RevokeChild(node, onRevoke)
}

// RevokeChild finds child by pointer identity (never payload equality —
// two distinct alias nodes may carry identical payloads), detaches it,
// and recursively revokes its subtree.
func (c *Capability[T]) RevokeChild(child *Capability[T], onRevoke func(*Capability[T]) error) error {
	pos := -1
	for i, ch := range c.Children {
		if ch == child {
			pos = i
			break
		}
	}
	if pos < 0 {
		return ErrChildNotFound
	}
	removed := c.Children[pos]
	c.Children = append(c.Children[:pos], c.Children[pos+1:]...)
	removed.Parent = nil
	return removed.RevokeAll(onRevoke)
}

// RevokeAll detaches every child of c, recursing bottom-up, then invokes
// onRevoke(c) once c's own subtree is empty. Destructive steps per node
// are ordered clear-parent -> recurse -> callback so that a failure deep
// in the subtree leaves every already-visited node in a consistent,
// fully-detached state (the documented partial-revocation behavior).
func (c *Capability[T]) RevokeAll(onRevoke func(*Capability[T]) error) error {
	for _, child := range c.Children {
		child.Parent = nil
		if err := child.RevokeAll(onRevoke); err != nil {
			return err
		}
	}
	c.Children = nil
	return onRevoke(c)
}

// DFS visits c and then each child, pre-order, invoking visit on every node.
func (c *Capability[T]) DFS(visit func(*Capability[T]) error) error {
	if err := visit(c); err != nil {
		return err
	}
	for _, child := range c.Children {
		if err := child.DFS(visit); err != nil {
			return err
		}
	}
	return nil
}
