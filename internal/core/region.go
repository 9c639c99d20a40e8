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

import "sort"

type RegionKind int

const (
	Carve RegionKind = iota
	Alias
)

type RegionStatus int

const (
	Exclusive RegionStatus = iota
	Aliased
)

// MemoryRegion is the payload of a region capability node.
type MemoryRegion struct {
	Kind       RegionKind
	Status     RegionStatus
	Access     Access
	Attributes Attributes
	Remapped   Remap
}

// RegionNode names a capability node whose payload is a MemoryRegion. Go
// does not allow methods to be attached to one instantiation of a generic
// type (Capability[MemoryRegion] specifically), so region-specific
// operations are free functions over *RegionNode rather than methods —
// the generic tree operations (AddChild, RevokeChild, ...) remain methods
// on Capability[T] itself.
type RegionNode = Capability[MemoryRegion]

func NewRegionNode(region MemoryRegion) *RegionNode {
	return NewCapability(region)
}

// RegionContained reports whether access fits inside r's own access and
// does not intersect any existing Carve child (and, when strict, any
// existing Alias child either). This is the I1/I2 precondition shared by
// both Alias and Carve.
func RegionContained(r *RegionNode, access Access, strict bool) bool {
	if !access.Contained(r.Data.Access) {
		return false
	}
	for _, child := range r.Children {
		if !strict && child.Data.Kind == Alias {
			continue
		}
		if child.Data.Access.Intersect(access) {
			return false
		}
	}
	return true
}

// aliasOrCarve implements §4.1's alias/carve kernel: containment check,
// remap derivation (I3), status propagation (I4), and insertion as a new,
// attribute-less child in insertion order.
func aliasOrCarve(r *RegionNode, access Access, kind RegionKind) (*RegionNode, error) {
	if access.Size == 0 {
		return nil, ErrInvalidAccess
	}
	// A carve may not intersect any existing carve or alias child (the
	// strict interpretation; see SPEC_FULL.md / spec.md §9).
	if !RegionContained(r, access, kind == Carve) {
		return nil, ErrInvalidAccess
	}

	remap := r.Data.Remapped.Shift(access.Start - r.Data.Access.Start)

	status := r.Data.Status
	if kind == Alias {
		status = Aliased
	}

	child := NewRegionNode(MemoryRegion{
		Kind:       kind,
		Status:     status,
		Access:     access,
		Attributes: AttrNone,
		Remapped:   remap,
	})
	r.Children = append(r.Children, child)
	child.Parent = r
	return child, nil
}

// AliasRegion creates a shared, observability-only child over access; the
// parent's own view is unaffected by it.
func AliasRegion(r *RegionNode, access Access) (*RegionNode, error) {
	return aliasOrCarve(r, access, Alias)
}

// CarveRegion creates an exclusive child over access that subtracts from
// the parent's own view.
func CarveRegion(r *RegionNode, access Access) (*RegionNode, error) {
	return aliasOrCarve(r, access, Carve)
}

// RegionView computes the owner-view of r: the ordered list of segments
// remaining once every Carve child has subtracted its range. Aliases are
// transparent and never shrink the view.
func RegionView(r *RegionNode) []ViewRegion {
	var views []ViewRegion
	start := r.Data.Access.Start
	base := r.Data.Access.Start

	sorted := make([]*RegionNode, len(r.Children))
	copy(sorted, r.Children)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Data.Access.Start < sorted[j].Data.Access.Start
	})

	for _, child := range sorted {
		if child.Data.Kind == Alias {
			continue
		}
		if start <= child.Data.Access.Start {
			remap := r.Data.Remapped.Shift(start - base)
			if child.Data.Access.Start != start {
				views = append(views, NewViewRegion(
					NewAccess(start, child.Data.Access.Start-start, r.Data.Access.Rights),
					remap,
				))
			}
			start = child.Data.Access.End()
		}
	}
	if start < r.Data.Access.End() {
		remap := r.Data.Remapped.Shift(start - base)
		views = append(views, NewViewRegion(
			NewAccess(start, r.Data.Access.End()-start, r.Data.Access.Rights),
			remap,
		))
	}
	return views
}

// RegionViewRaw is the single, un-subtracted view of r's own access —
// used to check for remap conflicts before a send, not to compute a
// domain's coalesced view.
func RegionViewRaw(r *RegionNode) ViewRegion {
	return NewViewRegion(r.Data.Access, r.Data.Remapped)
}

// revokeOwnedRegion tears down the entire subtree rooted at r because r's
// owning domain is itself being revoked — not because r specifically was
// named in a Revoke call. r may or may not have a region-tree parent (a
// root region installed straight into a domain's table has none; a carved
// or aliased region does): when it does, RevokeNode detaches it properly
// from that still-live parent first; when it doesn't, there is nothing to
// detach and r.RevokeAll runs directly. Either way the parent's owner — if
// r was a Carve child — is captured before detachment and threaded through
// to RegionOnRevoke only for r itself, per its formerParentOwner contract.
func revokeOwnedRegion(r *RegionNode, ops *OperationUpdate) error {
	var formerParentOwner *DomainNode
	if r.Parent != nil {
		formerParentOwner = r.Parent.Owned.Owner
	}
	root := r
	callback := func(n *RegionNode) error {
		var owner *DomainNode
		if n == root {
			owner = formerParentOwner
		}
		return RegionOnRevoke(n, owner, ops)
	}
	if r.Parent != nil {
		return RevokeNode(r, callback)
	}
	return r.RevokeAll(callback)
}

// RegionOnRevoke is the per-node visitor fired while walking a revoked
// region subtree (spec.md §4.4's on_revoke_region): it emits Clean if the
// node carries AttrClean, enqueues the owning domain for cascading
// revocation if it carries AttrVital, always touches the owner (emitting
// ChangeMemory), additionally touches formerParentOwner if the node is a
// Carve whose parent regains visibility, and finally removes the node's
// handle from its owner's table. By the time this fires, node.Parent has
// already been cleared by RevokeAll's detach-before-recurse ordering, so
// the caller passes formerParentOwner explicitly — non-nil only for the
// subtree's own root, since that is the only node whose pre-revocation
// parent lies outside the subtree being destroyed.
func RegionOnRevoke(node *RegionNode, formerParentOwner *DomainNode, ops *OperationUpdate) error {
	if node.Data.Attributes.Contains(AttrVital) {
		if node.Owned.Owner != nil {
			ops.markRevoke(node.Owned.Owner)
		}
	}
	if node.Data.Attributes.Contains(AttrClean) {
		ops.addClean(node.Data.Access.Start, node.Data.Access.Size)
	}
	owner := node.Owned.Owner
	if owner != nil {
		ops.touch(owner)
	}
	if node.Data.Kind == Carve && formerParentOwner != nil {
		ops.touch(formerParentOwner)
	}
	if owner != nil {
		_, _ = owner.Data.Store.Remove(node.Owned.Handle)
	}
	return nil
}
