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

import "sync/atomic"

// MonitorAPI is the 13-bit mask of monitor calls a domain is allowed to
// issue, one bit per operation in spec.md §6.
type MonitorAPI uint16

const (
	ApiCreate MonitorAPI = 1 << iota
	ApiSet
	ApiGet
	ApiSend
	ApiSeal
	ApiAttest
	ApiEnumerate
	ApiSwitch
	ApiCarve
	ApiAlias
	ApiRevoke
	ApiGetChan
	ApiReceive

	apiBitCount = 13
	apiMask     = MonitorAPI(1<<apiBitCount) - 1
)

// Contains reports whether every bit in bits is set in m.
func (m MonitorAPI) Contains(bits MonitorAPI) bool {
	return m&bits == bits
}

// Encapsulated reports whether m sets no bit outside the 13 defined ones —
// the validity check applied to a policy read off the wire or a manifest.
func (m MonitorAPI) Encapsulated() bool {
	return m&^apiMask == 0
}

type VectorVisibility int

const (
	VisibilityHidden VectorVisibility = iota
	VisibilityVisible
)

// VectorPolicy governs one interrupt vector: whether a domain may see it
// fired at all, and which cores may read or write its corresponding
// controller state.
type VectorPolicy struct {
	Visibility VectorVisibility
	ReadSet    uint64
	WriteSet   uint64
}

// Contains reports whether v permits everything other requires: other's
// visibility is no more permissive than v's, and other's read/write sets
// are subsets of v's.
func (v VectorPolicy) Contains(other VectorPolicy) bool {
	if other.Visibility == VisibilityVisible && v.Visibility != VisibilityVisible {
		return false
	}
	return other.ReadSet&^v.ReadSet == 0 && other.WriteSet&^v.WriteSet == 0
}

// NB_INTERRUPTS is the fixed number of interrupt vectors a domain's policy
// covers.
const NB_INTERRUPTS = 256

// InterruptPolicy is the per-vector table of VectorPolicy entries.
type InterruptPolicy [NB_INTERRUPTS]VectorPolicy

// DefaultNoneInterruptPolicy hides every vector and grants no core access.
func DefaultNoneInterruptPolicy() InterruptPolicy {
	return InterruptPolicy{}
}

// DefaultAllInterruptPolicy exposes every vector to every core, the policy
// a root domain is bootstrapped with.
func DefaultAllInterruptPolicy() InterruptPolicy {
	var ip InterruptPolicy
	for i := range ip {
		ip[i] = VectorPolicy{Visibility: VisibilityVisible, ReadSet: ^uint64(0), WriteSet: ^uint64(0)}
	}
	return ip
}

// Contains reports whether ip permits everything other requires, vector by
// vector.
func (ip InterruptPolicy) Contains(other InterruptPolicy) bool {
	for i := range ip {
		if !ip[i].Contains(other[i]) {
			return false
		}
	}
	return true
}

// Set installs policy at vector, bounds-checked against NB_INTERRUPTS.
func (ip *InterruptPolicy) Set(vector int, policy VectorPolicy) error {
	if vector < 0 || vector >= NB_INTERRUPTS {
		return ErrInvalidValue
	}
	ip[vector] = policy
	return nil
}

// FieldType tags which part of a domain's policy or register file a Set /
// Get call addresses (spec.md §6).
type FieldType int

const (
	FieldRegister FieldType = iota
	FieldCores
	FieldApi
	FieldInterruptVisibility
	FieldInterruptRead
	FieldInterruptWrite
)

// Field carries the extra addressing info a policy field needs beyond its
// FieldType: which interrupt vector an InterruptVisibility/Read/Write call
// targets. Cores and Api need no further addressing.
type Field struct {
	Vector int
}

// Policies bundles the three axes a domain is constrained by: which cores
// it may run on, which monitor calls it may issue, and its interrupt table.
type Policies struct {
	Cores      uint64
	Api        MonitorAPI
	Interrupts InterruptPolicy
}

// Contains reports whether p permits everything other requires — the
// subset check applied whenever a domain carves out a child domain's
// policy from its own.
func (p Policies) Contains(other Policies) bool {
	if other.Cores&^p.Cores != 0 {
		return false
	}
	if !p.Api.Contains(other.Api) {
		return false
	}
	return p.Interrupts.Contains(other.Interrupts)
}

type Status int

const (
	Unsealed Status = iota
	Sealed
	Revoked
)

func (s Status) String() string {
	switch s {
	case Unsealed:
		return "unsealed"
	case Sealed:
		return "sealed"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

var domainIDCounter uint64

// nextDomainID hands out the process-wide monotonic domain identifiers
// stored in Domain.ID. They never appear in attestation text, whose
// td0, td1, ... names are assigned afresh by each render. This counter is
// the only mutable state shared outside a single domain/region tree.
func nextDomainID() uint64 {
	return atomic.AddUint64(&domainIDCounter, 1) - 1
}

// Domain is the payload of a domain capability node: its policy, its
// lifecycle status, and its handle table of owned capabilities. Register
// state is deliberately absent — FieldType::Register is routed entirely to
// the engine's external RegisterCollaborator seam, never stored here.
type Domain struct {
	ID       uint64
	Status   Status
	Policies Policies
	Store    *CapabilityStore
}

// DomainNode names a capability node whose payload is a Domain, for the
// same reason RegionNode does (see region.go).
type DomainNode = Capability[Domain]

func NewDomainNode(policies Policies) *DomainNode {
	return NewCapability(Domain{
		ID:       nextDomainID(),
		Status:   Unsealed,
		Policies: policies,
		Store:    NewCapabilityStore(),
	})
}

// SealDomain transitions a domain from Unsealed to Sealed; sealing is a
// one-way door enforced by the engine's gate check on every mutating call.
func SealDomain(d *DomainNode) error {
	if d.Data.Status != Unsealed {
		return ErrDomainSealed
	}
	d.Data.Status = Sealed
	return nil
}

// DomainView computes the coalesced memory view of everything a domain
// owns: every region it holds, each subtracting its own carved children,
// folded together by physical-range coalescing.
func DomainView(d *DomainNode) (CoalescedView, error) {
	view := NewCoalescedView()
	err := d.Data.Store.ForeachRegion(func(_ LocalCapa, r *RegionNode) error {
		for _, vr := range RegionView(r) {
			if err := view.Add(vr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CoalescedView{}, err
	}
	return view, nil
}

// DomainGvaViewRaw lists the un-subtracted access of every region a domain
// owns, used to pre-check a prospective send against remap conflicts
// before mutating anything.
func DomainGvaViewRaw(d *DomainNode) []ViewRegion {
	var out []ViewRegion
	_ = d.Data.Store.ForeachRegion(func(_ LocalCapa, r *RegionNode) error {
		out = append(out, RegionViewRaw(r))
		return nil
	})
	return out
}

// DomainCheckConflict reports ErrIncompatibleRemap if view would overlap
// any of d's existing regions under an incompatible translation.
func DomainCheckConflict(d *DomainNode, view CoalescedView) error {
	existing := DomainGvaViewRaw(d)
	for _, vr := range view.Regions {
		for _, ex := range existing {
			if ex.IntersectRemap(vr) && !ex.Compatible(vr) {
				return ErrIncompatibleRemap
			}
		}
	}
	return nil
}

func DomainIsSealed(d *DomainNode) bool {
	return d.Data.Status == Sealed
}

// DomainOperationAllowed reports whether d is sealed and its policy grants
// call — the two conditions the engine's gate checks, combined into one
// answer without saying which one failed.
func DomainOperationAllowed(d *DomainNode, call MonitorAPI) bool {
	return d.Data.Status == Sealed && d.Data.Policies.Api.Contains(call)
}

// DomainSetField writes one addressable slot of a domain's policy, per
// spec.md §4.3/§6. FieldRegister is never valid here — it is reserved for
// the engine's external RegisterCollaborator and always returns
// ErrInvalidField on this path, matching §4.3's "not permitted here".
func DomainSetField(d *DomainNode, core uint64, tpe FieldType, field Field, value uint64) error {
	switch tpe {
	case FieldInterruptVisibility, FieldInterruptRead, FieldInterruptWrite:
		if field.Vector < 0 || field.Vector >= NB_INTERRUPTS {
			return ErrInvalidValue
		}
	}
	switch tpe {
	case FieldRegister:
		return ErrInvalidField
	case FieldCores:
		d.Data.Policies.Cores = value
		return nil
	case FieldApi:
		api := MonitorAPI(value)
		if !api.Encapsulated() {
			return ErrInvalidValue
		}
		d.Data.Policies.Api = api
		return nil
	case FieldInterruptVisibility:
		vp := d.Data.Policies.Interrupts[field.Vector]
		vp.Visibility = VectorVisibility(value)
		return d.Data.Policies.Interrupts.Set(field.Vector, vp)
	case FieldInterruptRead:
		vp := d.Data.Policies.Interrupts[field.Vector]
		vp.ReadSet = value
		return d.Data.Policies.Interrupts.Set(field.Vector, vp)
	case FieldInterruptWrite:
		vp := d.Data.Policies.Interrupts[field.Vector]
		vp.WriteSet = value
		return d.Data.Policies.Interrupts.Set(field.Vector, vp)
	default:
		return ErrInvalidField
	}
}

// DomainGetField is DomainSetField's read-side counterpart.
func DomainGetField(d *DomainNode, core uint64, tpe FieldType, field Field) (uint64, error) {
	switch tpe {
	case FieldRegister:
		return 0, ErrInvalidField
	case FieldCores:
		return d.Data.Policies.Cores, nil
	case FieldApi:
		return uint64(d.Data.Policies.Api), nil
	case FieldInterruptVisibility:
		if field.Vector < 0 || field.Vector >= NB_INTERRUPTS {
			return 0, ErrInvalidValue
		}
		return uint64(d.Data.Policies.Interrupts[field.Vector].Visibility), nil
	case FieldInterruptRead:
		if field.Vector < 0 || field.Vector >= NB_INTERRUPTS {
			return 0, ErrInvalidValue
		}
		return d.Data.Policies.Interrupts[field.Vector].ReadSet, nil
	case FieldInterruptWrite:
		if field.Vector < 0 || field.Vector >= NB_INTERRUPTS {
			return 0, ErrInvalidValue
		}
		return d.Data.Policies.Interrupts[field.Vector].WriteSet, nil
	default:
		return 0, ErrInvalidField
	}
}

// DomainOnRevoke is the per-node visitor fired while walking a revoked
// domain subtree (the counterpart of RegionOnRevoke): it marks the domain
// Revoked, touches its owner for a view refresh, tears down every region
// it owns, and removes its own handle from its owner's table. By the time
// this fires — whether reached through RevokeAll's own Children recursion
// or through a VITAL-triggered cascade elsewhere in the tree — node's
// sub-domain Children have already been detached and visited: RevokeAll
// walks Children bottom-up before invoking this callback on node itself,
// so DomainOnRevoke only needs to account for what Children never covers,
// namely the region tree a domain's handle table points into.
func DomainOnRevoke(node *DomainNode, ops *OperationUpdate) error {
	node.Data.Status = Revoked
	ops.Records = append(ops.Records, Update{Kind: UpdateRevoke, Domain: node})
	owner := node.Owned.Owner
	if owner != nil {
		ops.touch(owner)
	}
	var err error
	for _, h := range node.Data.Store.Handles() {
		w, getErr := node.Data.Store.Get(h)
		if getErr != nil || !w.IsRegion() {
			continue
		}
		if revokeErr := revokeOwnedRegion(w.Region, ops); revokeErr != nil && err == nil {
			err = revokeErr
		}
	}
	node.Data.Store.Reset()
	if owner != nil {
		_, _ = owner.Data.Store.Remove(node.Owned.Handle)
	}
	return err
}
