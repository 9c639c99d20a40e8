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

// Package engine is the capability monitor's facade: the state machine
// that gates every operation on a caller domain's seal state and
// monitor-API policy, and mediates all mutation of the region/domain
// trees in internal/core.
package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aghosn/capability-v5/internal/attest"
	"github.com/aghosn/capability-v5/internal/core"
)

// Engine has no state of its own beyond its optional register collaborator:
// every call operates on whichever domain capability the caller passes in,
// the same way the teacher's single-purpose utilities take their subject
// as an explicit argument rather than holding it.
type Engine struct {
	registers RegisterCollaborator
	log       *logrus.Entry
}

func New() *Engine {
	return &Engine{log: logrus.WithField("component", "engine")}
}

// WithRegisters attaches the external core-state collaborator that
// FieldType::Register reads and writes are forwarded to.
func (e *Engine) WithRegisters(r RegisterCollaborator) *Engine {
	e.registers = r
	return e
}

// gate enforces the two preconditions every operation shares: the caller
// must be Sealed, and its policy must grant call.
func (e *Engine) gate(domain *core.DomainNode, call core.MonitorAPI) error {
	if !core.DomainIsSealed(domain) {
		return core.ErrDomainUnsealed
	}
	if !domain.Data.Policies.Api.Contains(call) {
		return core.ErrCallNotAllowed
	}
	return nil
}

// AddRootRegion installs region directly into domain's table without
// gating — the bootstrap-only path used to seed a freshly-created root
// domain before it is sealed, mirroring the original's add_root_region.
func (e *Engine) AddRootRegion(domain *core.DomainNode, region *core.RegionNode) core.LocalCapa {
	handle := domain.Data.Store.Install(core.WrapRegion(region))
	region.Owned = core.Ownership{Owner: domain, Handle: handle}
	return handle
}

// Create installs a new, Unsealed child domain in domain's table. Requires
// cores to be a subset of domain's own core mask.
func (e *Engine) Create(domain *core.DomainNode, cores uint64, api core.MonitorAPI, interrupts core.InterruptPolicy) (core.LocalCapa, error) {
	if err := e.gate(domain, core.ApiCreate); err != nil {
		return 0, err
	}
	if cores&^domain.Data.Policies.Cores != 0 {
		return 0, core.ErrInsufficientRights
	}
	policies := core.Policies{Cores: cores, Api: api, Interrupts: interrupts}
	child := core.NewDomainNode(policies)
	domain.AddChild(child, domain)
	handle := domain.Data.Store.Install(core.WrapDomain(child))
	child.Owned = core.Ownership{Owner: domain, Handle: handle}
	e.log.WithFields(logrus.Fields{"parent": domain.Data.ID, "child": child.Data.ID}).Debug("domain created")
	return handle, nil
}

func lookupDomain(domain *core.DomainNode, child core.LocalCapa) (*core.DomainNode, error) {
	w, err := domain.Data.Store.Get(child)
	if err != nil {
		return nil, errors.Wrapf(err, "local capa %d", child)
	}
	if !w.IsDomain() {
		return nil, core.ErrWrongCapaType
	}
	return w.Domain, nil
}

func lookupRegion(domain *core.DomainNode, capa core.LocalCapa) (*core.RegionNode, error) {
	w, err := domain.Data.Store.Get(capa)
	if err != nil {
		return nil, errors.Wrapf(err, "local capa %d", capa)
	}
	if !w.IsRegion() {
		return nil, core.ErrWrongCapaType
	}
	return w.Region, nil
}

// Set writes one policy (or, via the collaborator, register) field of
// child, a domain capability in domain's table.
func (e *Engine) Set(domain *core.DomainNode, child core.LocalCapa, coreIdx uint64, tpe core.FieldType, field core.Field, value uint64) error {
	if err := e.gate(domain, core.ApiSet); err != nil {
		return err
	}
	if tpe == core.FieldRegister {
		if e.registers == nil {
			return core.ErrInvalidField
		}
		target, err := lookupDomain(domain, child)
		if err != nil {
			return err
		}
		return e.registers.SetRegister(target.Data.ID, coreIdx, uint64(field.Vector), value)
	}
	target, err := lookupDomain(domain, child)
	if err != nil {
		return err
	}
	if core.DomainIsSealed(target) {
		return core.ErrDomainSealed
	}
	return core.DomainSetField(target, coreIdx, tpe, field, value)
}

// Get is Set's read-only counterpart.
func (e *Engine) Get(domain *core.DomainNode, child core.LocalCapa, coreIdx uint64, tpe core.FieldType, field core.Field) (uint64, error) {
	if err := e.gate(domain, core.ApiGet); err != nil {
		return 0, err
	}
	if tpe == core.FieldRegister {
		if e.registers == nil {
			return 0, core.ErrInvalidField
		}
		target, err := lookupDomain(domain, child)
		if err != nil {
			return 0, err
		}
		return e.registers.GetRegister(target.Data.ID, coreIdx, uint64(field.Vector))
	}
	target, err := lookupDomain(domain, child)
	if err != nil {
		return 0, err
	}
	return core.DomainGetField(target, coreIdx, tpe, field)
}

// Seal requires child's policies to be a subset of domain's own, then
// transitions it from Unsealed to Sealed.
func (e *Engine) Seal(domain *core.DomainNode, child core.LocalCapa) error {
	if err := e.gate(domain, core.ApiSeal); err != nil {
		return err
	}
	target, err := lookupDomain(domain, child)
	if err != nil {
		return err
	}
	if !domain.Data.Policies.Contains(target.Data.Policies) {
		return core.ErrInsufficientRights
	}
	return core.SealDomain(target)
}

// Alias creates a non-exclusive child view over capa, a region in domain's
// table, and installs it under a fresh handle.
func (e *Engine) Alias(domain *core.DomainNode, capa core.LocalCapa, access core.Access) (core.LocalCapa, []core.Update, error) {
	if err := e.gate(domain, core.ApiAlias); err != nil {
		return 0, nil, err
	}
	region, err := lookupRegion(domain, capa)
	if err != nil {
		return 0, nil, err
	}
	aliased, err := core.AliasRegion(region, access)
	if err != nil {
		return 0, nil, err
	}
	handle := domain.Data.Store.Install(core.WrapRegion(aliased))
	aliased.Owned = core.Ownership{Owner: domain, Handle: handle}
	return handle, nil, nil
}

// Carve creates an exclusive child over capa that subtracts from the
// parent's own view, emitting ChangeMemory for the caller.
func (e *Engine) Carve(domain *core.DomainNode, capa core.LocalCapa, access core.Access) (core.LocalCapa, []core.Update, error) {
	if err := e.gate(domain, core.ApiCarve); err != nil {
		return 0, nil, err
	}
	region, err := lookupRegion(domain, capa)
	if err != nil {
		return 0, nil, err
	}
	ops := core.NewOperationUpdate()
	if region.Owned.Owner != nil {
		ops.Touch(region.Owned.Owner)
	}
	carved, err := core.CarveRegion(region, access)
	if err != nil {
		return 0, nil, err
	}

	handle := domain.Data.Store.Install(core.WrapRegion(carved))
	carved.Owned = core.Ownership{Owner: domain, Handle: handle}

	if err := ops.Finalize(); err != nil {
		return 0, nil, err
	}
	return handle, ops.Records, nil
}

// Send transfers capa, a region owned by domain, into dest, applying remap
// and attributes. dest must be a domain in domain's table; if dest is
// already Sealed it must grant RECEIVE.
func (e *Engine) Send(domain *core.DomainNode, dest core.LocalCapa, capa core.LocalCapa, remap core.Remap, attrs core.Attributes) ([]core.Update, error) {
	if err := e.gate(domain, core.ApiSend); err != nil {
		return nil, err
	}
	destDomain, err := lookupDomain(domain, dest)
	if err != nil {
		return nil, err
	}
	if core.DomainIsSealed(destDomain) {
		if !destDomain.Data.Policies.Api.Contains(core.ApiReceive) {
			return nil, core.ErrCallNotAllowed
		}
		// Once a domain is sealed, attributes on regions sent into it are
		// frozen: only the original donor (the first, pre-seal send) may set
		// them. A later sender passing non-empty attributes would silently
		// override that freeze.
		if attrs != core.AttrNone {
			return nil, core.ErrInvalidAttributes
		}
	}

	region, err := lookupRegion(domain, capa)
	if err != nil {
		return nil, err
	}
	if region.Data.Attributes.Contains(core.AttrVital) || region.Data.Attributes.Contains(core.AttrClean) {
		return nil, core.ErrInvalidAttributes
	}

	prospective := core.NewViewRegion(region.Data.Access, remap)
	if err := core.DomainCheckConflict(destDomain, core.CoalescedView{Regions: []core.ViewRegion{prospective}}); err != nil {
		return nil, err
	}

	ops := core.NewOperationUpdate()
	ops.Touch(domain)
	if core.DomainIsSealed(destDomain) {
		ops.Touch(destDomain)
	}

	if _, err := domain.Data.Store.Remove(capa); err != nil {
		return nil, err
	}

	region.Data.Remapped = remap
	region.Data.Attributes = attrs

	destHandle := destDomain.Data.Store.Install(core.WrapRegion(region))
	region.Owned = core.Ownership{Owner: destDomain, Handle: destHandle}

	if err := ops.Finalize(); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"from": domain.Data.ID, "to": destDomain.Data.ID}).Debug("region sent")
	return ops.Records, nil
}

// Revoke tears down either a domain capability (capa names a Domain in
// domain's table) or one child of a region capability (capa names a
// Region, childIdx indexes r.Children), cascading per spec.md §4.4.
func (e *Engine) Revoke(domain *core.DomainNode, capa core.LocalCapa, childIdx int) ([]core.Update, error) {
	if err := e.gate(domain, core.ApiRevoke); err != nil {
		return nil, err
	}
	w, err := domain.Data.Store.Get(capa)
	if err != nil {
		return nil, errors.Wrapf(err, "local capa %d", capa)
	}

	ops := core.NewOperationUpdate()

	if w.IsDomain() {
		target := w.Domain
		// DomainOnRevoke removes target's own handle from domain's table
		// once its subtree is fully torn down, so no separate Remove here.
		if err := domain.RevokeChild(target, func(n *core.DomainNode) error {
			return core.DomainOnRevoke(n, ops)
		}); err != nil {
			return nil, err
		}
	} else {
		r := w.Region
		if childIdx < 0 || childIdx >= len(r.Children) {
			return nil, core.ErrInvalidChildCapa
		}
		child := r.Children[childIdx]
		parentOwner := r.Owned.Owner
		if err := r.RevokeChild(child, func(n *core.RegionNode) error {
			var owner *core.DomainNode
			if n == child {
				owner = parentOwner
			}
			return core.RegionOnRevoke(n, owner, ops)
		}); err != nil {
			return nil, err
		}
	}

	if err := e.cascadeRevocations(ops); err != nil {
		return nil, err
	}
	if err := ops.Finalize(); err != nil {
		return nil, err
	}
	return ops.Records, nil
}

// cascadeRevocations processes domains enqueued by a VITAL region's
// teardown (markRevoke); each must be detached from its own parent (if it
// has one — the root domain does not) and walked through RevokeAll so its
// own sub-domains and owned regions are torn down the same way an
// explicit Revoke of that domain would. That walk may itself enqueue
// further domains (a VITAL region nested inside an already-cascading
// domain), so this loops to a fixpoint.
func (e *Engine) cascadeRevocations(ops *core.OperationUpdate) error {
	seen := make(map[*core.DomainNode]bool)
	for {
		pending := ops.ToRevoke()
		progressed := false
		for _, dom := range pending {
			if seen[dom] {
				continue
			}
			seen[dom] = true
			progressed = true
			callback := func(n *core.DomainNode) error { return core.DomainOnRevoke(n, ops) }
			var err error
			if dom.Parent != nil {
				err = core.RevokeNode(dom, callback)
			} else {
				err = dom.RevokeAll(callback)
			}
			if err != nil {
				return err
			}
		}
		if !progressed {
			return nil
		}
	}
}

// Attest renders the caller's own full attestation when other is zero
// (LocalCapa handles start at one, so zero unambiguously means "self"),
// or a named sub-domain's when other resolves to one of the caller's
// own domain capabilities.
func (e *Engine) Attest(domain *core.DomainNode, other core.LocalCapa) (string, error) {
	if err := e.gate(domain, core.ApiAttest); err != nil {
		return "", err
	}
	if other == 0 {
		return attest.Render(domain), nil
	}
	target, err := lookupDomain(domain, other)
	if err != nil {
		return "", err
	}
	return attest.Render(target), nil
}

// Enumerate renders a single capability standalone: a region gets a
// fresh, locally-numbered rendering, a domain gets the same full
// rendering Attest would produce for it.
func (e *Engine) Enumerate(domain *core.DomainNode, capa core.LocalCapa) (string, error) {
	if err := e.gate(domain, core.ApiEnumerate); err != nil {
		return "", err
	}
	w, err := domain.Data.Store.Get(capa)
	if err != nil {
		return "", errors.Wrapf(err, "local capa %d", capa)
	}
	if w.IsRegion() {
		return attest.RenderRegion(w.Region), nil
	}
	return attest.Render(w.Domain), nil
}

// Switch verifies capa names a Sealed domain in domain's table that the
// caller may dispatch to; the scheduling mechanics themselves (register
// save/restore, core hand-off) are an external collaborator's concern.
func (e *Engine) Switch(domain *core.DomainNode, capa core.LocalCapa) (*core.DomainNode, error) {
	if err := e.gate(domain, core.ApiSwitch); err != nil {
		return nil, err
	}
	target, err := lookupDomain(domain, capa)
	if err != nil {
		return nil, err
	}
	if !core.DomainIsSealed(target) {
		return nil, core.ErrDomainUnsealed
	}
	return target, nil
}
