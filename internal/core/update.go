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

// UpdateKind tags the side effects an operation can emit: Clean, Revoke and
// ChangeMemory are emitted directly by the operation that causes them; Add
// and Remove are derived afterward by diffing a touched domain's view
// against the snapshot taken when it was first touched.
type UpdateKind int

const (
	UpdateClean UpdateKind = iota
	UpdateRevoke
	UpdateChangeMemory
	UpdateAdd
	UpdateRemove
)

// Update is one side effect record an operation produces, consumed by the
// engine's collaborator seam (TLB/cache shootdown, zero-fill, ...). Only
// the fields relevant to Kind are meaningful.
type Update struct {
	Kind   UpdateKind
	Start  uint64
	Size   uint64
	Domain *DomainNode
	Region ViewRegion
}

// OperationUpdate accumulates the side effects of a single engine
// operation. Clean and Revoke records are appended directly as revoked
// nodes are visited; every domain whose view the operation affects (on the
// region path, the domain path, a VITAL cascade, or a Carve/Send) is
// snapshotted when first touched, which also emits its ChangeMemory
// record, and its before/after views are diffed once the mutation is
// complete (see Finalize) to produce the Add/Remove records — two-phase
// because a single DFS pass cannot know a domain's final view until every
// revoked node under it has been detached.
type OperationUpdate struct {
	Records  []Update
	toRevoke []*DomainNode
	touched  []*DomainNode
	snap     map[*DomainNode]CoalescedView
}

func NewOperationUpdate() *OperationUpdate {
	return &OperationUpdate{snap: make(map[*DomainNode]CoalescedView)}
}

// Touch is touch's exported counterpart, for callers outside this package
// (the engine) that need to register a domain for diffing without driving
// a revocation cascade.
func (u *OperationUpdate) Touch(dom *DomainNode) {
	u.touch(dom)
}

// touch snapshots dom's current view the first time it is seen in this
// operation, before any further mutation to its subtree proceeds, and
// emits the ChangeMemory record signaling the collaborator that dom's
// view will need to be recomputed.
func (u *OperationUpdate) touch(dom *DomainNode) {
	if _, seen := u.snap[dom]; seen {
		return
	}
	view, err := DomainView(dom)
	if err != nil {
		return
	}
	u.snap[dom] = view
	u.touched = append(u.touched, dom)
	u.Records = append(u.Records, Update{Kind: UpdateChangeMemory, Domain: dom})
}

// markRevoke records that dom must itself be transitively revoked — fired
// when a VITAL region's owner is being torn down. The caller (the engine)
// drains ToRevoke and actually performs each domain's revocation, which in
// turn calls DomainOnRevoke and so emits that domain's own Revoke record;
// this list exists only to drive that cascade, not to emit records itself.
func (u *OperationUpdate) markRevoke(dom *DomainNode) {
	for _, d := range u.toRevoke {
		if d == dom {
			return
		}
	}
	u.toRevoke = append(u.toRevoke, dom)
}

func (u *OperationUpdate) addClean(start, size uint64) {
	u.Records = append(u.Records, Update{Kind: UpdateClean, Start: start, Size: size})
}

// ToRevoke lists the domains discovered to need cascading revocation,
// de-duplicated, in discovery order.
func (u *OperationUpdate) ToRevoke() []*DomainNode {
	out := make([]*DomainNode, len(u.toRevoke))
	copy(out, u.toRevoke)
	return out
}

// Finalize diffs each touched domain's post-mutation view against its
// pre-mutation snapshot and appends the resulting Add/Remove records. Call
// this once, after every cascading mutation for the operation (including
// any markRevoke-driven cascade, which emits its own Revoke records as it
// runs) has completed.
func (u *OperationUpdate) Finalize() error {
	for _, dom := range u.touched {
		before := u.snap[dom]
		after, err := DomainView(dom)
		if err != nil {
			return err
		}
		removed := diffViews(before.Regions, after.Regions)
		added := diffViews(after.Regions, before.Regions)
		for _, r := range removed {
			u.Records = append(u.Records, Update{Kind: UpdateRemove, Domain: dom, Region: r})
		}
		for _, r := range added {
			u.Records = append(u.Records, Update{Kind: UpdateAdd, Domain: dom, Region: r})
		}
	}
	return nil
}

// diffViews returns the entries of a that have no equal counterpart in b.
func diffViews(a, b []ViewRegion) []ViewRegion {
	var out []ViewRegion
	for _, va := range a {
		found := false
		for _, vb := range b {
			if va == vb {
				found = true
				break
			}
		}
		if !found {
			out = append(out, va)
		}
	}
	return out
}
