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

// ViewRegion is one segment of a domain's (or a single region's own)
// memory view: a physical access window plus the remap it presents.
type ViewRegion struct {
	Access Access
	Remap  Remap
}

func NewViewRegion(access Access, remap Remap) ViewRegion {
	return ViewRegion{Access: access, Remap: remap}
}

// ActiveStart/ActiveEnd give the coordinate space a view is compared in:
// the remapped (guest-physical) range when remapped, else the physical one.
func (v ViewRegion) ActiveStart() uint64 {
	if v.Remap.Kind == Remapped {
		return v.Remap.GPA
	}
	return v.Access.Start
}

func (v ViewRegion) ActiveEnd() uint64 {
	return v.ActiveStart() + v.Access.Size
}

// ContainsRemap reports whether v fully contains other in active space
// and v's rights are a superset of other's.
func (v ViewRegion) ContainsRemap(other ViewRegion) bool {
	return v.ActiveStart() <= other.ActiveStart() &&
		other.ActiveEnd() <= v.ActiveEnd() &&
		v.Access.Rights.Contains(other.Access.Rights)
}

// Contiguous reports whether other picks up exactly where v ends, both in
// active and physical space, with identical rights.
func (v ViewRegion) Contiguous(other ViewRegion) bool {
	return v.ActiveEnd() == other.ActiveStart() &&
		v.Access.End() == other.Access.Start &&
		v.Access.Rights == other.Access.Rights
}

// OverlapRemap reports whether other's active range starts inside v's.
func (v ViewRegion) OverlapRemap(other ViewRegion) bool {
	return v.ActiveStart() <= other.ActiveStart() && other.ActiveStart() < v.ActiveEnd()
}

// Overlap is OverlapRemap's physical-space counterpart.
func (v ViewRegion) Overlap(other ViewRegion) bool {
	return v.Access.Start <= other.Access.Start && other.Access.Start < v.Access.End()
}

// IntersectRemap reports whether v and other overlap in active space, in
// either order.
func (v ViewRegion) IntersectRemap(other ViewRegion) bool {
	return v.OverlapRemap(other) || other.OverlapRemap(v)
}

// Compatible implements §4.1's view-compatibility rule: two views may
// overlap in active space only if they agree on the translation, i.e. both
// Identity with equal physical ranges, or both Remapped with the same
// ordering and the same offset between physical and active start.
func (v ViewRegion) Compatible(other ViewRegion) bool {
	if v.ActiveStart() <= other.ActiveStart() && !v.OverlapRemap(other) {
		return true
	}
	if v.ActiveStart() >= other.ActiveStart() && !other.OverlapRemap(v) {
		return true
	}
	first, second := v, other
	if other.ActiveStart() < v.ActiveStart() {
		first, second = other, v
	}
	switch {
	case first.Remap.Kind == Identity && second.Remap.Kind == Identity:
		return true
	case first.Remap.Kind == Remapped && second.Remap.Kind == Remapped:
		if first.Access.Start > second.Access.Start {
			return false
		}
		diffActive := second.Remap.GPA - first.Remap.GPA
		diffReal := second.Access.Start - first.Access.Start
		return diffActive == diffReal
	default:
		return false
	}
}

// compareViewRegions orders by active start, then by size. coalesce does
// not use it: it sorts by physical start.
func compareViewRegions(a, b ViewRegion) bool {
	if a.ActiveStart() != b.ActiveStart() {
		return a.ActiveStart() < b.ActiveStart()
	}
	return a.Access.Size < b.Access.Size
}
