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

// mergeAt is the view-coalescing kernel: given a sorted slice of regions
// and an index, it folds regions[idx] and regions[idx+1] into one record
// when they are contained, contiguous, or physically-overlapping, and
// otherwise leaves them untouched. It returns the index to resume at.
func mergeAt(idx int, regions []ViewRegion) ([]ViewRegion, int, error) {
	if idx == len(regions)-1 {
		return regions, len(regions), nil
	}

	current := regions[idx]
	other := regions[idx+1]

	// Case 1: current fully contains other in active space.
	if current.ContainsRemap(other) {
		if !(current.Access.Start <= other.Access.Start && other.Access.End() <= current.Access.End()) {
			return regions, 0, ErrDoubleRemapping
		}
		regions = append(regions[:idx+1], regions[idx+2:]...)
		return regions, idx, nil
	}

	// Case 2: contiguous, fuse into one record.
	if current.Contiguous(other) {
		current = NewViewRegion(
			NewAccess(current.Access.Start, current.Access.Size+other.Access.Size, current.Access.Rights),
			current.Remap,
		)
		regions[idx] = current
		regions = append(regions[:idx+1], regions[idx+2:]...)
		return regions, idx, nil
	}

	// Case 3: physical overlap, split into at most three pieces.
	if current.OverlapRemap(other) {
		if !current.Overlap(other) {
			return regions, 0, ErrDoubleRemapping
		}
		middleRemap := current.Remap.Shift(other.Access.Start - current.Access.Start)
		middleSize := min64(current.Access.End(), other.Access.End()) - other.Access.Start
		middle := NewViewRegion(
			NewAccess(other.Access.Start, middleSize, current.Access.Rights.Union(other.Access.Rights)),
			middleRemap,
		)

		remainder := max64(current.Access.End(), other.Access.End())
		var rights Rights
		if remainder == current.Access.End() {
			rights = current.Access.Rights
		} else {
			rights = other.Access.Rights
		}

		current.Access.Size = middle.Access.Start - current.Access.Start
		other.Access.Start = middle.Access.End()
		other.Access.Size = remainder - other.Access.Start
		other.Access.Rights = rights
		other.Remap = other.Remap.Shift(middle.Access.Size)

		regions[idx] = current
		regions[idx+1] = other

		if current.Access.Size == 0 {
			regions[idx] = middle
		} else {
			tail := append([]ViewRegion{middle}, regions[idx+1:]...)
			regions = append(regions[:idx+1], tail...)
		}
		return regions, idx, nil
	}

	return regions, idx + 1, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// coalesce sorts regions by physical start and repeatedly applies mergeAt
// until every adjacent pair has been considered (I9: the result depends
// only on the input set, not on call order).
func coalesce(regions []ViewRegion) ([]ViewRegion, error) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Access.Start < regions[j].Access.Start
	})
	curr := 0
	var err error
	for curr < len(regions) {
		regions, curr, err = mergeAt(curr, regions)
		if err != nil {
			return nil, err
		}
	}
	return regions, nil
}

// CoalescedView is the canonical, sorted, coalesced memory map of a domain.
type CoalescedView struct {
	Regions []ViewRegion
}

func NewCoalescedView() CoalescedView {
	return CoalescedView{}
}

func CoalescedViewFrom(regions []ViewRegion) (CoalescedView, error) {
	cp := make([]ViewRegion, len(regions))
	copy(cp, regions)
	merged, err := coalesce(cp)
	if err != nil {
		return CoalescedView{}, err
	}
	return CoalescedView{Regions: merged}, nil
}

// Add appends a region and re-coalesces the whole view.
func (c *CoalescedView) Add(region ViewRegion) error {
	c.Regions = append(c.Regions, region)
	merged, err := coalesce(c.Regions)
	if err != nil {
		return err
	}
	c.Regions = merged
	return nil
}

// Sub removes region from every intersecting entry: drop it if fully
// covered (including rights), strip the removed rights if covered in
// range but not in rights, else split into left / reduced-rights middle /
// right pieces.
func (c *CoalescedView) Sub(region ViewRegion) error {
	idx := 0
	for idx < len(c.Regions) {
		current := c.Regions[idx]
		if !current.IntersectRemap(region) {
			idx++
			continue
		}
		if !current.Compatible(region) {
			return ErrIncompatibleRemap
		}

		if region.ContainsRemap(current) {
			c.Regions = append(c.Regions[:idx], c.Regions[idx+1:]...)
			continue
		}

		if region.ActiveStart() <= current.ActiveStart() && current.ActiveEnd() <= region.ActiveEnd() {
			current.Access.Rights = current.Access.Rights.Remove(region.Access.Rights)
			c.Regions[idx] = current
			idx++
			continue
		}

		rights := current.Access.Rights.Remove(region.Access.Rights)
		var replace []ViewRegion

		if region.ActiveStart() > current.ActiveStart() {
			left := NewViewRegion(
				NewAccess(current.Access.Start, region.Access.Start-current.Access.Start, current.Access.Rights),
				current.Remap,
			)
			replace = append(replace, left)
		}

		if !rights.IsEmpty() {
			start := max64(current.Access.Start, region.Access.Start)
			end := min64(current.Access.End(), region.Access.End())
			middle := NewViewRegion(
				NewAccess(start, end-start, rights),
				current.Remap.Shift(start-current.Access.Start),
			)
			replace = append(replace, middle)
		}

		if region.ActiveEnd() < current.ActiveEnd() {
			right := NewViewRegion(
				NewAccess(region.Access.End(), current.Access.End()-region.Access.End(), current.Access.Rights),
				current.Remap.Shift(region.Access.End()-current.Access.Start),
			)
			replace = append(replace, right)
		}

		tail := append(replace, c.Regions[idx+1:]...)
		c.Regions = append(c.Regions[:idx], tail...)
		idx += len(replace)
	}
	return nil
}
