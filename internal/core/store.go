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

// CapaWrapper is the sum of the two kinds of node a domain's handle table
// can name. Exactly one of Region or Domain is non-nil.
type CapaWrapper struct {
	Region *RegionNode
	Domain *DomainNode
}

func WrapRegion(r *RegionNode) CapaWrapper { return CapaWrapper{Region: r} }
func WrapDomain(d *DomainNode) CapaWrapper { return CapaWrapper{Domain: d} }

func (w CapaWrapper) IsRegion() bool { return w.Region != nil }
func (w CapaWrapper) IsDomain() bool { return w.Domain != nil }

// CapabilityStore is a domain's local handle table: an ordered map from
// LocalCapa to the capability node it names, with handle recycling on
// removal. Iteration order is installation order (a recycled handle is
// placed at the end, like any new installation) and is load-bearing — it
// is what gives attestation text its deterministic td0/td1/r0/r1 naming.
type CapabilityStore struct {
	entries map[LocalCapa]CapaWrapper
	order   []LocalCapa
	free    []LocalCapa
	next    LocalCapa
}

func NewCapabilityStore() *CapabilityStore {
	return &CapabilityStore{
		entries: make(map[LocalCapa]CapaWrapper),
		next:    1,
	}
}

// Install assigns the next available handle (reusing a freed one first)
// and binds it to w.
func (s *CapabilityStore) Install(w CapaWrapper) LocalCapa {
	var h LocalCapa
	if n := len(s.free); n > 0 {
		h = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		h = s.next
		s.next++
	}
	s.entries[h] = w
	s.order = append(s.order, h)
	return h
}

// InstallAt binds w at an explicit handle, failing if it is already taken.
// Used by the attestation parser to restore the handle numbering recorded
// in the text.
func (s *CapabilityStore) InstallAt(h LocalCapa, w CapaWrapper) error {
	if h == 0 {
		return ErrInvalidLocalCapa
	}
	if _, exists := s.entries[h]; exists {
		return ErrInvalidLocalCapa
	}
	s.entries[h] = w
	s.order = append(s.order, h)
	if h >= s.next {
		s.next = h + 1
	}
	return nil
}

// Remove detaches and returns the entry at h, recycling the handle.
func (s *CapabilityStore) Remove(h LocalCapa) (CapaWrapper, error) {
	w, ok := s.entries[h]
	if !ok {
		return CapaWrapper{}, ErrInvalidLocalCapa
	}
	delete(s.entries, h)
	for i, oh := range s.order {
		if oh == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.free = append(s.free, h)
	return w, nil
}

func (s *CapabilityStore) Get(h LocalCapa) (CapaWrapper, error) {
	w, ok := s.entries[h]
	if !ok {
		return CapaWrapper{}, ErrInvalidLocalCapa
	}
	return w, nil
}

// Handles lists the live handles in iteration order.
func (s *CapabilityStore) Handles() []LocalCapa {
	out := make([]LocalCapa, len(s.order))
	copy(out, s.order)
	return out
}

// ForeachRegion visits every region-kind entry, in iteration order.
func (s *CapabilityStore) ForeachRegion(fn func(LocalCapa, *RegionNode) error) error {
	for _, h := range s.order {
		w := s.entries[h]
		if w.IsRegion() {
			if err := fn(h, w.Region); err != nil {
				return err
			}
		}
	}
	return nil
}

// ForeachDomain visits every domain-kind entry, in iteration order.
func (s *CapabilityStore) ForeachDomain(fn func(LocalCapa, *DomainNode) error) error {
	for _, h := range s.order {
		w := s.entries[h]
		if w.IsDomain() {
			if err := fn(h, w.Domain); err != nil {
				return err
			}
		}
	}
	return nil
}

// ForeachAll visits every entry regardless of kind, in iteration order.
func (s *CapabilityStore) ForeachAll(fn func(LocalCapa, CapaWrapper) error) error {
	for _, h := range s.order {
		if err := fn(h, s.entries[h]); err != nil {
			return err
		}
	}
	return nil
}

// Reset empties the table, discarding the free list and handle counter —
// used only when a domain itself is being torn down.
func (s *CapabilityStore) Reset() {
	s.entries = make(map[LocalCapa]CapaWrapper)
	s.order = nil
	s.free = nil
	s.next = 1
}

func (s *CapabilityStore) Len() int {
	return len(s.entries)
}
