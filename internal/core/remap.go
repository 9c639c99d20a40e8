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

import "fmt"

// Remap tags the guest-physical address a region presents to its owner.
// A zero Remap value is Identity.
type RemapKind int

const (
	Identity RemapKind = iota
	Remapped
)

type Remap struct {
	Kind RemapKind
	GPA  uint64 // valid only when Kind == Remapped
}

func IdentityRemap() Remap {
	return Remap{Kind: Identity}
}

func RemappedTo(gpa uint64) Remap {
	return Remap{Kind: Remapped, GPA: gpa}
}

// Shift translates a remap by delta, the way a child region's remap is
// derived from its parent's (I3): Identity stays Identity, Remapped(x)
// becomes Remapped(x+delta).
func (r Remap) Shift(delta uint64) Remap {
	if r.Kind == Identity {
		return r
	}
	return RemappedTo(r.GPA + delta)
}

func (r Remap) String() string {
	if r.Kind == Identity {
		return "Identity"
	}
	return fmt.Sprintf("Remapped(%#x)", r.GPA)
}
