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

// Package attest renders and parses the canonical attestation text format
// (spec.md §4.5): a domain's owned capabilities and policy, in a
// deterministic, human-readable form that the parser can read back.
package attest

import (
	"fmt"
	"strings"

	"github.com/aghosn/capability-v5/internal/core"
)

// names assigns the deterministic tdN/rN numbering a render pass hands out
// as it discovers capability nodes, in the order spec.md requires: owned
// capabilities first (in handle-table order), then any "extra" regions
// reachable only as a child of an owned region. Plain pointer-keyed maps
// stand in for the original's reference-counted lookup key — Go pointers
// are natively comparable, so no wrapper type is needed.
type names struct {
	region      map[*core.RegionNode]int
	regionOrder []*core.RegionNode
	domain      map[*core.DomainNode]int
	domainOrder []*core.DomainNode
	nextRegion  int
	nextDomain  int
}

func newNames() *names {
	return &names{
		region:     make(map[*core.RegionNode]int),
		domain:     make(map[*core.DomainNode]int),
		nextDomain: 1, // td0 is always the domain being rendered.
	}
}

func (n *names) nameRegion(r *core.RegionNode) int {
	if id, ok := n.region[r]; ok {
		return id
	}
	id := n.nextRegion
	n.nextRegion++
	n.region[r] = id
	n.regionOrder = append(n.regionOrder, r)
	return id
}

func (n *names) nameDomain(d *core.DomainNode) int {
	if id, ok := n.domain[d]; ok {
		return id
	}
	id := n.nextDomain
	n.nextDomain++
	n.domain[d] = id
	n.domainOrder = append(n.domainOrder, d)
	return id
}

// Render produces the full canonical attestation of domain, the text
// "td0 = ..." blocks an Attest call returns for the caller itself or a
// named sub-domain. Only domain's own direct sub-domains get a block of
// their own; the capabilities those sub-domains own are named in their
// headers but never expanded into a further block — a one-level
// limitation carried over unchanged from the format this mirrors (see
// DESIGN.md).
func Render(domain *core.DomainNode) string {
	nt := newNames()
	var buf strings.Builder

	var owned []*core.RegionNode
	_ = domain.Data.Store.ForeachRegion(func(_ core.LocalCapa, r *core.RegionNode) error {
		nt.nameRegion(r)
		owned = append(owned, r)
		return nil
	})
	// Extra regions: children of an owned region not themselves owned by
	// this domain. Named right after the owned set, before anything else.
	for _, r := range owned {
		for _, c := range r.Children {
			nt.nameRegion(c)
		}
	}

	buf.WriteString("td0 = ")
	writeHeader(&buf, domain, nt)

	// Only domain's immediate sub-domains get their own block, fixed at
	// this point even though rendering them below may name further
	// grandchild domains that never get a block of their own.
	children := append([]*core.DomainNode(nil), nt.domainOrder...)
	for _, td := range children {
		fmt.Fprintf(&buf, "td%d = ", nt.nameDomain(td))
		writeHeader(&buf, td, nt)
	}

	regionSet := make(map[*core.RegionNode]bool, len(owned))
	for _, r := range owned {
		regionSet[r] = true
		for _, c := range r.Children {
			if _, ok := regionSet[c]; !ok {
				regionSet[c] = false
			}
		}
	}
	for _, r := range nt.regionOrder {
		full, ok := regionSet[r]
		if !ok {
			continue
		}
		fmt.Fprintf(&buf, "r%d = ", nt.nameRegion(r))
		writeRegion(&buf, r, nt, full)
		buf.WriteString("\n")
	}

	if domain.Data.Store.Len() > 0 {
		buf.WriteString("|indices:")
		for _, h := range domain.Data.Store.Handles() {
			w, _ := domain.Data.Store.Get(h)
			if w.IsRegion() {
				fmt.Fprintf(&buf, " %d->r%d", h, nt.nameRegion(w.Region))
			} else {
				fmt.Fprintf(&buf, " %d->td%d", h, nt.nameDomain(w.Domain))
			}
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// writeHeader writes one domain's "{Status} domain(tdA,tdB,rC,...)" line
// and its policy lines. It names d's own regions and direct sub-domains
// as a side effect if they are not already named.
func writeHeader(buf *strings.Builder, d *core.DomainNode, nt *names) {
	fmt.Fprintf(buf, "%s domain(", statusName(d.Data.Status))

	var owned []*core.RegionNode
	_ = d.Data.Store.ForeachRegion(func(_ core.LocalCapa, r *core.RegionNode) error {
		nt.nameRegion(r)
		owned = append(owned, r)
		return nil
	})
	var tdStrs []string
	_ = d.Data.Store.ForeachDomain(func(_ core.LocalCapa, sub *core.DomainNode) error {
		tdStrs = append(tdStrs, fmt.Sprintf("td%d", nt.nameDomain(sub)))
		return nil
	})

	sortRegionsByName(owned, nt)
	var regionStrs []string
	for _, r := range owned {
		regionStrs = append(regionStrs, fmt.Sprintf("r%d", nt.nameRegion(r)))
	}

	buf.WriteString(strings.Join(tdStrs, ","))
	if len(tdStrs) > 0 && len(regionStrs) > 0 {
		buf.WriteString(",")
	}
	buf.WriteString(strings.Join(regionStrs, ","))
	buf.WriteString(")\n")

	writePolicies(buf, d.Data.Policies)
}

func sortRegionsByName(rs []*core.RegionNode, nt *names) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && nt.region[rs[j-1]] > nt.region[rs[j]]; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

func writePolicies(buf *strings.Builder, p core.Policies) {
	fmt.Fprintf(buf, "|cores: %#x\n", p.Cores)
	fmt.Fprintf(buf, "|mon.api: %#x\n", uint64(p.Api))
	writeInterrupts(buf, p.Interrupts)
}

// writeInterrupts run-length-encodes the 256-entry vector table: a run of
// identical VectorPolicy entries prints as one "|vecA-B: ..." line (or
// "|vecA: ..." for a singleton).
func writeInterrupts(buf *strings.Builder, ip core.InterruptPolicy) {
	start := 0
	vector := ip[0]
	for i := 1; i < core.NB_INTERRUPTS; i++ {
		if ip[i] == vector {
			continue
		}
		writeVectorRange(buf, start, i-1, vector)
		start = i
		vector = ip[i]
	}
	writeVectorRange(buf, start, core.NB_INTERRUPTS-1, vector)
}

func writeVectorRange(buf *strings.Builder, start, end int, vp core.VectorPolicy) {
	if start == end {
		fmt.Fprintf(buf, "|vec%d: %s\n", start, vectorPolicyString(vp))
		return
	}
	fmt.Fprintf(buf, "|vec%d-%d: %s\n", start, end, vectorPolicyString(vp))
}

func vectorPolicyString(vp core.VectorPolicy) string {
	return fmt.Sprintf("%s, r: %#x, w: %#x", visibilityString(vp.Visibility), vp.ReadSet, vp.WriteSet)
}

// visibilityString renders the two visibility states this implementation
// carries. The format this mirrors has a 4-valued ALLOWED|VISIBLE
// bitflag; see DESIGN.md for why VectorVisibility here is a plain
// two-state enum instead.
func visibilityString(v core.VectorVisibility) string {
	if v == core.VisibilityVisible {
		return "VISIBLE"
	}
	return "NOT REPORTED"
}

func statusName(s core.Status) string {
	switch s {
	case core.Sealed:
		return "Sealed"
	case core.Revoked:
		return "Revoked"
	default:
		return "Unsealed"
	}
}

func regionStatusName(s core.RegionStatus) string {
	if s == core.Aliased {
		return "Aliased"
	}
	return "Exclusive"
}

func kindName(k core.RegionKind) string {
	if k == core.Alias {
		return "Alias"
	}
	return "Carve"
}

func rightsString(r core.Rights) string {
	var b [3]byte
	b[0] = bit(r.Contains(core.Read), 'R')
	b[1] = bit(r.Contains(core.Write), 'W')
	b[2] = bit(r.Contains(core.Execute), 'X')
	return string(b[:])
}

func bit(set bool, c byte) byte {
	if set {
		return c
	}
	return '_'
}

func attributesString(a core.Attributes) string {
	var b strings.Builder
	if a.Contains(core.AttrHash) {
		b.WriteByte('H')
	}
	if a.Contains(core.AttrClean) {
		b.WriteByte('C')
	}
	if a.Contains(core.AttrVital) {
		b.WriteByte('V')
	}
	return b.String()
}

func accessString(a core.Access) string {
	return fmt.Sprintf("%#x %#x with %s", a.Start, a.End(), rightsString(a.Rights))
}

// writeRegion writes r's own "{Status} {access} mapped {remap} [attrs]"
// line. When full, it additionally lists each direct child as
// "| {Kind} at {access} for rN" — a region appears in that child list
// only one level deep, even if it has grandchildren of its own.
func writeRegion(buf *strings.Builder, r *core.RegionNode, nt *names, full bool) {
	fmt.Fprintf(buf, "%s %s mapped %s", regionStatusName(r.Data.Status), accessString(r.Data.Access), r.Data.Remapped.String())
	if !r.Data.Attributes.IsEmpty() {
		fmt.Fprintf(buf, " %s", attributesString(r.Data.Attributes))
	}
	if !full {
		return
	}
	for _, c := range r.Children {
		fmt.Fprintf(buf, "\n| %s at %s for r%d", kindName(c.Data.Kind), accessString(c.Data.Access), nt.nameRegion(c))
	}
}

// RenderRegion renders a single region standalone, the form an Enumerate
// call on a region handle returns: its own line plus one level of
// children, numbered fresh and independently of any domain's handle
// table (prefixed "." rather than "r").
func RenderRegion(r *core.RegionNode) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s mapped %s", regionStatusName(r.Data.Status), accessString(r.Data.Access), r.Data.Remapped.String())
	if !r.Data.Attributes.IsEmpty() {
		fmt.Fprintf(&buf, " %s", attributesString(r.Data.Attributes))
	}
	ids := make(map[*core.RegionNode]int, len(r.Children))
	next := 0
	for _, c := range r.Children {
		id, ok := ids[c]
		if !ok {
			id = next
			next++
			ids[c] = id
		}
		fmt.Fprintf(&buf, "\n| %s at %s for .%d", kindName(c.Data.Kind), accessString(c.Data.Access), id)
	}
	return buf.String()
}
