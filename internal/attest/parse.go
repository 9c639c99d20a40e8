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

package attest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aghosn/capability-v5/internal/core"
)

// ParseError reports a malformed attestation document, naming the line
// that failed and why.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("attest: line %d: %s", e.Line, e.Reason)
}

// parser accumulates the pieces of a document while it reads top to
// bottom, then wires them together once every block has been seen — the
// name graph a domain/region reference uses (e.g. "td1" inside an
// indices line) may appear in the document before its own block does.
type parser struct {
	lines []string

	domainHeader map[string][]string // name -> header tokens of its "tdN = ..." line
	domainCores  map[string]uint64
	domainAPI    map[string]core.MonitorAPI
	domainInter  map[string]core.InterruptPolicy
	domainOrder  []string

	region      map[string]*regionFields
	regionOrder []string

	parentChildren map[string][]string // name -> names of capas listed in its domain(...) header or region child lines
	indices        []indexEntry
}

type regionFields struct {
	kind       core.RegionKind
	status     core.RegionStatus
	access     core.Access
	remapped   core.Remap
	attributes core.Attributes
}

type indexEntry struct {
	handle core.LocalCapa
	name   string
}

// Parse reads the canonical attestation text produced by Render and
// reconstructs the domain tree it describes. The returned domain is
// always the td0 of the document; its ID is freshly allocated rather
// than recovered from the text, per spec.md §4.5's round-trip contract
// ("modulo domain id").
func Parse(text string) (*core.DomainNode, error) {
	p := &parser{
		domainHeader:   make(map[string][]string),
		domainCores:    make(map[string]uint64),
		domainAPI:      make(map[string]core.MonitorAPI),
		domainInter:    make(map[string]core.InterruptPolicy),
		region:         make(map[string]*regionFields),
		parentChildren: make(map[string][]string),
	}
	p.lines = splitLines(text)

	i := 0
	for i < len(p.lines) {
		line := p.lines[i]
		switch {
		case strings.HasPrefix(line, "td"):
			end := p.findEnd(i)
			if err := p.parseDomainBlock(i, end); err != nil {
				return nil, err
			}
			i = end
		case strings.HasPrefix(line, "r"):
			end := p.findEnd(i)
			if err := p.parseRegionBlock(i, end); err != nil {
				return nil, err
			}
			i = end
		case strings.HasPrefix(line, "|indices:"):
			if err := p.parseIndices(i); err != nil {
				return nil, err
			}
			i++
		default:
			i++
		}
	}

	return p.build()
}

func splitLines(text string) []string {
	raw := strings.Split(strings.TrimRight(text, "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// findEnd returns the index one past the last "|"-prefixed continuation
// line belonging to the block starting at start.
func (p *parser) findEnd(start int) int {
	end := start + 1
	for end < len(p.lines) && strings.HasPrefix(p.lines[end], "|") && !strings.HasPrefix(p.lines[end], "|indices:") {
		end++
	}
	return end
}

// parseDomainBlock parses one "tdN = {Status} domain(...)" header plus its
// |cores/|mon.api/|vec continuation lines, spanning lines[start:end].
func (p *parser) parseDomainBlock(start, end int) error {
	block := p.lines[start:end]
	name, rest, ok := splitAssign(block[0])
	if !ok {
		return &ParseError{start, "malformed domain header"}
	}

	tokens := strings.Fields(rest)
	if len(tokens) == 0 {
		return &ParseError{start, "empty domain header"}
	}
	if _, err := parseDomainStatus(tokens[0]); err != nil {
		return &ParseError{start, err.Error()}
	}

	open := strings.Index(rest, "(")
	closeIdx := strings.LastIndex(rest, ")")
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return &ParseError{start, "malformed domain capability list"}
	}
	inner := strings.TrimSpace(rest[open+1 : closeIdx])
	if inner != "" {
		for _, c := range strings.Split(inner, ",") {
			p.parentChildren[name] = append(p.parentChildren[name], strings.TrimSpace(c))
		}
	}
	p.domainHeader[name] = tokens

	rem := block[1:]
	if len(rem) == 0 || !strings.HasPrefix(rem[0], "|cores: 0x") {
		return &ParseError{start + 1, "expected |cores line"}
	}
	cores, err := strconv.ParseUint(strings.TrimPrefix(rem[0], "|cores: 0x"), 16, 64)
	if err != nil {
		return &ParseError{start + 1, "invalid cores mask"}
	}
	p.domainCores[name] = cores

	if len(rem) < 2 || !strings.HasPrefix(rem[1], "|mon.api: 0x") {
		return &ParseError{start + 2, "expected |mon.api line"}
	}
	api, err := strconv.ParseUint(strings.TrimPrefix(rem[1], "|mon.api: 0x"), 16, 64)
	if err != nil {
		return &ParseError{start + 2, "invalid mon.api mask"}
	}
	p.domainAPI[name] = core.MonitorAPI(api)

	ip := core.DefaultNoneInterruptPolicy()
	for idx := 2; idx < len(rem); idx++ {
		l := rem[idx]
		if !strings.HasPrefix(l, "|vec") {
			break
		}
		if err := parseVectorLine(l, &ip); err != nil {
			return &ParseError{start + 1 + idx, err.Error()}
		}
	}
	p.domainInter[name] = ip
	p.domainOrder = append(p.domainOrder, name)
	return nil
}

func splitAssign(line string) (name, rest string, ok bool) {
	idx := strings.Index(line, " = ")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+3:], true
}

func parseDomainStatus(tok string) (core.Status, error) {
	switch strings.ToLower(tok) {
	case "sealed":
		return core.Sealed, nil
	case "unsealed":
		return core.Unsealed, nil
	case "revoked":
		return core.Revoked, nil
	default:
		return 0, fmt.Errorf("unrecognized domain status %q", tok)
	}
}

// parseVectorLine parses one "|vecA: policy" or "|vecA-B: policy" line
// and fills every covered vector of ip.
func parseVectorLine(line string, ip *core.InterruptPolicy) error {
	rest := strings.TrimPrefix(line, "|vec")
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return fmt.Errorf("malformed vector line %q", line)
	}
	rangePart := rest[:colon]
	policyPart := strings.TrimSpace(rest[colon+1:])

	var startV, endV int
	if dash := strings.Index(rangePart, "-"); dash >= 0 {
		s, err := strconv.Atoi(rangePart[:dash])
		if err != nil {
			return err
		}
		e, err := strconv.Atoi(rangePart[dash+1:])
		if err != nil {
			return err
		}
		startV, endV = s, e
	} else {
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return err
		}
		startV, endV = v, v
	}

	vp, err := parseVectorPolicy(policyPart)
	if err != nil {
		return err
	}
	for v := startV; v <= endV && v < core.NB_INTERRUPTS; v++ {
		ip[v] = vp
	}
	return nil
}

func parseVectorPolicy(s string) (core.VectorPolicy, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return core.VectorPolicy{}, fmt.Errorf("malformed vector policy %q", s)
	}
	vis := parseVisibility(strings.TrimSpace(parts[0]))
	readSet, err := parseHexField(parts[1], "r:")
	if err != nil {
		return core.VectorPolicy{}, err
	}
	writeSet, err := parseHexField(parts[2], "w:")
	if err != nil {
		return core.VectorPolicy{}, err
	}
	return core.VectorPolicy{Visibility: vis, ReadSet: readSet, WriteSet: writeSet}, nil
}

func parseVisibility(s string) core.VectorVisibility {
	if strings.Contains(s, "VISIBLE") {
		return core.VisibilityVisible
	}
	return core.VisibilityHidden
}

func parseHexField(s, label string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, label)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

// parseRegionBlock parses one "rN = {Status} start end with RWX mapped
// Remap [attrs]" header plus its "| {Kind} at ... for rM" child lines.
func (p *parser) parseRegionBlock(start, end int) error {
	block := p.lines[start:end]
	name, rest, ok := splitAssign(block[0])
	if !ok {
		return &ParseError{start, "malformed region header"}
	}
	tokens := strings.Fields(rest)
	if len(tokens) < 6 {
		return &ParseError{start, "malformed region header"}
	}
	status, err := parseRegionStatus(tokens[0])
	if err != nil {
		return &ParseError{start, err.Error()}
	}
	access, consumed, err := parseAccessTokens(tokens[1:])
	if err != nil {
		return &ParseError{start, err.Error()}
	}
	remapTokens := tokens[1+consumed:]
	if len(remapTokens) < 2 || remapTokens[0] != "mapped" {
		return &ParseError{start, "expected mapped remap"}
	}
	remap, err := parseRemap(remapTokens[1])
	if err != nil {
		return &ParseError{start, err.Error()}
	}
	var attrs core.Attributes
	if len(remapTokens) > 2 {
		attrs = parseAttributes(remapTokens[2])
	}

	kind := core.Carve
	if status == core.Aliased {
		kind = core.Alias
	}
	p.region[name] = &regionFields{kind: kind, status: status, access: access, remapped: remap, attributes: attrs}
	p.regionOrder = append(p.regionOrder, name)

	for idx := 1; idx < len(block); idx++ {
		cname, fields, err := parseRegionChild(block[idx])
		if err != nil {
			return &ParseError{start + idx, err.Error()}
		}
		if existing, ok := p.region[cname]; ok {
			existing.kind = fields.kind
		} else {
			p.region[cname] = fields
			p.regionOrder = append(p.regionOrder, cname)
		}
		p.parentChildren[name] = append(p.parentChildren[name], cname)
	}
	return nil
}

func parseRegionStatus(tok string) (core.RegionStatus, error) {
	switch strings.ToLower(tok) {
	case "exclusive":
		return core.Exclusive, nil
	case "aliased":
		return core.Aliased, nil
	default:
		return 0, fmt.Errorf("unrecognized region status %q", tok)
	}
}

// parseAccessTokens parses the "start end with RWX" run that follows a
// region status token, returning how many tokens it consumed.
func parseAccessTokens(tokens []string) (core.Access, int, error) {
	if len(tokens) < 4 || tokens[2] != "with" {
		return core.Access{}, 0, fmt.Errorf("malformed access")
	}
	// tokens layout: [start, end, "with", rights]
	start, err := strconv.ParseUint(strings.TrimPrefix(tokens[0], "0x"), 16, 64)
	if err != nil {
		return core.Access{}, 0, err
	}
	endAddr, err := strconv.ParseUint(strings.TrimPrefix(tokens[1], "0x"), 16, 64)
	if err != nil {
		return core.Access{}, 0, err
	}
	rights := parseRights(tokens[3])
	if endAddr < start {
		return core.Access{}, 0, fmt.Errorf("end before start")
	}
	return core.NewAccess(start, endAddr-start, rights), 4, nil
}

func parseRights(s string) core.Rights {
	var r core.Rights
	if strings.Contains(s, "R") {
		r |= core.Read
	}
	if strings.Contains(s, "W") {
		r |= core.Write
	}
	if strings.Contains(s, "X") {
		r |= core.Execute
	}
	return r
}

func parseRemap(s string) (core.Remap, error) {
	if strings.EqualFold(s, "Identity") {
		return core.IdentityRemap(), nil
	}
	if !strings.HasPrefix(s, "Remapped(") || !strings.HasSuffix(s, ")") {
		return core.Remap{}, fmt.Errorf("malformed remap %q", s)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "Remapped("), ")")
	gpa, err := strconv.ParseUint(strings.TrimPrefix(inner, "0x"), 16, 64)
	if err != nil {
		return core.Remap{}, err
	}
	return core.RemappedTo(gpa), nil
}

func parseAttributes(s string) core.Attributes {
	var a core.Attributes
	if strings.Contains(s, "H") {
		a |= core.AttrHash
	}
	if strings.Contains(s, "C") {
		a |= core.AttrClean
	}
	if strings.Contains(s, "V") {
		a |= core.AttrVital
	}
	return a
}

// parseRegionChild parses one "| {Kind} at start end with RWX for rM"
// continuation line.
func parseRegionChild(line string) (string, *regionFields, error) {
	var kind core.RegionKind
	switch {
	case strings.HasPrefix(line, "| Alias"):
		kind = core.Alias
	case strings.HasPrefix(line, "| Carve"):
		kind = core.Carve
	default:
		return "", nil, fmt.Errorf("malformed region child %q", line)
	}
	tokens := strings.Fields(line)
	if len(tokens) != 9 {
		return "", nil, fmt.Errorf("malformed region child %q", line)
	}
	start, err := strconv.ParseUint(strings.TrimPrefix(tokens[3], "0x"), 16, 64)
	if err != nil {
		return "", nil, err
	}
	end, err := strconv.ParseUint(strings.TrimPrefix(tokens[4], "0x"), 16, 64)
	if err != nil {
		return "", nil, err
	}
	rights := parseRights(tokens[6])
	name := tokens[8]
	if !strings.HasPrefix(name, "r") && !strings.HasPrefix(name, ".") {
		return "", nil, fmt.Errorf("malformed child name %q", name)
	}
	status := core.Exclusive
	if kind == core.Alias {
		status = core.Aliased
	}
	return name, &regionFields{
		kind:     kind,
		status:   status,
		access:   core.NewAccess(start, end-start, rights),
		remapped: core.IdentityRemap(),
	}, nil
}

// parseIndices parses the trailing "|indices: H->name H->name ..." line.
func (p *parser) parseIndices(line int) error {
	rest := strings.TrimPrefix(p.lines[line], "|indices:")
	for _, tok := range strings.Fields(rest) {
		arrow := strings.Index(tok, "->")
		if arrow < 0 {
			return &ParseError{line, fmt.Sprintf("malformed index entry %q", tok)}
		}
		h, err := strconv.ParseUint(tok[:arrow], 10, 64)
		if err != nil {
			return &ParseError{line, "invalid handle"}
		}
		p.indices = append(p.indices, indexEntry{handle: core.LocalCapa(h), name: tok[arrow+2:]})
	}
	return nil
}

// build wires every parsed fragment into the tree Render would have
// produced it from: domain nodes linked by AddChild, region nodes linked
// by their region-tree Parent/Children, and every capability installed
// into its owner's Store at the handle the indices line recorded.
func (p *parser) build() (*core.DomainNode, error) {
	if _, ok := p.domainHeader["td0"]; !ok {
		return nil, &ParseError{0, "missing td0"}
	}

	domains := make(map[string]*core.DomainNode, len(p.domainOrder))
	for _, name := range p.domainOrder {
		policies := core.Policies{
			Cores:      p.domainCores[name],
			Api:        p.domainAPI[name],
			Interrupts: p.domainInter[name],
		}
		domains[name] = core.NewDomainNode(policies)
		if s, err := domainStatusOf(p.domainHeader[name]); err == nil {
			applyDomainStatus(domains[name], s)
		}
	}

	regions := make(map[string]*core.RegionNode, len(p.regionOrder))
	for _, name := range p.regionOrder {
		f := p.region[name]
		regions[name] = core.NewRegionNode(core.MemoryRegion{
			Kind:       f.kind,
			Status:     f.status,
			Access:     f.access,
			Attributes: f.attributes,
			Remapped:   f.remapped,
		})
	}

	root := domains["td0"]
	for _, name := range p.domainOrder {
		d := domains[name]
		for _, child := range p.parentChildren[name] {
			if sub, ok := domains[child]; ok {
				d.AddChild(sub, d)
			}
		}
	}
	for _, name := range p.regionOrder {
		r := regions[name]
		for _, child := range p.parentChildren[name] {
			if cr, ok := regions[child]; ok {
				r.Children = append(r.Children, cr)
				cr.Parent = r
			}
		}
	}

	for _, entry := range p.indices {
		if d, ok := domains[entry.name]; ok {
			if err := installDomain(root, d, entry.handle, p, entry.name); err != nil {
				return nil, err
			}
			continue
		}
		if r, ok := regions[entry.name]; ok {
			if err := installRegion(root, r, entry.handle); err != nil {
				return nil, err
			}
			continue
		}
	}

	return root, nil
}

// installDomain installs a top-level index entry that names a
// sub-domain into root's own Store (the only store the indices line
// documents — td1's own table is not recoverable from this text).
func installDomain(root *core.DomainNode, d *core.DomainNode, h core.LocalCapa, p *parser, name string) error {
	if err := root.Data.Store.InstallAt(h, core.WrapDomain(d)); err != nil {
		return &ParseError{0, fmt.Sprintf("duplicate or invalid handle for %s", name)}
	}
	d.Owned = core.Ownership{Owner: root, Handle: h}
	return nil
}

func installRegion(root *core.DomainNode, r *core.RegionNode, h core.LocalCapa) error {
	if err := root.Data.Store.InstallAt(h, core.WrapRegion(r)); err != nil {
		return &ParseError{0, "duplicate or invalid handle for region"}
	}
	r.Owned = core.Ownership{Owner: root, Handle: h}
	return nil
}

func domainStatusOf(tokens []string) (core.Status, error) {
	if len(tokens) == 0 {
		return 0, fmt.Errorf("no status token")
	}
	return parseDomainStatus(tokens[0])
}

// applyDomainStatus replays the Unsealed->Sealed transition recorded in
// the text (Revoked is never produced by Render for a live tree, but is
// accepted here for completeness).
func applyDomainStatus(d *core.DomainNode, s core.Status) {
	d.Data.Status = s
}
