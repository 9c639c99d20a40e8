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

// Package bootstrap loads the TOML manifest that describes a root
// domain's policy and initial region layout, and turns it into a sealed
// core.DomainNode the same way the engine itself would build one by hand.
package bootstrap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	mapset "github.com/deckarep/golang-set/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/spf13/afero"

	"github.com/aghosn/capability-v5/internal/core"
)

// appFs is swapped for an in-memory filesystem in tests, the same seam
// linuxUtils uses for its own config-file readers.
var appFs afero.Fs = afero.NewOsFs()

// apiNames maps the symbolic monitor-API names a manifest may list to
// their MonitorAPI bit, per SPEC_FULL.md §4.7.
var apiNames = map[string]core.MonitorAPI{
	"CREATE":    core.ApiCreate,
	"SET":       core.ApiSet,
	"GET":       core.ApiGet,
	"SEND":      core.ApiSend,
	"SEAL":      core.ApiSeal,
	"ATTEST":    core.ApiAttest,
	"ENUMERATE": core.ApiEnumerate,
	"SWITCH":    core.ApiSwitch,
	"CARVE":     core.ApiCarve,
	"ALIAS":     core.ApiAlias,
	"REVOKE":    core.ApiRevoke,
	"GETCHAN":   core.ApiGetChan,
	"RECEIVE":   core.ApiReceive,
}

// RegionSpec is one entry of a manifest's flat root-region list.
type RegionSpec struct {
	Start  uint64 `toml:"start"`
	Size   uint64 `toml:"size"`
	Rights string `toml:"rights"`
}

// Manifest is the on-disk description of a root domain, decoded directly
// from TOML field names. The core mask is accepted as a nested
// specs.LinuxCPU table so its Cpus field carries the same "0-3,6"
// cpuset syntax OCI runtime-spec uses for container CPU pinning.
type Manifest struct {
	Cores   specs.LinuxCPU `toml:"cores"`
	Api     []string       `toml:"api"`
	Regions []RegionSpec   `toml:"regions"`
}

// Load reads and decodes the manifest at path from appFs.
func Load(path string) (Manifest, error) {
	f, err := appFs.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	var m Manifest
	if _, err := toml.NewDecoder(f).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("could not decode manifest %s: %w", path, err)
	}
	return m, nil
}

// Boot turns a decoded Manifest into a sealed root domain with its root
// regions installed, by driving the same core constructors the engine
// itself uses for Create/AddRootRegion — this is a convenience
// composition, not a privileged path.
func Boot(m Manifest) (*core.DomainNode, error) {
	cores, err := parseCpuset(m.Cores.Cpus)
	if err != nil {
		return nil, err
	}
	api, err := parseAPI(m.Api)
	if err != nil {
		return nil, err
	}

	domain := core.NewDomainNode(core.Policies{
		Cores:      cores,
		Api:        api,
		Interrupts: core.DefaultAllInterruptPolicy(),
	})

	for _, rs := range m.Regions {
		rights, err := parseRights(rs.Rights)
		if err != nil {
			return nil, err
		}
		region := core.NewRegionNode(core.MemoryRegion{
			Kind:     core.Carve,
			Status:   core.Exclusive,
			Access:   core.NewAccess(rs.Start, rs.Size, rights),
			Remapped: core.IdentityRemap(),
		})
		handle := domain.Data.Store.Install(core.WrapRegion(region))
		region.Owned = core.Ownership{Owner: domain, Handle: handle}
	}

	if err := core.SealDomain(domain); err != nil {
		return nil, err
	}
	return domain, nil
}

// parseCpuset decodes an OCI-style cpuset string ("0-3,6"), the textual
// convention specs.LinuxCPU.Cpus carries on the wire, into a uint64 core
// bitmask. Core indices are collected into a set first so that
// overlapping ranges ("0-3,2-5") fold together instead of needing special
// casing at the bitmask level.
func parseCpuset(cpus string) (uint64, error) {
	cores := mapset.NewThreadUnsafeSet[int]()
	if cpus == "" {
		return 0, nil
	}
	for _, part := range strings.Split(cpus, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		lo, err := strconv.Atoi(bounds[0])
		if err != nil {
			return 0, fmt.Errorf("malformed cpuset %q: %w", cpus, err)
		}
		hi := lo
		if len(bounds) == 2 {
			hi, err = strconv.Atoi(bounds[1])
			if err != nil {
				return 0, fmt.Errorf("malformed cpuset %q: %w", cpus, err)
			}
		}
		if lo < 0 || hi < lo || hi >= 64 {
			return 0, fmt.Errorf("cpuset %q out of range", cpus)
		}
		for c := lo; c <= hi; c++ {
			cores.Add(c)
		}
	}

	var mask uint64
	for c := range cores.Iter() {
		mask |= 1 << uint(c)
	}
	return mask, nil
}

func parseAPI(names []string) (core.MonitorAPI, error) {
	var api core.MonitorAPI
	for _, name := range names {
		bit, ok := apiNames[strings.ToUpper(name)]
		if !ok {
			return 0, fmt.Errorf("unknown monitor-api name %q", name)
		}
		api |= bit
	}
	return api, nil
}

func parseRights(s string) (core.Rights, error) {
	var rights core.Rights
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'R':
			rights |= core.Read
		case 'W':
			rights |= core.Write
		case 'X':
			rights |= core.Execute
		default:
			return 0, fmt.Errorf("unknown rights character %q in %q", c, s)
		}
	}
	return rights, nil
}
