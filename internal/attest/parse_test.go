package attest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aghosn/capability-v5/internal/core"
)

func TestParseRoundTripsCoresAndAPI(t *testing.T) {
	root := newSealedRoot()
	root.Data.Policies.Cores = 0x7
	root.Data.Policies.Api = core.ApiCreate | core.ApiSend | core.ApiAttest

	text := Render(root)
	parsed, err := Parse(text)
	assert.NoError(t, err)
	assert.Equal(t, root.Data.Policies.Cores, parsed.Data.Policies.Cores)
	assert.Equal(t, root.Data.Policies.Api, parsed.Data.Policies.Api)
	assert.Equal(t, core.Sealed, parsed.Data.Status)
}

func TestParseRoundTripsOwnedRegion(t *testing.T) {
	root := newSealedRoot()
	region := core.NewRegionNode(core.MemoryRegion{
		Kind:       core.Carve,
		Status:     core.Exclusive,
		Access:     core.NewAccess(0x2000, 0x1000, core.Read|core.Execute),
		Remapped:   core.RemappedTo(0xa000),
		Attributes: core.AttrHash,
	})
	h := root.Data.Store.Install(core.WrapRegion(region))
	region.Owned = core.Ownership{Owner: root, Handle: h}

	text := Render(root)
	parsed, err := Parse(text)
	assert.NoError(t, err)

	var found *core.RegionNode
	_ = parsed.Data.Store.ForeachRegion(func(_ core.LocalCapa, r *core.RegionNode) error {
		found = r
		return nil
	})
	assert.NotNil(t, found)
	assert.Equal(t, region.Data.Access, found.Data.Access)
	assert.Equal(t, region.Data.Remapped, found.Data.Remapped)
	assert.Equal(t, region.Data.Attributes, found.Data.Attributes)
}

func TestParseRoundTripsSubDomain(t *testing.T) {
	root := newSealedRoot()
	sub := core.NewDomainNode(core.Policies{Cores: 0x3, Interrupts: core.DefaultNoneInterruptPolicy()})
	root.AddChild(sub, root)
	h := root.Data.Store.Install(core.WrapDomain(sub))
	sub.Owned = core.Ownership{Owner: root, Handle: h}

	text := Render(root)
	parsed, err := Parse(text)
	assert.NoError(t, err)

	var found *core.DomainNode
	_ = parsed.Data.Store.ForeachDomain(func(_ core.LocalCapa, d *core.DomainNode) error {
		found = d
		return nil
	})
	assert.NotNil(t, found)
	assert.Equal(t, sub.Data.Policies.Cores, found.Data.Policies.Cores)
	assert.Equal(t, core.Unsealed, found.Data.Status)
}
