package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aghosn/capability-v5/internal/core"
)

const allAPI = core.ApiCreate | core.ApiSet | core.ApiGet | core.ApiSend | core.ApiSeal |
	core.ApiAttest | core.ApiEnumerate | core.ApiSwitch | core.ApiCarve | core.ApiAlias |
	core.ApiRevoke | core.ApiGetChan | core.ApiReceive

func sealedRootWithRegion(t *testing.T, e *Engine, access core.Access) (*core.DomainNode, *core.RegionNode, core.LocalCapa) {
	t.Helper()
	root := core.NewDomainNode(core.Policies{
		Cores:      0xffff,
		Api:        allAPI,
		Interrupts: core.DefaultAllInterruptPolicy(),
	})
	require.NoError(t, core.SealDomain(root))
	region := core.NewRegionNode(core.MemoryRegion{
		Access:   access,
		Remapped: core.IdentityRemap(),
	})
	h := e.AddRootRegion(root, region)
	return root, region, h
}

func viewTotal(views []core.ViewRegion) uint64 {
	var total uint64
	for _, v := range views {
		total += v.Access.Size
	}
	return total
}

// Scenario 1: root + carve + alias.
func TestScenarioRootCarveAlias(t *testing.T) {
	e := New()
	root, region, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x10000, core.Read|core.Write|core.Execute))

	_, _, err := e.Alias(root, h, core.NewAccess(0x0, 0x1000, core.Read|core.Write))
	require.NoError(t, err)
	_, _, err = e.Carve(root, h, core.NewAccess(0x3000, 0x1000, core.Read|core.Write))
	require.NoError(t, err)

	view, err := core.DomainView(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3000+0xc000), viewTotal(view.Regions))
	_ = region
}

// Scenario 2: send with remap.
func TestScenarioSendWithRemap(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x10000, core.Read|core.Write|core.Execute))

	carveHandle, _, err := e.Carve(root, h, core.NewAccess(0x0, 0x1000, core.Read|core.Write|core.Execute))
	require.NoError(t, err)

	childHandle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(childHandle)
	require.NoError(t, err)
	child := w.Domain

	_, err = e.Send(root, childHandle, carveHandle, core.RemappedTo(0x2000), core.AttrNone)
	require.NoError(t, err)
	require.NoError(t, core.SealDomain(child))

	childView, err := core.DomainView(child)
	require.NoError(t, err)
	require.Len(t, childView.Regions, 1)
	assert.Equal(t, core.RemappedTo(0x2000), childView.Regions[0].Remap)

	rootView, err := core.DomainView(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xf000), viewTotal(rootView.Regions))
}

// Scenario 3: incompatible remap rejected.
func TestScenarioIncompatibleRemapRejected(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x10000, core.Read|core.Write))

	aHandle, _, err := e.Alias(root, h, core.NewAccess(0x0, 0x2000, core.Read|core.Write))
	require.NoError(t, err)
	bHandle, _, err := e.Alias(root, h, core.NewAccess(0x0, 0x1000, core.Read|core.Write))
	require.NoError(t, err)

	childHandle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)

	_, err = e.Send(root, childHandle, aHandle, core.RemappedTo(0x10000), core.AttrNone)
	require.NoError(t, err)

	_, err = e.Send(root, childHandle, bHandle, core.RemappedTo(0x11000), core.AttrNone)
	assert.ErrorIs(t, err, core.ErrIncompatibleRemap)

	// Re-alias since the previous (consumed-on-failure-free) handle is
	// still in root's table; a compatible remap over the same range succeeds.
	cHandle, _, err := e.Alias(root, h, core.NewAccess(0x0, 0x1000, core.Read|core.Write))
	require.NoError(t, err)
	_, err = e.Send(root, childHandle, cHandle, core.RemappedTo(0x10000), core.AttrNone)
	assert.NoError(t, err)
}

// Scenario 4: subtree revocation.
func TestScenarioSubtreeRevocation(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x10000, core.Read|core.Write))

	td1Handle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(td1Handle)
	require.NoError(t, err)
	td1 := w.Domain
	require.NoError(t, core.SealDomain(td1))

	td2HandleInTd1, err := e.Create(td1, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w2, err := td1.Data.Store.Get(td2HandleInTd1)
	require.NoError(t, err)
	td2 := w2.Domain
	require.NoError(t, core.SealDomain(td2))

	carveHandle, _, err := e.Carve(root, h, core.NewAccess(0x2000, 0x1000, core.Read|core.Write))
	require.NoError(t, err)
	_, err = e.Send(root, td1Handle, carveHandle, core.IdentityRemap(), core.AttrNone)
	require.NoError(t, err)

	aliasHandle, _, err := e.Alias(root, h, core.NewAccess(0x3000, 0x1000, core.Read|core.Write))
	require.NoError(t, err)
	_, err = e.Send(root, td1Handle, aliasHandle, core.IdentityRemap(), core.AttrNone)
	require.NoError(t, err)

	_, err = e.Revoke(root, td1Handle, 0)
	require.NoError(t, err)

	assert.Equal(t, core.Revoked, td1.Data.Status)
	assert.Equal(t, core.Revoked, td2.Data.Status)
	assert.Equal(t, 0, td1.Data.Store.Len())
	assert.Equal(t, 0, td2.Data.Store.Len())

	rootView, err := core.DomainView(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), viewTotal(rootView.Regions))
}

// Scenario 5: seal subset check.
func TestScenarioSealSubsetCheck(t *testing.T) {
	e := New()
	root := core.NewDomainNode(core.Policies{
		Cores:      0x1,
		Api:        allAPI,
		Interrupts: core.DefaultAllInterruptPolicy(),
	})
	require.NoError(t, core.SealDomain(root))

	childHandle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(childHandle)
	require.NoError(t, err)
	child := w.Domain
	child.Data.Policies.Cores = 0xffff

	err = e.Seal(root, childHandle)
	assert.ErrorIs(t, err, core.ErrInsufficientRights)

	child.Data.Policies.Cores = 0x1
	assert.NoError(t, e.Seal(root, childHandle))
}

// Scenario 6: carve reduces owner view.
func TestScenarioCarveReducesOwnerView(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x10000, core.Read|core.Write|core.Execute))

	_, updates, err := e.Carve(root, h, core.NewAccess(0x2000, 0x1000, core.Read))
	require.NoError(t, err)

	view, err := core.DomainView(root)
	require.NoError(t, err)
	assert.Len(t, view.Regions, 3)
	assert.Equal(t, uint64(0x10000), viewTotal(view.Regions))

	foundChangeMemory := false
	for _, u := range updates {
		if u.Kind == core.UpdateChangeMemory && u.Domain == root {
			foundChangeMemory = true
		}
	}
	assert.True(t, foundChangeMemory)
}

func TestGateRejectsUnsealedCaller(t *testing.T) {
	e := New()
	unsealed := core.NewDomainNode(core.Policies{Api: allAPI, Interrupts: core.DefaultNoneInterruptPolicy()})
	_, err := e.Create(unsealed, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	assert.ErrorIs(t, err, core.ErrDomainUnsealed)
}

func TestGateRejectsMissingPolicyBit(t *testing.T) {
	e := New()
	root := core.NewDomainNode(core.Policies{Cores: 0x1, Interrupts: core.DefaultNoneInterruptPolicy()})
	require.NoError(t, core.SealDomain(root))
	_, err := e.Create(root, 0x1, core.ApiCreate, core.DefaultNoneInterruptPolicy())
	assert.ErrorIs(t, err, core.ErrCallNotAllowed)
}

func TestSendToSealedDestinationRequiresEmptyAttributes(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x1000, core.Read|core.Write))

	childHandle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(childHandle)
	require.NoError(t, err)
	child := w.Domain
	require.NoError(t, core.SealDomain(child))

	_, err = e.Send(root, childHandle, h, core.IdentityRemap(), core.AttrHash)
	assert.ErrorIs(t, err, core.ErrInvalidAttributes)
}

func TestSendToSealedDestinationWithoutReceiveRejected(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x1000, core.Read|core.Write))

	apiWithoutReceive := allAPI &^ core.ApiReceive
	childHandle, err := e.Create(root, 0x1, apiWithoutReceive, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(childHandle)
	require.NoError(t, err)
	child := w.Domain
	require.NoError(t, core.SealDomain(child))

	_, err = e.Send(root, childHandle, h, core.IdentityRemap(), core.AttrNone)
	assert.ErrorIs(t, err, core.ErrCallNotAllowed)
}

func TestRevokeEmitsRecordForEveryVisitedDomain(t *testing.T) {
	e := New()
	root, _, _ := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x1000, core.Read))

	td1Handle, err := e.Create(root, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)
	w, err := root.Data.Store.Get(td1Handle)
	require.NoError(t, err)
	td1 := w.Domain
	require.NoError(t, core.SealDomain(td1))

	_, err = e.Create(td1, 0x1, allAPI, core.DefaultNoneInterruptPolicy())
	require.NoError(t, err)

	updates, err := e.Revoke(root, td1Handle, 0)
	require.NoError(t, err)

	revokeCount := 0
	for _, u := range updates {
		if u.Kind == core.UpdateRevoke {
			revokeCount++
		}
	}
	assert.Equal(t, 2, revokeCount)
}

func TestAttestSelfAndEnumerateRegion(t *testing.T) {
	e := New()
	root, _, h := sealedRootWithRegion(t, e, core.NewAccess(0x0, 0x1000, core.Read|core.Write))

	text, err := e.Attest(root, 0)
	require.NoError(t, err)
	assert.Contains(t, text, "td0 = Sealed domain(r0)")

	enumText, err := e.Enumerate(root, h)
	require.NoError(t, err)
	assert.Contains(t, enumText, "Exclusive 0x0 0x1000 with RW_ mapped Identity")
}
