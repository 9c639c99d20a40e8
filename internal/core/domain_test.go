package core

import "testing"

func TestSealDomainIsOneWay(t *testing.T) {
	dom := NewDomainNode(Policies{})
	if err := SealDomain(dom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dom.Data.Status != Sealed {
		t.Fatalf("expected domain to be Sealed")
	}
	if err := SealDomain(dom); err != ErrDomainSealed {
		t.Fatalf("expected ErrDomainSealed on re-seal, got %v", err)
	}
}

func TestDomainViewAggregatesOwnedRegions(t *testing.T) {
	dom := NewDomainNode(Policies{})
	r1 := NewRegionNode(MemoryRegion{Access: NewAccess(0x1000, 0x1000, Read), Remapped: IdentityRemap()})
	r2 := NewRegionNode(MemoryRegion{Access: NewAccess(0x2000, 0x1000, Read), Remapped: IdentityRemap()})
	dom.Data.Store.Install(WrapRegion(r1))
	dom.Data.Store.Install(WrapRegion(r2))

	view, err := DomainView(dom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Regions) != 1 {
		t.Fatalf("expected the two contiguous regions to coalesce into one, got %d", len(view.Regions))
	}
	if view.Regions[0].Access.Size != 0x2000 {
		t.Fatalf("expected combined size 0x2000, got 0x%x", view.Regions[0].Access.Size)
	}
}

func TestPoliciesContainsIsSubsetCheck(t *testing.T) {
	broad := Policies{Cores: 0xF, Api: ApiCreate | ApiSet | ApiGet, Interrupts: DefaultAllInterruptPolicy()}
	narrow := Policies{Cores: 0x3, Api: ApiGet, Interrupts: DefaultNoneInterruptPolicy()}

	if !broad.Contains(narrow) {
		t.Fatalf("expected broad to contain narrow")
	}
	if narrow.Contains(broad) {
		t.Fatalf("did not expect narrow to contain broad")
	}
}

func TestMonitorAPIEncapsulated(t *testing.T) {
	valid := ApiCreate | ApiSeal | ApiRevoke
	if !valid.Encapsulated() {
		t.Fatalf("expected a combination of defined bits to be encapsulated")
	}
	invalid := MonitorAPI(1 << 15)
	if invalid.Encapsulated() {
		t.Fatalf("expected a bit outside the 13-bit range to not be encapsulated")
	}
}

func TestCapabilityStoreHandleRecycling(t *testing.T) {
	store := NewCapabilityStore()
	r := NewRegionNode(MemoryRegion{})
	h1 := store.Install(WrapRegion(r))
	if h1 != 1 {
		t.Fatalf("expected first handle to be 1, got %d", h1)
	}
	if _, err := store.Remove(h1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2 := store.Install(WrapRegion(r))
	if h2 != h1 {
		t.Fatalf("expected recycled handle %d, got %d", h1, h2)
	}
}

func TestDomainOnRevokeCascadesOwnedCapabilities(t *testing.T) {
	root := NewDomainNode(Policies{})
	child := NewDomainNode(Policies{})
	root.AddChild(child, root)

	region := NewRegionNode(MemoryRegion{Access: NewAccess(0x1000, 0x1000, Read)})
	child.Data.Store.Install(WrapRegion(region))

	ops := NewOperationUpdate()
	if err := root.RevokeChild(child, func(n *Capability[Domain]) error {
		return DomainOnRevoke(n, ops)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if child.Data.Status != Revoked {
		t.Fatalf("expected revoked child domain to be marked Revoked")
	}
	if child.Data.Store.Len() != 0 {
		t.Fatalf("expected revoked child domain's owned capabilities to be removed, got %d", child.Data.Store.Len())
	}
}
