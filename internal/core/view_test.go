package core

import "testing"

func TestViewRegionContiguous(t *testing.T) {
	a := NewViewRegion(NewAccess(0x1000, 0x1000, Read), IdentityRemap())
	b := NewViewRegion(NewAccess(0x2000, 0x1000, Read), IdentityRemap())

	if !a.Contiguous(b) {
		t.Fatalf("expected a and b to be contiguous")
	}

	c := NewViewRegion(NewAccess(0x2000, 0x1000, Read|Write), IdentityRemap())
	if a.Contiguous(c) {
		t.Fatalf("did not expect a and c to be contiguous: rights differ")
	}
}

func TestViewRegionCompatibleIdentity(t *testing.T) {
	a := NewViewRegion(NewAccess(0x1000, 0x2000, Read), IdentityRemap())
	b := NewViewRegion(NewAccess(0x2000, 0x1000, Read), IdentityRemap())
	if !a.Compatible(b) {
		t.Fatalf("expected overlapping identity views to be compatible")
	}
}

func TestViewRegionCompatibleRemapped(t *testing.T) {
	a := NewViewRegion(NewAccess(0x1000, 0x2000, Read), RemappedTo(0x5000))
	b := NewViewRegion(NewAccess(0x2000, 0x2000, Read), RemappedTo(0x6000))
	if !a.Compatible(b) {
		t.Fatalf("expected views with matching remap offsets to be compatible")
	}

	c := NewViewRegion(NewAccess(0x2000, 0x2000, Read), RemappedTo(0x6800))
	if a.Compatible(c) {
		t.Fatalf("expected views with mismatched remap offsets to be incompatible")
	}
}

func TestViewRegionCompatibleMixedKinds(t *testing.T) {
	a := NewViewRegion(NewAccess(0x1000, 0x2000, Read), IdentityRemap())
	b := NewViewRegion(NewAccess(0x2000, 0x2000, Read), RemappedTo(0x2800))
	if a.Compatible(b) {
		t.Fatalf("expected an overlapping identity/remapped pair to be incompatible")
	}
}
