package core

import "testing"

func TestCoalesceFusesContiguous(t *testing.T) {
	regions := []ViewRegion{
		NewViewRegion(NewAccess(0x2000, 0x1000, Read), IdentityRemap()),
		NewViewRegion(NewAccess(0x1000, 0x1000, Read), IdentityRemap()),
	}
	view, err := CoalescedViewFrom(regions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Regions) != 1 {
		t.Fatalf("expected fused single region, got %d", len(view.Regions))
	}
	if view.Regions[0].Access.Start != 0x1000 || view.Regions[0].Access.Size != 0x2000 {
		t.Fatalf("unexpected fused region: %+v", view.Regions[0])
	}
}

func TestCoalesceKeepsDisjoint(t *testing.T) {
	regions := []ViewRegion{
		NewViewRegion(NewAccess(0x1000, 0x1000, Read), IdentityRemap()),
		NewViewRegion(NewAccess(0x3000, 0x1000, Read), IdentityRemap()),
	}
	view, err := CoalescedViewFrom(regions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Regions) != 2 {
		t.Fatalf("expected two disjoint regions, got %d", len(view.Regions))
	}
}

func TestCoalescedViewAddDeduplicatesContained(t *testing.T) {
	view := NewCoalescedView()
	if err := view.Add(NewViewRegion(NewAccess(0x1000, 0x2000, Read|Write), IdentityRemap())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := view.Add(NewViewRegion(NewAccess(0x1800, 0x800, Read), IdentityRemap())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Regions) != 1 {
		t.Fatalf("expected the contained region to be absorbed, got %d entries", len(view.Regions))
	}
}

func TestCoalescedViewSubSplitsMiddle(t *testing.T) {
	view := NewCoalescedView()
	if err := view.Add(NewViewRegion(NewAccess(0x1000, 0x3000, Read), IdentityRemap())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := view.Sub(NewViewRegion(NewAccess(0x2000, 0x1000, Read), IdentityRemap())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Regions) != 2 {
		t.Fatalf("expected subtraction to leave two remaining pieces, got %d", len(view.Regions))
	}
	total := uint64(0)
	for _, r := range view.Regions {
		total += r.Access.Size
	}
	if total != 0x2000 {
		t.Fatalf("expected remaining size 0x2000, got 0x%x", total)
	}
}

func TestCoalescedViewSubIncompatibleRemap(t *testing.T) {
	view := NewCoalescedView()
	if err := view.Add(NewViewRegion(NewAccess(0x1000, 0x2000, Read), RemappedTo(0x5000))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Overlaps the base region in active space (0x6000-0x6800 falls inside
	// 0x5000-0x7000) but at the wrong physical/active offset.
	err := view.Sub(NewViewRegion(NewAccess(0x1800, 0x800, Read), RemappedTo(0x6000)))
	if err != ErrIncompatibleRemap {
		t.Fatalf("expected ErrIncompatibleRemap, got %v", err)
	}
}
