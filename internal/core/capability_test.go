package core

import "testing"

func TestAddChildAndDFS(t *testing.T) {
	root := NewCapability(MemoryRegion{Access: NewAccess(0, 0x1000, Read)})
	owner := NewDomainNode(Policies{})

	child := NewCapability(MemoryRegion{Access: NewAccess(0, 0x800, Read)})
	root.AddChild(child, owner)

	if child.Parent != root {
		t.Fatalf("expected child.Parent to be root")
	}
	if child.Owned.Owner != owner {
		t.Fatalf("expected child to be owned by owner")
	}

	var visited []*Capability[MemoryRegion]
	if err := root.DFS(func(n *Capability[MemoryRegion]) error {
		visited = append(visited, n)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visited) != 2 || visited[0] != root || visited[1] != child {
		t.Fatalf("unexpected DFS order: %+v", visited)
	}
}

func TestRevokeChildByIdentityNotPayload(t *testing.T) {
	root := NewCapability(MemoryRegion{Access: NewAccess(0, 0x1000, Read)})
	owner := NewDomainNode(Policies{})

	a := NewCapability(MemoryRegion{Access: NewAccess(0, 0x100, Read)})
	b := NewCapability(MemoryRegion{Access: NewAccess(0, 0x100, Read)})
	root.AddChild(a, owner)
	root.AddChild(b, owner)

	var revoked []*Capability[MemoryRegion]
	err := root.RevokeChild(a, func(n *Capability[MemoryRegion]) error {
		revoked = append(revoked, n)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0] != b {
		t.Fatalf("expected only b to remain, got %+v", root.Children)
	}
	if len(revoked) != 1 || revoked[0] != a {
		t.Fatalf("expected only a to be revoked, got %+v", revoked)
	}
}

func TestRevokeNodeOnRootFails(t *testing.T) {
	root := NewCapability(MemoryRegion{Access: NewAccess(0, 0x1000, Read)})
	err := RevokeNode(root, func(n *Capability[MemoryRegion]) error { return nil })
	if err != ErrRevokeOnRootCapa {
		t.Fatalf("expected ErrRevokeOnRootCapa, got %v", err)
	}
}

func TestRevokeAllDetachesBeforeCallback(t *testing.T) {
	root := NewCapability(MemoryRegion{})
	owner := NewDomainNode(Policies{})
	child := NewCapability(MemoryRegion{})
	root.AddChild(child, owner)

	var sawParentNil bool
	err := root.RevokeAll(func(n *Capability[MemoryRegion]) error {
		if n == child {
			sawParentNil = n.Parent == nil
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawParentNil {
		t.Fatalf("expected child to be detached before its revoke callback fired")
	}
	if len(root.Children) != 0 {
		t.Fatalf("expected root to have no children left")
	}
}
