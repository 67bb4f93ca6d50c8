package resolver

import (
	"context"
	"testing"

	"github.com/mwantia/unionfs/rename"
	"github.com/mwantia/unionfs/source"
)

func newTestResolver(sources ...*fakeMount) (*Resolver, []*fakeMount) {
	mounts := make([]source.Mount, len(sources))
	for i, s := range sources {
		mounts[i] = s
	}
	ren := rename.NewStore(true)
	tomb := NewTombstoneSet(true)
	return New(mounts, ren, tomb, true), sources
}

func TestResolverShadowingTopWins(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	top.putFile("shadowed.txt", []byte("from top"))
	bottom.putFile("shadowed.txt", []byte("from bottom"))

	r, _ := newTestResolver(top, bottom)
	loc, err := r.Metadata(context.Background(), "/shadowed.txt")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if loc.Rank != 0 {
		t.Fatalf("expected rank 0 (top) to win, got rank %d", loc.Rank)
	}
}

func TestResolverTombstoneHidesLowerRank(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	bottom.putFile("gone.txt", []byte("still physically here"))

	r, _ := newTestResolver(top, bottom)
	r.Tombstones.Add("/gone.txt")

	if _, err := r.Metadata(context.Background(), "/gone.txt"); err == nil {
		t.Fatalf("expected tombstoned lower-rank file to be hidden")
	}
}

func TestResolverEnumerateMergesAndDedupes(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	top.putFile("a.txt", []byte("top a"))
	bottom.putFile("a.txt", []byte("bottom a"))
	bottom.putFile("b.txt", []byte("bottom b"))

	r, _ := newTestResolver(top, bottom)
	var names []string
	var ranks []int
	err := r.Enumerate(context.Background(), "/", func(c Child) bool {
		names = append(names, c.Name)
		ranks = append(ranks, c.Rank)
		return true
	})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 merged names, got %v", names)
	}
}

func TestResolverEnumerateExcludesTombstoned(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	bottom.putFile("hidden.txt", []byte("data"))

	r, _ := newTestResolver(top, bottom)
	r.Tombstones.Add("/hidden.txt")

	found := false
	err := r.Enumerate(context.Background(), "/", func(c Child) bool {
		if c.Name == "hidden.txt" {
			found = true
		}
		return true
	})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if found {
		t.Fatalf("tombstoned file must not appear in enumeration")
	}
}

func TestResolverPrepareWriteDetectsCopyUp(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	bottom.putFile("needs_copyup.txt", []byte("lower data"))

	r, _ := newTestResolver(top, bottom)
	plan, err := r.PrepareWrite(context.Background(), "/needs_copyup.txt")
	if err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	if !plan.NeedsCopyUp || plan.CopyUpRank != 1 {
		t.Fatalf("expected copy-up from rank 1, got %+v", plan)
	}
}

func TestResolverPrepareWriteNoOpWhenAlreadyAtTop(t *testing.T) {
	top := newFakeMount("top", true)
	top.putFile("already.txt", []byte("top data"))

	r, _ := newTestResolver(top)
	plan, err := r.PrepareWrite(context.Background(), "/already.txt")
	if err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	if plan.NeedsCopyUp {
		t.Fatalf("should not need copy-up when already at rank 0")
	}
}

func TestResolverPrepareCreateRejectsExisting(t *testing.T) {
	top := newFakeMount("top", true)
	top.putFile("exists.txt", []byte("data"))

	r, _ := newTestResolver(top)
	if _, _, err := r.PrepareCreate(context.Background(), "/exists.txt"); err == nil {
		t.Fatalf("expected AlreadyExists")
	}
}

func TestResolverPrepareCreateClearsTombstone(t *testing.T) {
	top := newFakeMount("top", true)
	r, _ := newTestResolver(top)
	r.Tombstones.Add("/recreate.txt")

	_, clear, err := r.PrepareCreate(context.Background(), "/recreate.txt")
	if err != nil {
		t.Fatalf("PrepareCreate: %v", err)
	}
	if !clear {
		t.Fatalf("expected clearTombstone=true for a tombstoned path")
	}
}

func TestResolverPrepareDeleteRank0Only(t *testing.T) {
	top := newFakeMount("top", true)
	top.putFile("only_top.txt", []byte("data"))

	r, _ := newTestResolver(top)
	plan, err := r.PrepareDelete(context.Background(), "/only_top.txt")
	if err != nil {
		t.Fatalf("PrepareDelete: %v", err)
	}
	if !plan.Rank0Only || plan.NeedsTombstone {
		t.Fatalf("expected Rank0Only delete, got %+v", plan)
	}
}

func TestResolverPrepareDeleteNeedsTombstone(t *testing.T) {
	top := newFakeMount("top", true)
	bottom := newFakeMount("bottom", false)
	bottom.putFile("below.txt", []byte("data"))

	r, _ := newTestResolver(top, bottom)
	plan, err := r.PrepareDelete(context.Background(), "/below.txt")
	if err != nil {
		t.Fatalf("PrepareDelete: %v", err)
	}
	if !plan.NeedsTombstone {
		t.Fatalf("expected NeedsTombstone delete, got %+v", plan)
	}
}
