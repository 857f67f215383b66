package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"finova/core/fixed"
	"finova/core/params"
	"finova/core/types"
)

var asOf = types.EpochStart(19_700)

func testParams() *params.NetworkParameters {
	p := params.DefaultParameters()
	p.Epoch = types.EpochOf(asOf)
	return p
}

func edge(referrer, referee types.AccountID) types.ReferralEdge {
	return types.ReferralEdge{Referrer: referrer, Referee: referee, CreatedAt: asOf, Level: 1}
}

func mustChain(t *testing.T, g *Graph, ids ...types.AccountID) {
	t.Helper()
	for i := 1; i < len(ids); i++ {
		if _, err := g.AddEdge(context.Background(), edge(ids[i-1], ids[i])); err != nil {
			t.Fatalf("add %s->%s: %v", ids[i-1], ids[i], err)
		}
	}
}

func TestPropagateChain(t *testing.T) {
	g := New()
	mustChain(t, g, "a", "b", "c", "d")

	updates, err := g.Propagate(context.Background(), Contribution{Account: "d", Points: 100, At: asOf}, testParams())
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 ancestor updates, got %d", len(updates))
	}
	want := []struct {
		account types.AccountID
		depth   uint8
		delta   uint64
	}{{"c", 1, 100}, {"b", 2, 30}, {"a", 3, 10}}
	for i, w := range want {
		u := updates[i]
		if u.Account != w.account || u.Depth != w.depth || u.Delta != w.delta || u.Source != "d" {
			t.Fatalf("update %d: got %+v want %+v", i, u, w)
		}
		if u.Version != 1 {
			t.Fatalf("update %d: expected version 1, got %d", i, u.Version)
		}
	}

	c, _ := g.Snapshot("c")
	if c.Direct != fixed.FromInt(100) || c.Indirect != 0 || c.Value != 130 {
		t.Fatalf("unexpected snapshot for c: %+v", c)
	}
	b, _ := g.Snapshot("b")
	if b.Direct != 0 || b.Indirect != fixed.FromInt(30) {
		t.Fatalf("unexpected snapshot for b: %+v", b)
	}
	a, _ := g.Snapshot("a")
	if a.Indirect != fixed.FromInt(10) || a.NetworkSize != 3 {
		t.Fatalf("unexpected snapshot for a: %+v", a)
	}
	d, _ := g.Snapshot("d")
	if d.OwnActivity != 100 || d.Value != 0 {
		t.Fatalf("unexpected snapshot for d: %+v", d)
	}
}

func TestPropagateStopsAtMaxDepth(t *testing.T) {
	g := New()
	mustChain(t, g, "root", "a", "b", "c", "d")
	updates, err := g.Propagate(context.Background(), Contribution{Account: "d", Points: 10, At: asOf}, testParams())
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(updates) != types.MaxReferralLevel {
		t.Fatalf("expected %d updates, got %d", types.MaxReferralLevel, len(updates))
	}
	root, _ := g.Snapshot("root")
	if root.Version != 0 || root.Value != 0 {
		t.Fatalf("depth-4 ancestor must not be touched: %+v", root)
	}
}

func TestDirectOnlyNetworkHasNoIndirect(t *testing.T) {
	g := New()
	ctx := context.Background()
	for _, child := range []types.AccountID{"x", "y", "z"} {
		if _, err := g.AddEdge(ctx, edge("referrer", child)); err != nil {
			t.Fatalf("add edge: %v", err)
		}
		if _, err := g.Propagate(ctx, Contribution{Account: child, Points: 50, At: asOf}, testParams()); err != nil {
			t.Fatalf("propagate: %v", err)
		}
	}
	snap, _ := g.Snapshot("referrer")
	if snap.Indirect != 0 {
		t.Fatalf("expected zero indirect rp, got %s", snap.Indirect)
	}
	if snap.Direct != fixed.FromInt(150) || snap.Value == 0 {
		t.Fatalf("expected direct rp, got %+v", snap)
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := New()
	mustChain(t, g, "x1", "x2", "y")
	before := g.Edges()

	_, err := g.AddEdge(context.Background(), edge("y", "x1"))
	if !errors.Is(err, ErrCycleDetected) || !errors.Is(err, types.ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if after := g.Edges(); len(after) != len(before) {
		t.Fatalf("graph changed after rejected insertion: %v", after)
	}
	if _, ok := g.Referrer("x1"); ok {
		t.Fatalf("x1 must remain a root")
	}
}

func TestAddEdgeRejectsDeepCycle(t *testing.T) {
	g := New()
	ids := []types.AccountID{"n0", "n1", "n2", "n3", "n4", "n5", "n6"}
	mustChain(t, g, ids...)
	if _, err := g.AddEdge(context.Background(), edge("n6", "n0")); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected deep cycle to be rejected, got %v", err)
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := New()
	ctx := context.Background()
	created, err := g.AddEdge(ctx, edge("alice", "bob"))
	if err != nil || !created {
		t.Fatalf("first insertion: created=%v err=%v", created, err)
	}
	created, err = g.AddEdge(ctx, edge("alice", "bob"))
	if err != nil || created {
		t.Fatalf("repeat insertion: created=%v err=%v", created, err)
	}
	if _, err := g.AddEdge(ctx, edge("carol", "bob")); !errors.Is(err, ErrAlreadyReferred) {
		t.Fatalf("expected already referred, got %v", err)
	}
	if _, err := g.AddEdge(ctx, edge("bob", "bob")); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected self referral to be invalid, got %v", err)
	}
	if len(g.Children("alice")) != 1 {
		t.Fatalf("duplicate child recorded")
	}
}

func TestAddEdgeAdoptsExistingTree(t *testing.T) {
	g := New()
	mustChain(t, g, "b", "c")
	mustChain(t, g, "a", "b")
	if root, _ := g.Root("c"); root != "a" {
		t.Fatalf("expected c to move under a, got root %s", root)
	}
	if anc := g.Ancestors("c", 3); len(anc) != 2 || anc[0] != "b" || anc[1] != "a" {
		t.Fatalf("unexpected ancestors %v", anc)
	}
}

func TestRandomInsertionsStayAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	g := New()
	ctx := context.Background()
	const accounts = 60
	for i := 0; i < 600; i++ {
		from := types.AccountID(fmt.Sprintf("u%d", rng.Intn(accounts)))
		to := types.AccountID(fmt.Sprintf("u%d", rng.Intn(accounts)))
		before := len(g.Edges())
		_, err := g.AddEdge(ctx, edge(from, to))
		if err != nil && len(g.Edges()) != before {
			t.Fatalf("rejected insertion %s->%s changed the graph", from, to)
		}
	}
	for _, e := range g.Edges() {
		seen := map[types.AccountID]bool{e.Referee: true}
		cur := e.Referee
		for {
			parent, ok := g.Referrer(cur)
			if !ok {
				break
			}
			if seen[parent] {
				t.Fatalf("cycle through %s", parent)
			}
			seen[parent] = true
			cur = parent
		}
		if root, _ := g.Root(e.Referee); root != cur {
			t.Fatalf("root of %s tracked as %s, walk found %s", e.Referee, root, cur)
		}
	}
}

func TestPropagateDetectsStaleSnapshot(t *testing.T) {
	store := NewMemoryStore()
	g := New(WithStore(store))
	ctx := context.Background()
	mustChain(t, g, "a", "b", "c")
	if _, err := g.Propagate(ctx, Contribution{Account: "c", Points: 10, At: asOf}, testParams()); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	raced, _ := store.Load(ctx, []types.AccountID{"b"})
	snap := raced["b"]
	snap.Version++
	if err := store.Commit(ctx, []*types.NetworkSnapshot{snap}, map[types.AccountID]uint64{"b": 1}); err != nil {
		t.Fatalf("concurrent writer: %v", err)
	}

	_, err := g.Propagate(ctx, Contribution{Account: "c", Points: 10, At: asOf}, testParams())
	if !errors.Is(err, types.ErrStaleSnapshot) {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
	c, _ := g.Snapshot("c")
	if c.OwnActivity != 10 || c.Version != 1 {
		t.Fatalf("failed propagation leaked into memory: %+v", c)
	}
	persisted, _ := store.Load(ctx, []types.AccountID{"a", "c"})
	if persisted["a"].Version != 1 || persisted["c"].Version != 1 {
		t.Fatalf("failed propagation partially committed")
	}
}

func TestPropagateCancelled(t *testing.T) {
	g := New()
	mustChain(t, g, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Propagate(ctx, Contribution{Account: "b", Points: 5, At: asOf}, testParams()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if snap, _ := g.Snapshot("b"); snap.OwnActivity != 0 {
		t.Fatalf("cancelled propagation mutated state")
	}
}

func TestPropagateUnknownAccount(t *testing.T) {
	g := New()
	if _, err := g.Propagate(context.Background(), Contribution{Account: "ghost", Points: 1, At: asOf}, testParams()); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account, got %v", err)
	}
}

func TestPropagateConcurrent(t *testing.T) {
	g := New()
	ctx := context.Background()
	const trees, leaves, rounds = 4, 5, 20
	for tree := 0; tree < trees; tree++ {
		root := types.AccountID(fmt.Sprintf("root%d", tree))
		for leaf := 0; leaf < leaves; leaf++ {
			if _, err := g.AddEdge(ctx, edge(root, types.AccountID(fmt.Sprintf("leaf%d-%d", tree, leaf)))); err != nil {
				t.Fatalf("add edge: %v", err)
			}
		}
	}
	p := testParams()
	var wg sync.WaitGroup
	errs := make(chan error, trees*leaves)
	for tree := 0; tree < trees; tree++ {
		for leaf := 0; leaf < leaves; leaf++ {
			id := types.AccountID(fmt.Sprintf("leaf%d-%d", tree, leaf))
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					if _, err := g.Propagate(ctx, Contribution{Account: id, Points: 1, At: asOf}, p); err != nil {
						errs <- err
						return
					}
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent propagate: %v", err)
	}
	for tree := 0; tree < trees; tree++ {
		snap, _ := g.Snapshot(types.AccountID(fmt.Sprintf("root%d", tree)))
		if snap.Direct != fixed.FromInt(leaves*rounds) {
			t.Fatalf("tree %d: direct %s", tree, snap.Direct)
		}
		if snap.Version != leaves*rounds {
			t.Fatalf("tree %d: version %d", tree, snap.Version)
		}
	}
}

func TestConcurrentEdgesNeverFormCycle(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := New()
		ctx := context.Background()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = g.AddEdge(ctx, edge("p", "q")) }()
		go func() { defer wg.Done(); _, _ = g.AddEdge(ctx, edge("q", "p")) }()
		wg.Wait()
		if len(g.Edges()) != 1 {
			t.Fatalf("expected exactly one edge, got %v", g.Edges())
		}
	}
}

func TestRestore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	g := New(WithStore(store))
	if _, err := g.Register(ctx, "b", asOf); err != nil {
		t.Fatalf("register: %v", err)
	}
	mustChain(t, g, "b", "c")
	mustChain(t, g, "a", "b")
	if _, err := g.Propagate(ctx, Contribution{Account: "c", Points: 40, Level: 3, At: asOf}, testParams()); err != nil {
		t.Fatalf("propagate: %v", err)
	}

	restored := New(WithStore(store))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 3 {
		t.Fatalf("expected 3 accounts, got %d", restored.Len())
	}
	for _, id := range []types.AccountID{"a", "b", "c"} {
		want, _ := g.Snapshot(id)
		got, _ := restored.Snapshot(id)
		if got != want {
			t.Fatalf("%s: restored %+v want %+v", id, got, want)
		}
	}
	if root, _ := restored.Root("c"); root != "a" {
		t.Fatalf("restored root %s", root)
	}
}

func TestRecomputeRootAppliesDecay(t *testing.T) {
	g := New()
	ctx := context.Background()
	mustChain(t, g, "a", "b")
	p := testParams()
	if _, err := g.Propagate(ctx, Contribution{Account: "b", Points: 1_000, At: asOf}, p); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	before, _ := g.Snapshot("a")

	later := p.Clone()
	later.Epoch += 365
	updates, err := g.RecomputeRoot(ctx, "a", later)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	after, _ := g.Snapshot("a")
	if after.Value >= before.Value {
		t.Fatalf("expected decay: before %d after %d", before.Value, after.Value)
	}
	if len(updates) != 1 || updates[0].Account != "a" {
		t.Fatalf("unexpected updates %+v", updates)
	}
	if _, err := g.RecomputeRoot(ctx, "b", later); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected non-root to be rejected, got %v", err)
	}
}

func TestDirectCaps(t *testing.T) {
	g := New(WithDirectCaps(true))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := g.AddEdge(ctx, edge("hub", types.AccountID(fmt.Sprintf("r%d", i)))); err != nil {
			t.Fatalf("edge %d: %v", i, err)
		}
	}
	if _, err := g.AddEdge(ctx, edge("hub", "r10")); !errors.Is(err, ErrDirectLimit) {
		t.Fatalf("expected explorer cap, got %v", err)
	}
}

func TestView(t *testing.T) {
	g := New()
	ctx := context.Background()
	mustChain(t, g, "a", "b")
	if _, err := g.AddEdge(ctx, edge("a", "c")); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	p := testParams()
	if _, err := g.Propagate(ctx, Contribution{Account: "b", Points: 1, At: asOf.Add(-40 * 24 * time.Hour)}, p); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if _, err := g.Propagate(ctx, Contribution{Account: "c", Points: 1, At: asOf}, p); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	view, err := g.View("a", asOf, p.Mining.ActiveWindow)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.ActiveReferrals != 1 || view.Tier.Name != "explorer" {
		t.Fatalf("unexpected view %+v", view)
	}

	// Activity stamped after the view time does not count yet.
	if _, err := g.AddEdge(ctx, edge("a", "d")); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	if _, err := g.Propagate(ctx, Contribution{Account: "d", Points: 1, At: asOf.Add(time.Hour)}, p); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	view, err = g.View("a", asOf, p.Mining.ActiveWindow)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.ActiveReferrals != 1 {
		t.Fatalf("future activity counted: %+v", view)
	}
}
