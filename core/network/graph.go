// Package network maintains the referral forest and the cached network value
// (RP) of every account in it.
//
// Accounts live in an arena and point at their referrer by index, so the
// ancestor walk used by edge insertion and value propagation is bounded by
// the maximum referral depth. Each node also tracks the root of its tree:
// cycle detection for chains deeper than the walk is a single comparison.
package network

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"finova/core/mining"
	"finova/core/types"
)

const noParent int32 = -1

type node struct {
	id       types.AccountID
	parent   int32
	root     int32
	children []int32
	joinedAt time.Time

	// mu serialises chain writes while this node is the root of its tree.
	mu sync.Mutex

	activity   uint64
	level      uint32
	lastActive time.Time
	snapshot   *types.NetworkSnapshot
}

func (n *node) version() uint64 {
	if n.snapshot == nil {
		return 0
	}
	return n.snapshot.Version
}

// Graph is the referral forest. Structural changes take the graph lock
// exclusively; value updates share it and serialise on the root of the
// affected tree.
type Graph struct {
	mu    sync.RWMutex
	nodes []*node
	index map[types.AccountID]int32

	store       Store
	retry       RetryPolicy
	tiers       *TierTable
	enforceCaps bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithStore sets the persistence backend.
func WithStore(store Store) Option {
	return func(g *Graph) {
		if store != nil {
			g.store = store
		}
	}
}

// WithRetryPolicy overrides the store I/O policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(g *Graph) { g.retry = policy }
}

// WithTiers overrides the tier ladder.
func WithTiers(tiers *TierTable) Option {
	return func(g *Graph) {
		if tiers != nil {
			g.tiers = tiers
		}
	}
}

// WithDirectCaps makes AddEdge enforce the referrer tier's direct referral
// cap.
func WithDirectCaps(enabled bool) Option {
	return func(g *Graph) { g.enforceCaps = enabled }
}

// New constructs an empty graph backed by a MemoryStore unless configured
// otherwise.
func New(opts ...Option) *Graph {
	g := &Graph{
		index: make(map[types.AccountID]int32),
		store: NewMemoryStore(),
		retry: DefaultRetryPolicy(),
		tiers: DefaultTierTable(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Tiers exposes the tier ladder.
func (g *Graph) Tiers() *TierTable { return g.tiers }

// Register adds a root account. Registering a known account is a no-op.
func (g *Graph) Register(ctx context.Context, id types.AccountID, joinedAt time.Time) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if joinedAt.IsZero() {
		return false, types.InvalidInputf("network: %s join time required", id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[id]; ok {
		return false, nil
	}
	if err := g.persist(ctx, Registration{Account: id, JoinedAt: joinedAt.UTC()}); err != nil {
		return false, err
	}
	g.insert(id, joinedAt)
	return true, nil
}

// AddEdge links referee under referrer. Unknown accounts are registered with
// the edge's creation time. Repeating an existing edge is a no-op; giving an
// account a second referrer fails. The cycle check and the insertion happen
// in one critical section.
func (g *Graph) AddEdge(ctx context.Context, edge types.ReferralEdge) (bool, error) {
	if err := edge.Validate(); err != nil {
		return false, err
	}
	if edge.Level > types.MaxReferralLevel {
		return false, types.InvalidInputf("network: edge level %d exceeds %d", edge.Level, types.MaxReferralLevel)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	referrer, referrerKnown := g.index[edge.Referrer]
	referee, refereeKnown := g.index[edge.Referee]
	if refereeKnown {
		if parent := g.nodes[referee].parent; parent != noParent {
			if referrerKnown && parent == referrer {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s", ErrAlreadyReferred, edge.Referee)
		}
	}
	if referrerKnown && refereeKnown && g.createsCycle(referrer, referee) {
		return false, fmt.Errorf("%w: %s is an ancestor of %s", ErrCycleDetected, edge.Referee, edge.Referrer)
	}
	if referrerKnown && g.enforceCaps {
		n := g.nodes[referrer]
		var value uint64
		if n.snapshot != nil {
			value = n.snapshot.Value
		}
		if !g.tiers.Resolve(value).AllowsDirect(uint32(len(n.children))) {
			return false, fmt.Errorf("%w: %s", ErrDirectLimit, edge.Referrer)
		}
	}

	if !referrerKnown {
		if err := g.persist(ctx, Registration{Account: edge.Referrer, JoinedAt: edge.CreatedAt.UTC()}); err != nil {
			return false, err
		}
		referrer = g.insert(edge.Referrer, edge.CreatedAt)
	}
	joined := edge.CreatedAt
	if refereeKnown {
		joined = g.nodes[referee].joinedAt
	}
	if err := g.persist(ctx, Registration{Account: edge.Referee, Referrer: edge.Referrer, JoinedAt: joined.UTC()}); err != nil {
		return false, err
	}
	if !refereeKnown {
		referee = g.insert(edge.Referee, joined)
	}
	g.link(referrer, referee)
	return true, nil
}

// createsCycle reports whether making referee a child of referrer would close
// a loop. The first MaxReferralLevel ancestors are walked directly; the root
// comparison covers anything deeper.
func (g *Graph) createsCycle(referrer, referee int32) bool {
	cur := referrer
	for depth := 0; depth <= types.MaxReferralLevel && cur != noParent; depth++ {
		if cur == referee {
			return true
		}
		cur = g.nodes[cur].parent
	}
	return g.nodes[referrer].root == referee
}

func (g *Graph) insert(id types.AccountID, joinedAt time.Time) int32 {
	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, &node{id: id, parent: noParent, root: idx, joinedAt: joinedAt.UTC()})
	g.index[id] = idx
	return idx
}

func (g *Graph) link(parent, child int32) {
	g.nodes[child].parent = parent
	g.nodes[parent].children = append(g.nodes[parent].children, child)
	root := g.nodes[parent].root
	stack := []int32{child}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		g.nodes[cur].root = root
		stack = append(stack, g.nodes[cur].children...)
	}
}

func (g *Graph) persist(ctx context.Context, reg Registration) error {
	return g.retry.Do(ctx, func(ctx context.Context) error {
		return g.store.PutRegistration(ctx, reg)
	})
}

// Restore rebuilds an empty graph from its store.
func (g *Graph) Restore(ctx context.Context) error {
	var regs []Registration
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		regs, err = g.store.Registrations(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("network: load registrations: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.nodes) != 0 {
		return fmt.Errorf("network: restore into non-empty graph")
	}
	ids := make([]types.AccountID, 0, len(regs))
	for _, reg := range regs {
		if _, ok := g.index[reg.Account]; ok {
			continue
		}
		g.insert(reg.Account, reg.JoinedAt)
		ids = append(ids, reg.Account)
	}
	for _, reg := range regs {
		if reg.Referrer == "" {
			continue
		}
		parent, ok := g.index[reg.Referrer]
		if !ok {
			return fmt.Errorf("network: %s references unknown referrer %s", reg.Account, reg.Referrer)
		}
		child := g.index[reg.Account]
		if g.nodes[child].parent != noParent || g.createsCycle(parent, child) {
			return fmt.Errorf("network: corrupt registration for %s", reg.Account)
		}
		g.link(parent, child)
	}

	var snaps map[types.AccountID]*types.NetworkSnapshot
	err = g.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		snaps, err = g.store.Load(ctx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("network: load snapshots: %w", err)
	}
	for id, snap := range snaps {
		n := g.nodes[g.index[id]]
		n.snapshot = snap
		n.activity = snap.OwnActivity
		n.level = snap.OwnLevel
		if snap.LastActiveAt > 0 {
			n.lastActive = time.Unix(snap.LastActiveAt, 0).UTC()
		}
	}
	return nil
}

// Len returns the number of registered accounts.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Has reports whether id is registered.
func (g *Graph) Has(id types.AccountID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Referrer returns the direct referrer of id.
func (g *Graph) Referrer(id types.AccountID) (types.AccountID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok || g.nodes[idx].parent == noParent {
		return "", false
	}
	return g.nodes[g.nodes[idx].parent].id, true
}

// Ancestors returns up to depth ancestors of id, nearest first.
func (g *Graph) Ancestors(id types.AccountID, depth int) []types.AccountID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return nil
	}
	var out []types.AccountID
	for _, a := range g.chain(idx, depth)[1:] {
		out = append(out, g.nodes[a].id)
	}
	return out
}

// chain returns idx followed by up to depth ancestors.
func (g *Graph) chain(idx int32, depth int) []int32 {
	out := []int32{idx}
	for cur := g.nodes[idx].parent; cur != noParent && len(out) <= depth; cur = g.nodes[cur].parent {
		out = append(out, cur)
	}
	return out
}

// Children returns the direct referrals of id in insertion order.
func (g *Graph) Children(id types.AccountID) []types.AccountID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]types.AccountID, 0, len(g.nodes[idx].children))
	for _, c := range g.nodes[idx].children {
		out = append(out, g.nodes[c].id)
	}
	return out
}

// Root returns the root of the tree containing id.
func (g *Graph) Root(id types.AccountID) (types.AccountID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return "", false
	}
	return g.nodes[g.nodes[idx].root].id, true
}

// Roots lists every tree root, sorted.
func (g *Graph) Roots() []types.AccountID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []types.AccountID
	for _, n := range g.nodes {
		if n.parent == noParent {
			out = append(out, n.id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns every referral edge.
func (g *Graph) Edges() []types.ReferralEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []types.ReferralEdge
	for _, n := range g.nodes {
		if n.parent == noParent {
			continue
		}
		out = append(out, types.ReferralEdge{Referrer: g.nodes[n.parent].id, Referee: n.id, CreatedAt: n.joinedAt, Level: 1})
	}
	return out
}

// Snapshot returns the cached network snapshot of id. Accounts that never
// had one get a zero snapshot in the lowest tier.
func (g *Graph) Snapshot(id types.AccountID) (types.NetworkSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return types.NetworkSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	root := g.nodes[g.nodes[idx].root]
	root.mu.Lock()
	defer root.mu.Unlock()
	return g.snapshotOf(idx), nil
}

func (g *Graph) snapshotOf(idx int32) types.NetworkSnapshot {
	n := g.nodes[idx]
	if n.snapshot != nil {
		return *n.snapshot
	}
	return types.NetworkSnapshot{Account: n.id, JoinedAt: n.joinedAt.Unix(), Tier: g.tiers.Resolve(0).Name}
}

// View is the read-only network input the reward coordinator consumes.
type View struct {
	Snapshot        types.NetworkSnapshot
	Tier            Tier
	ActiveReferrals uint32
}

// View assembles the network view of id as of asOf. Direct referrals active
// within window count towards the mining referral bonus.
func (g *Graph) View(id types.AccountID, asOf time.Time, window time.Duration) (View, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	root := g.nodes[g.nodes[idx].root]
	root.mu.Lock()
	defer root.mu.Unlock()
	snap := g.snapshotOf(idx)
	children := g.nodes[idx].children
	lastActive := make([]time.Time, len(children))
	for i, c := range children {
		lastActive[i] = g.nodes[c].lastActive
	}
	return View{
		Snapshot:        snap,
		Tier:            g.tiers.Resolve(snap.Value),
		ActiveReferrals: mining.ActiveReferrals(lastActive, asOf, window),
	}, nil
}
