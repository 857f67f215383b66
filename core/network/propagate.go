package network

import (
	"context"
	"fmt"
	"math"
	"time"

	"finova/core/events"
	"finova/core/fixed"
	"finova/core/params"
	"finova/core/types"
)

// Contribution is the activity an account adds to its ancestors' networks.
type Contribution struct {
	Account types.AccountID
	Points  uint64
	// Level is the contributor's XP level after the activity.
	Level uint32
	At    time.Time
}

// memberState is the mutable part of a node, overridable for the account
// whose activity is being propagated.
type memberState struct {
	activity   uint64
	level      uint32
	lastActive time.Time
}

type override struct {
	idx   int32
	state memberState
}

func (g *Graph) state(idx int32, ov *override) memberState {
	if ov != nil && ov.idx == idx {
		return ov.state
	}
	n := g.nodes[idx]
	return memberState{activity: n.activity, level: n.level, lastActive: n.lastActive}
}

// Propagate records c against its account and recomputes the snapshots of the
// account and its ancestors up to MaxReferralLevel. The new snapshots are
// committed to the store in one batch before anything in memory changes, so a
// failed or cancelled propagation leaves no partial update. One
// NetworkValueUpdate is returned per ancestor.
func (g *Graph) Propagate(ctx context.Context, c Contribution, p *params.NetworkParameters) ([]events.NetworkValueUpdate, error) {
	if err := c.Account.Validate(); err != nil {
		return nil, err
	}
	if c.At.IsZero() {
		return nil, types.InvalidInputf("network: contribution time required")
	}
	if p == nil {
		return nil, types.InvalidInputf("network: parameters required")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[c.Account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, c.Account)
	}
	root := g.nodes[g.nodes[idx].root]
	root.mu.Lock()
	defer root.mu.Unlock()

	cur := g.state(idx, nil)
	next := memberState{activity: cur.activity + c.Points, level: c.Level, lastActive: cur.lastActive}
	if next.activity < cur.activity {
		next.activity = math.MaxUint64
	}
	if c.At.After(next.lastActive) {
		next.lastActive = c.At.UTC()
	}
	ov := &override{idx: idx, state: next}

	chain := g.chain(idx, types.MaxReferralLevel)
	batch := make([]*types.NetworkSnapshot, 0, len(chain))
	expected := make(map[types.AccountID]uint64, len(chain))
	for _, member := range chain {
		snap := g.compute(member, p, ov)
		expected[snap.Account] = g.nodes[member].version()
		snap.Version = expected[snap.Account] + 1
		batch = append(batch, snap)
	}
	if err := g.commit(ctx, batch, expected); err != nil {
		return nil, err
	}

	actor := g.nodes[idx]
	actor.activity, actor.level, actor.lastActive = next.activity, next.level, next.lastActive
	updates := make([]events.NetworkValueUpdate, 0, len(chain)-1)
	for depth, member := range chain {
		n := g.nodes[member]
		prev := g.snapshotOf(member)
		n.snapshot = batch[depth]
		if depth == 0 {
			continue
		}
		factor := DepthFactor(p.Network, depth)
		if depth == 1 {
			factor = TimeDecay(p.Network, p.AsOf(), actor.joinedAt)
		}
		updates = append(updates, events.NetworkValueUpdate{
			Account:       n.id,
			Source:        c.Account,
			Depth:         uint8(depth),
			Delta:         fixed.ScaleInt(c.Points, factor),
			PreviousValue: prev.Value,
			Value:         n.snapshot.Value,
			Tier:          n.snapshot.Tier,
			Epoch:         p.Epoch,
			Version:       n.snapshot.Version,
		})
	}
	return updates, nil
}

// RecomputeRoot revalues every account in the tree rooted at root under p.
// It runs on the epoch tick so time decay and activity status advance without
// new activity. Updates are returned for accounts whose value changed; their
// Delta is zero.
func (g *Graph) RecomputeRoot(ctx context.Context, rootID types.AccountID, p *params.NetworkParameters) ([]events.NetworkValueUpdate, error) {
	if p == nil {
		return nil, types.InvalidInputf("network: parameters required")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, rootID)
	}
	root := g.nodes[idx]
	if root.parent != noParent {
		return nil, types.InvalidInputf("network: %s is not a root", rootID)
	}
	root.mu.Lock()
	defer root.mu.Unlock()

	var members []int32
	stack := []int32{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		members = append(members, cur)
		stack = append(stack, g.nodes[cur].children...)
	}
	batch := make([]*types.NetworkSnapshot, 0, len(members))
	expected := make(map[types.AccountID]uint64, len(members))
	for _, member := range members {
		snap := g.compute(member, p, nil)
		expected[snap.Account] = g.nodes[member].version()
		snap.Version = expected[snap.Account] + 1
		batch = append(batch, snap)
	}
	if err := g.commit(ctx, batch, expected); err != nil {
		return nil, err
	}
	var updates []events.NetworkValueUpdate
	for i, member := range members {
		prev := g.snapshotOf(member)
		g.nodes[member].snapshot = batch[i]
		if prev.Value == batch[i].Value && prev.Tier == batch[i].Tier {
			continue
		}
		updates = append(updates, events.NetworkValueUpdate{
			Account:       batch[i].Account,
			Source:        rootID,
			PreviousValue: prev.Value,
			Value:         batch[i].Value,
			Tier:          batch[i].Tier,
			Epoch:         p.Epoch,
			Version:       batch[i].Version,
		})
	}
	return updates, nil
}

func (g *Graph) commit(ctx context.Context, batch []*types.NetworkSnapshot, expected map[types.AccountID]uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.retry.Do(ctx, func(ctx context.Context) error {
		return g.store.Commit(ctx, batch, expected)
	})
}

// compute derives the snapshot of idx from its members up to the maximum
// referral depth, applying ov in place of the stored state.
func (g *Graph) compute(idx int32, p *params.NetworkParameters, ov *override) *types.NetworkSnapshot {
	var members []Referral
	g.collect(idx, 1, ov, &members)
	asOf := p.AsOf()
	val := Evaluate(p.Network, asOf, members)
	own := g.state(idx, ov)
	n := g.nodes[idx]
	snap := &types.NetworkSnapshot{
		Account:      n.id,
		OwnActivity:  own.activity,
		OwnLevel:     own.level,
		JoinedAt:     n.joinedAt.Unix(),
		Direct:       val.Direct,
		Indirect:     val.Indirect,
		NetworkSize:  val.Size,
		DirectCount:  val.DirectCount,
		DirectActive: val.DirectActive,
		ActiveCount:  val.ActiveCount,
		Quality:      val.Quality,
		Bonus:        val.Bonus,
		Regression:   val.Regression,
		Value:        val.Value,
		Tier:         g.tiers.Resolve(val.Value).Name,
		Epoch:        p.Epoch,
	}
	if !own.lastActive.IsZero() {
		snap.LastActiveAt = own.lastActive.Unix()
	}
	return snap
}

func (g *Graph) collect(idx int32, depth int, ov *override, out *[]Referral) {
	if depth > types.MaxReferralLevel {
		return
	}
	for _, c := range g.nodes[idx].children {
		st := g.state(c, ov)
		*out = append(*out, Referral{
			Depth:        depth,
			Activity:     st.activity,
			Level:        st.level,
			JoinedAt:     g.nodes[c].joinedAt,
			LastActiveAt: st.lastActive,
		})
		g.collect(c, depth+1, ov, out)
	}
}
