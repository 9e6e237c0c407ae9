package stepgen

import "github.com/pkg/errors"

// MaxFollowers bounds the number of axes slaved to one leader
const MaxFollowers = 8

type follower struct {
	index    int   // arena index
	distance int64 // |steps| this follower must travel
	err      int64 // Bresenham decision variable
	dir      int32
}

// SyncGroup slaves followers to a leader so that every axis starts and
// finishes one coordinated move together. Followers step only on leader
// steps, chosen by an integer Bresenham decision.
//
// The group refers to steppers by index into a shared arena. A leader owns
// at most one group; the group's state is only touched under the leader's
// guard.
type SyncGroup struct {
	arena       []*Stepper
	leader      int
	leaderSteps int64
	followers   [MaxFollowers]follower
	n           int
}

// NewSyncGroup creates an empty group over the given steppers
func NewSyncGroup(arena []*Stepper) *SyncGroup {
	return &SyncGroup{arena: arena, leader: -1}
}

// Synchronize links followers to leader for the next move. Every
// stepper's target must already be set and the leader must have the
// longest distance. Call before starting the leader's profile.
func (g *SyncGroup) Synchronize(leader int, followers []int) error {
	if leader < 0 || leader >= len(g.arena) {
		return errors.Wrapf(ErrInvalidParams, "leader index %d", leader)
	}
	if len(followers) > MaxFollowers {
		return errors.Wrapf(ErrInvalidParams, "%d followers", len(followers))
	}
	m := g.arena[leader]
	if m.IsMoving() {
		return ErrBusy
	}
	leaderSteps := int64(m.DistanceToGo())
	if leaderSteps < 0 {
		leaderSteps = -leaderSteps
	}

	seen := make(map[int]bool, len(followers))
	for _, idx := range followers {
		if idx < 0 || idx >= len(g.arena) || idx == leader || seen[idx] {
			return errors.Wrapf(ErrInvalidParams, "follower index %d", idx)
		}
		seen[idx] = true
		f := g.arena[idx]
		if f.IsMoving() {
			return errors.Wrapf(ErrBusy, "follower %s", f.Name())
		}
		d := int64(f.DistanceToGo())
		if d < 0 {
			d = -d
		}
		if d > leaderSteps {
			return errors.Wrapf(ErrInvalidParams, "follower %s travels further than leader", f.Name())
		}
	}

	m.guard.Lock()
	defer m.guard.Unlock()

	if m.group != nil {
		m.group.release()
	}
	g.leader = leader
	g.leaderSteps = leaderSteps
	g.n = 0
	for _, idx := range followers {
		f := g.arena[idx]
		d := int64(f.DistanceToGo())
		dir := int32(1)
		if d < 0 {
			dir = -1
			d = -d
		}
		if d == 0 {
			continue
		}
		f.backend.SetDirection(dir < 0)
		g.followers[g.n] = follower{
			index:    idx,
			distance: d,
			err:      2*d - leaderSteps,
			dir:      dir,
		}
		g.n++
		f.leader.Store(m)
	}
	m.group = g
	return nil
}

// Followers returns the arena indices of the linked followers
func (g *SyncGroup) Followers() []int {
	out := make([]int, g.n)
	for i := 0; i < g.n; i++ {
		out[i] = g.followers[i].index
	}
	return out
}

// Leader returns the arena index of the leader, or -1
func (g *SyncGroup) Leader() int {
	return g.leader
}

// stepFollowers runs on every leader step
func (g *SyncGroup) stepFollowers() {
	for i := 0; i < g.n; i++ {
		f := &g.followers[i]
		if f.err >= 0 {
			st := g.arena[f.index]
			st.backend.StepHigh()
			st.position.Add(f.dir)
			f.err -= 2 * g.leaderSteps
		}
		f.err += 2 * f.distance
	}
}

func (g *SyncGroup) stepLow() {
	for i := 0; i < g.n; i++ {
		g.arena[g.followers[i].index].backend.StepLow()
	}
}

// release unlinks every follower and detaches the group from its leader
func (g *SyncGroup) release() {
	for i := 0; i < g.n; i++ {
		st := g.arena[g.followers[i].index]
		st.backend.StepLow()
		st.target.Store(st.position.Load())
		st.leader.Store(nil)
	}
	g.n = 0
	if g.leader >= 0 {
		g.arena[g.leader].group = nil
	}
	g.leader = -1
	g.leaderSteps = 0
}
