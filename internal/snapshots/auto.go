package snapshots

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultAutoInterval    = 5 * time.Minute
	DefaultBlockDelta      = 5
	DefaultConnectionDelta = 10
)

// Reason tells why an automatic snapshot is due.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonInterval Reason = "interval"
	ReasonLarge    Reason = "large_change"
)

type AutoConfig struct {
	Interval        time.Duration
	BlockDelta      int
	ConnectionDelta int
}

func (c AutoConfig) withDefaults() AutoConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultAutoInterval
	}
	if c.BlockDelta <= 0 {
		c.BlockDelta = DefaultBlockDelta
	}
	if c.ConnectionDelta <= 0 {
		c.ConnectionDelta = DefaultConnectionDelta
	}
	return c
}

// AutoPolicy decides when a workspace is due an automatic snapshot: after
// Interval has elapsed with at least one change, or right away when the
// block or connection count moved by the configured delta since the last
// automatic snapshot. Observe only sees edits, so callers also poll Due on a
// timer to catch workspaces that went quiet after their last change.
type AutoPolicy struct {
	cfg         AutoConfig
	lastAt      time.Time
	blocks      int
	connections int
	changes     int

	// counts after the latest observed change
	seenBlocks      int
	seenConnections int
}

func NewAutoPolicy(cfg AutoConfig, blocks, connections int, now time.Time) *AutoPolicy {
	return &AutoPolicy{
		cfg: cfg.withDefaults(), lastAt: now,
		blocks: blocks, connections: connections,
		seenBlocks: blocks, seenConnections: connections,
	}
}

// Observe records one change that left the graph with the given counts. When
// it returns a reason other than ReasonNone the policy assumes the snapshot
// is taken and resets its baseline.
func (p *AutoPolicy) Observe(blocks, connections int, now time.Time) Reason {
	p.changes++
	p.seenBlocks, p.seenConnections = blocks, connections
	reason := ReasonNone
	switch {
	case abs(blocks-p.blocks) >= p.cfg.BlockDelta || abs(connections-p.connections) >= p.cfg.ConnectionDelta:
		reason = ReasonLarge
	case now.Sub(p.lastAt) >= p.cfg.Interval:
		reason = ReasonInterval
	}
	if reason != ReasonNone {
		p.mark(now)
	}
	return reason
}

// Due reports ReasonInterval when Interval has elapsed since the last
// automatic snapshot and changes are pending, resetting the baseline the
// same way Observe does. It never counts as a change itself.
func (p *AutoPolicy) Due(now time.Time) Reason {
	if p.changes == 0 || now.Sub(p.lastAt) < p.cfg.Interval {
		return ReasonNone
	}
	p.mark(now)
	return ReasonInterval
}

func (p *AutoPolicy) mark(now time.Time) {
	p.lastAt = now
	p.blocks = p.seenBlocks
	p.connections = p.seenConnections
	p.changes = 0
}

// Pending is the number of changes since the last automatic snapshot.
func (p *AutoPolicy) Pending() int { return p.changes }

// AutoTracker keeps one AutoPolicy per workspace for server-side saves.
type AutoTracker struct {
	cfg AutoConfig
	now func() time.Time

	mu       sync.Mutex
	policies map[string]*AutoPolicy
}

func NewAutoTracker(cfg AutoConfig, now func() time.Time) *AutoTracker {
	if now == nil {
		now = time.Now
	}
	return &AutoTracker{cfg: cfg.withDefaults(), now: now, policies: map[string]*AutoPolicy{}}
}

// Observe feeds a save of workspaceID that moved it from the prev counts to
// the next counts. The first save seen for a workspace sets its baseline
// from the prev counts.
func (t *AutoTracker) Observe(workspaceID string, prevBlocks, prevConnections, blocks, connections int) Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	p, ok := t.policies[workspaceID]
	if !ok {
		p = NewAutoPolicy(t.cfg, prevBlocks, prevConnections, now)
		t.policies[workspaceID] = p
	}
	return p.Observe(blocks, connections, now)
}

// Due returns, sorted, the workspaces whose interval snapshot fell due
// without a further save, and resets them as taken.
func (t *AutoTracker) Due() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var due []string
	for id, p := range t.policies {
		if p.Due(now) != ReasonNone {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

func (t *AutoTracker) Forget(workspaceID string) {
	t.mu.Lock()
	delete(t.policies, workspaceID)
	t.mu.Unlock()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
