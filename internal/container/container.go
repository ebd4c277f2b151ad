package container

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidCandidate  = errors.New("invalid interpretation candidate")
	ErrInvalidWeights    = errors.New("invalid ranking weights")
	ErrUnknownScript     = errors.New("unknown ranking script")
	ErrCapacityInvariant = errors.New("container capacity invariant violated")
)

const (
	// DefaultCapacity is K, the maximum number of candidates kept
	DefaultCapacity = 7
	// DefaultRecencyBias is recencyBiasStrength
	DefaultRecencyBias = 0.3
)

// Options configures a container
type Options struct {
	Capacity    int
	RecencyBias float64
	Policy      RankingPolicy
	Clock       clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.RecencyBias < 0 {
		o.RecencyBias = 0
	}
	if o.Policy == nil {
		o.Policy = Balanced
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

type slot struct {
	cand  Candidate
	seq   uint64  // insertion order, breaks full ties in favor of newer
	score float64 // score at the last ranking
}

// Container is a bounded, ranked set of candidate interpretations owned by
// one ambiguous entry. The active candidate is the top-ranked one as of the
// last mutation.
type Container struct {
	mu          sync.RWMutex
	capacity    int
	recencyBias float64
	policy      RankingPolicy
	clock       clockwork.Clock
	slots       []slot // ranked, best first
	nextSeq     uint64
	rankedAt    time.Time
}

// New creates an empty container
func New(opts Options) *Container {
	opts = opts.withDefaults()
	return &Container{
		capacity:    opts.Capacity,
		recencyBias: opts.RecencyBias,
		policy:      opts.Policy,
		clock:       opts.Clock,
	}
}

// AddResult describes the outcome of Add
type AddResult struct {
	Accepted       bool       `json:"accepted"`
	Evicted        *Candidate `json:"evicted,omitempty"`
	PreviousActive *Candidate `json:"previous_active,omitempty"`
	NewActive      *Candidate `json:"new_active,omitempty"`
}

// ActiveChanged reports whether the active candidate changed identity
func (r AddResult) ActiveChanged() bool {
	return candidateID(r.PreviousActive) != candidateID(r.NewActive)
}

// ReRankResult describes the outcome of ReRank
type ReRankResult struct {
	PreviousActive *Candidate `json:"previous_active,omitempty"`
	NewActive      *Candidate `json:"new_active,omitempty"`
	Reordered      bool       `json:"reordered"`
}

// ActiveChanged reports whether re-ranking changed the active candidate
func (r ReRankResult) ActiveChanged() bool {
	return candidateID(r.PreviousActive) != candidateID(r.NewActive)
}

// Add inserts a candidate. It is always accepted into the ranked set; if that
// exceeds capacity the lowest-scoring candidate under the current script is
// evicted (ties: oldest created_at goes first). The new candidate itself may
// be the one evicted.
func (c *Container) Add(cand Candidate) (AddResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	cand = cand.normalize(now)
	if err := cand.Validate(); err != nil {
		return AddResult{}, err
	}

	result := AddResult{Accepted: true, PreviousActive: c.topLocked()}

	c.nextSeq++
	c.slots = append(c.slots, slot{cand: cand, seq: c.nextSeq})
	c.rankLocked(now)

	for len(c.slots) > c.capacity {
		last := c.slots[len(c.slots)-1]
		c.slots = c.slots[:len(c.slots)-1]
		evicted := last.cand
		result.Evicted = &evicted
	}
	if len(c.slots) > c.capacity {
		return AddResult{}, fmt.Errorf("%w: %d > %d", ErrCapacityInvariant, len(c.slots), c.capacity)
	}

	result.NewActive = c.topLocked()
	return result, nil
}

// ReRank swaps the evaluation script and recomputes every score. It never
// removes a candidate; the new order drives the next eviction.
func (c *Container) ReRank(p RankingPolicy) ReRankResult {
	if p == nil {
		p = Balanced
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.orderLocked()
	result := ReRankResult{PreviousActive: c.topLocked()}

	c.policy = p
	c.rankLocked(c.clock.Now())

	after := c.orderLocked()
	for i := range before {
		if before[i] != after[i] {
			result.Reordered = true
			break
		}
	}
	result.NewActive = c.topLocked()
	return result
}

// Active returns the current top-ranked candidate
func (c *Container) Active() (Candidate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.slots) == 0 {
		return Candidate{}, false
	}
	return c.slots[0].cand, true
}

// Count returns the number of candidates held
func (c *Container) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// Capacity returns K
func (c *Container) Capacity() int {
	return c.capacity
}

// Policy returns the active evaluation script
func (c *Container) Policy() RankingPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Candidates returns the ranked candidates (copy, best first)
func (c *Container) Candidates() []Candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Candidate, len(c.slots))
	for i, s := range c.slots {
		out[i] = s.cand
	}
	return out
}

// Scores returns candidate ID -> score as of the last ranking
func (c *Container) Scores() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.slots))
	for _, s := range c.slots {
		out[s.cand.ID] = s.score
	}
	return out
}

// RankedAt returns when scores were last computed
func (c *Container) RankedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rankedAt
}

// Clone returns an independent deep copy sharing the clock and script
func (c *Container) Clone() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Container{
		capacity:    c.capacity,
		recencyBias: c.recencyBias,
		policy:      c.policy,
		clock:       c.clock,
		slots:       append([]slot(nil), c.slots...),
		nextSeq:     c.nextSeq,
		rankedAt:    c.rankedAt,
	}
}

// rankLocked scores every slot at now and sorts best first.
// Ties: newer created_at ranks higher, then newer insertion.
func (c *Container) rankLocked(now time.Time) {
	for i := range c.slots {
		c.slots[i].score = Score(c.policy, c.slots[i].cand, now, c.recencyBias)
	}
	sort.SliceStable(c.slots, func(i, j int) bool {
		a, b := c.slots[i], c.slots[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.cand.CreatedAt.Equal(b.cand.CreatedAt) {
			return a.cand.CreatedAt.After(b.cand.CreatedAt)
		}
		return a.seq > b.seq
	})
	c.rankedAt = now
}

func (c *Container) topLocked() *Candidate {
	if len(c.slots) == 0 {
		return nil
	}
	top := c.slots[0].cand
	return &top
}

func (c *Container) orderLocked() []string {
	ids := make([]string, len(c.slots))
	for i, s := range c.slots {
		ids[i] = s.cand.ID
	}
	return ids
}

func candidateID(c *Candidate) string {
	if c == nil {
		return ""
	}
	return c.ID
}
