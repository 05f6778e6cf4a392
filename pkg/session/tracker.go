// Package session tracks short per-session input history to catch drip
// attacks: individually harmless prompts that jointly probe for sensitive
// material ("what db do you use", "who are the admins", "list the
// passwords"). Single-shot scanners never see the pattern; this one does.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// DefaultWindowSize is how many recent inputs a session retains.
const DefaultWindowSize = 5

// DefaultDripThreshold is the cumulative keyword count a window must
// exceed before the tracker raises an alert.
const DefaultDripThreshold = 3

// DripScore is the behavioral score attached to a drip alert. Fixed at a
// mid-band value: accumulated probing warrants review, not an outright
// critical block.
const DripScore = 0.5

// defaultKeywords are the sensitivity probes counted across the window.
// Plural forms are covered by substring counting of the singular.
var defaultKeywords = []string{
	"password", "secret", "token", "credential", "api key", "private key",
	"ssn", "social security", "credit card", "database", "db schema",
	"admin", "root access", "internal", "confidential", "instruction",
	"system prompt", "configuration", "env var", "environment variable",
}

// Observation is the behavioral evidence for one session turn.
type Observation struct {
	Score        float64  `json:"score"`
	Reasons      []string `json:"reasons,omitempty"`
	KeywordCount int      `json:"keyword_count"`
	WindowSize   int      `json:"window_size"`
}

// Alerted reports whether the observation crossed the drip threshold.
func (o Observation) Alerted() bool { return o.Score > 0 }

type turn struct {
	keywordCount int
	at           time.Time
}

type sessionState struct {
	mu       sync.Mutex
	turns    []turn
	lastSeen time.Time
}

// Tracker holds bounded per-session windows. Safe for concurrent use;
// turns of the same session are serialized so concurrent scans cannot
// interleave window updates.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	windowSize    int
	dripThreshold int
	keywords      []string
	maxSessions   int
	maxAge        time.Duration
	cleanupEvery  time.Duration

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindowSize overrides how many recent inputs each session keeps.
func WithWindowSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.windowSize = n
		}
	}
}

// WithDripThreshold overrides the cumulative keyword count that triggers
// an alert (alert fires strictly above the threshold).
func WithDripThreshold(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.dripThreshold = n
		}
	}
}

// WithKeywords replaces the sensitivity keyword list.
func WithKeywords(kw []string) Option {
	return func(t *Tracker) {
		if len(kw) > 0 {
			t.keywords = kw
		}
	}
}

// WithMaxSessions caps how many sessions are tracked at once. At the cap
// the stalest session is evicted to admit a new one.
func WithMaxSessions(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxSessions = n
		}
	}
}

// WithMaxAge sets the idle TTL after which a session is swept.
func WithMaxAge(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.maxAge = d
		}
	}
}

// WithCleanupInterval sets how often the sweep goroutine runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cleanupEvery = d
		}
	}
}

// NewTracker starts a tracker and its background sweep.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions:      make(map[string]*sessionState),
		windowSize:    DefaultWindowSize,
		dripThreshold: DefaultDripThreshold,
		keywords:      defaultKeywords,
		maxSessions:   10000,
		maxAge:        1 * time.Hour,
		cleanupEvery:  5 * time.Minute,
		stopCleanup:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.cleanupLoop()
	return t
}

// Observe records one input for the session and returns the behavioral
// evidence for this turn. An empty session ID disables tracking and
// always observes clean.
func (t *Tracker) Observe(sessionID, text string) Observation {
	obs := Observation{WindowSize: t.windowSize}
	if sessionID == "" {
		return obs
	}

	count := t.countKeywords(text)
	s := t.getOrCreate(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.turns = append(s.turns, turn{keywordCount: count, at: now})
	if len(s.turns) > t.windowSize {
		s.turns = s.turns[len(s.turns)-t.windowSize:]
	}
	s.lastSeen = now

	total := 0
	for _, tr := range s.turns {
		total += tr.keywordCount
	}
	obs.KeywordCount = total

	if total > t.dripThreshold {
		obs.Score = DripScore
		obs.Reasons = []string{"accumulated sensitivity probing across recent inputs"}
	}
	return obs
}

// Forget drops a session's history.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// SessionCount reports how many sessions are currently tracked.
func (t *Tracker) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Close stops the sweep goroutine.
func (t *Tracker) Close() {
	t.cleanupOnce.Do(func() {
		close(t.stopCleanup)
	})
}

func (t *Tracker) countKeywords(text string) int {
	folded := patterns.Canonical(text)
	n := 0
	for _, kw := range t.keywords {
		n += strings.Count(folded, kw)
	}
	return n
}

func (t *Tracker) getOrCreate(sessionID string) *sessionState {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.sessions[sessionID]; ok {
		return s
	}
	if len(t.sessions) >= t.maxSessions {
		t.evictStalestLocked()
	}
	s = &sessionState{lastSeen: time.Now()}
	t.sessions[sessionID] = s
	return s
}

// evictStalestLocked removes the session with the oldest activity.
// Caller holds the write lock.
func (t *Tracker) evictStalestLocked() {
	var stalest string
	var oldest time.Time
	for id, s := range t.sessions {
		if stalest == "" || s.lastSeen.Before(oldest) {
			stalest = id
			oldest = s.lastSeen
		}
	}
	if stalest != "" {
		delete(t.sessions, stalest)
	}
}

func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCleanup:
			return
		}
	}
}

func (t *Tracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for id, s := range t.sessions {
		if now.Sub(s.lastSeen) > t.maxAge {
			delete(t.sessions, id)
		}
	}
}
