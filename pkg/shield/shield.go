// Package shield is the scan orchestrator: cache lookup, concurrent
// evidence collection, fusion, and emission of audit and metrics. It is
// the only entry point collaborators call.
package shield

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/divol89/prompt-shield-solana/pkg/audit"
	"github.com/divol89/prompt-shield-solana/pkg/cache"
	"github.com/divol89/prompt-shield-solana/pkg/fusion"
	"github.com/divol89/prompt-shield-solana/pkg/patterns"
	"github.com/divol89/prompt-shield-solana/pkg/session"
	"github.com/divol89/prompt-shield-solana/pkg/telemetry"
)

// ContextDefault is assumed when a scan arrives without a context tag.
const ContextDefault = patterns.ContextAll

// DefaultSemanticBudget bounds how long a scan waits for the embedding
// layer before proceeding with incomplete evidence.
const DefaultSemanticBudget = 200 * time.Millisecond

// DefaultCacheTTL is the verdict memoization lifetime.
const DefaultCacheTTL = 5 * time.Minute

// SemanticDetector is the embedding layer as the orchestrator sees it.
type SemanticDetector interface {
	Detect(ctx context.Context, text, scanContext string) ([]patterns.Match, error)
}

// Request is one scan with its caller metadata. Endpoint and Method are
// opaque strings recorded in the audit trail.
type Request struct {
	Text      string
	Context   string
	SessionID string
	Endpoint  string
	Method    string
}

// Options wires the scanner's collaborators. Matcher is required;
// everything else degrades gracefully when absent.
type Options struct {
	Matcher        *patterns.Matcher
	Semantic       SemanticDetector
	Tracker        *session.Tracker
	Cache          cache.Store
	Fusion         fusion.Config
	SemanticBudget time.Duration
	CacheTTL       time.Duration
	Audit          audit.Sink
	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
}

// Scanner renders verdicts. Safe for concurrent use; every scan is
// independent apart from the shared cache and session state.
type Scanner struct {
	matcher        *patterns.Matcher
	semantic       SemanticDetector
	tracker        *session.Tracker
	cache          cache.Store
	fuseCfg        fusion.Config
	semanticBudget time.Duration
	cacheTTL       time.Duration
	audit          audit.Sink
	metrics        *telemetry.Metrics
	log            *zap.Logger
}

// NewScanner validates the wiring and returns a ready scanner.
func NewScanner(opts Options) (*Scanner, error) {
	if opts.Matcher == nil {
		return nil, errors.New("pattern matcher is required")
	}
	if opts.SemanticBudget <= 0 {
		opts.SemanticBudget = DefaultSemanticBudget
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Fusion == (fusion.Config{}) {
		opts.Fusion = fusion.DefaultConfig()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scanner{
		matcher:        opts.Matcher,
		semantic:       opts.Semantic,
		tracker:        opts.Tracker,
		cache:          opts.Cache,
		fuseCfg:        opts.Fusion,
		semanticBudget: opts.SemanticBudget,
		cacheTTL:       opts.CacheTTL,
		audit:          opts.Audit,
		metrics:        opts.Metrics,
		log:            opts.Logger,
	}, nil
}

// Scan is the plain entry point for callers without request metadata.
func (s *Scanner) Scan(ctx context.Context, text, scanContext, sessionID string) *Verdict {
	return s.ScanRequest(ctx, Request{Text: text, Context: scanContext, SessionID: sessionID})
}

// ScanRequest renders a verdict for one input. It never returns an
// error: every failure inside the pipeline is absorbed into the verdict
// as degraded evidence, because the caller always needs an answer.
func (s *Scanner) ScanRequest(ctx context.Context, req Request) *Verdict {
	start := time.Now()
	if req.Context == "" {
		req.Context = ContextDefault
	}

	if strings.TrimSpace(req.Text) == "" {
		v := s.neutralVerdict()
		v.ProcessingTimeMs = msSince(start)
		s.finish(ctx, req, v)
		return v
	}

	key := cache.Fingerprint(req.Text, req.Context)
	if v, ok := s.cacheLookup(ctx, key); ok {
		v.CacheHit = true
		v.ProcessingTimeMs = msSince(start)
		s.finish(ctx, req, v)
		return v
	}

	// Evidence collection: the semantic layer runs off to the side while
	// patterns match inline; the scan joins on the slower of the two but
	// never waits past the budget.
	type semResult struct {
		matches []patterns.Match
		err     error
	}
	semCh := make(chan semResult, 1)
	semanticRan := s.semantic != nil
	if semanticRan {
		semCtx, cancel := context.WithTimeout(ctx, s.semanticBudget)
		go func() {
			defer cancel()
			matches, err := s.semantic.Detect(semCtx, req.Text, req.Context)
			semCh <- semResult{matches, err}
		}()
	}

	patternMatches := s.matcher.Match(req.Text, req.Context)

	var semanticMatches []patterns.Match
	var degradedReasons []string
	if semanticRan {
		timer := time.NewTimer(s.semanticBudget)
		select {
		case res := <-semCh:
			timer.Stop()
			if res.err != nil {
				degradedReasons = append(degradedReasons, "embedding layer unavailable")
				cause := "semantic_error"
				if errors.Is(res.err, ErrModelUnavailable) {
					cause = "model_unavailable"
				}
				s.metrics.ObserveDegraded(cause)
				s.log.Warn("semantic layer degraded", zap.Error(res.err))
			} else {
				semanticMatches = res.matches
			}
		case <-timer.C:
			degradedReasons = append(degradedReasons, "embedding layer exceeded latency budget")
			s.metrics.ObserveDegraded("timeout")
		}
	}

	// Window update happens exactly once per scan, after evidence
	// collection, so the alert covers prior history plus this input.
	var behavioral session.Observation
	if s.tracker != nil {
		behavioral = s.tracker.Observe(req.SessionID, req.Text)
	}

	decision := fusion.Decide(s.fuseCfg, patternMatches, semanticMatches, behavioral.Score)

	v := &Verdict{
		Safe:                decision.Safe,
		Confidence:          decision.Confidence,
		Reasons:             decision.Reasons,
		PatternMatches:      ensureMatches(patternMatches),
		SemanticMatches:     ensureMatches(semanticMatches),
		BehavioralScore:     behavioral.Score,
		ConsensusScore:      decision.ConsensusScore,
		RequiresHumanReview: decision.RequiresHumanReview,
		Degraded:            len(degradedReasons) > 0,
		DegradedReasons:     degradedReasons,
		Features:            ExtractFeatures(req.Text),
		Usage:               measureUsage(req.Text, semanticRan),
		ProcessingTimeMs:    msSince(start),
	}

	// Review-pending verdicts are provisional and must not be served
	// from cache.
	if s.cache != nil && !v.RequiresHumanReview {
		if data, err := json.Marshal(v); err == nil {
			s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}

	s.finish(ctx, req, v)
	return v
}

// neutralVerdict covers empty input: no text means no injection risk and
// no evidence worth collecting.
func (s *Scanner) neutralVerdict() *Verdict {
	return &Verdict{
		Safe:            true,
		Confidence:      1.0,
		Reasons:         []string{fusion.NoEvidenceReason},
		PatternMatches:  []patterns.Match{},
		SemanticMatches: []patterns.Match{},
	}
}

func (s *Scanner) cacheLookup(ctx context.Context, key string) (*Verdict, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok := s.cache.Get(ctx, key)
	s.metrics.ObserveCacheLookup(ok)
	if !ok {
		return nil, false
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		// Corrupt entry: a miss, never a scan failure.
		s.log.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &v, true
}

// finish emits metrics and the audit record for a completed scan.
func (s *Scanner) finish(ctx context.Context, req Request, v *Verdict) {
	decision := audit.DecisionAllow
	if !v.Safe {
		decision = audit.DecisionBlock
	}

	s.metrics.ObserveScan(req.Context, decision, v.CacheHit, time.Duration(v.ProcessingTimeMs*float64(time.Millisecond)))
	if !v.CacheHit {
		for _, m := range v.PatternMatches {
			s.metrics.ObserveRuleHit(m.RuleID, string(m.Severity), "pattern")
		}
		for _, m := range v.SemanticMatches {
			s.metrics.ObserveRuleHit(m.RuleID, string(m.Severity), "semantic")
		}
	}
	if !v.Safe {
		s.metrics.ObserveBlock(req.Context, blockingLayer(v))
	}

	rec := &audit.Record{
		Timestamp:        time.Now().UTC(),
		SessionID:        req.SessionID,
		Endpoint:         req.Endpoint,
		Method:           req.Method,
		PatternMatches:   v.PatternMatches,
		SemanticMatches:  v.SemanticMatches,
		BehavioralScore:  v.BehavioralScore,
		FinalDecision:    decision,
		Confidence:       v.Confidence,
		Reasons:          v.Reasons,
		ProcessingTimeMs: v.ProcessingTimeMs,
	}
	if err := s.audit.Emit(ctx, rec); err != nil {
		s.log.Warn("audit emit failed", zap.Error(err))
	}
}

// blockingLayer names the layer whose evidence drove an unsafe verdict,
// mirroring the fusion ladder's precedence.
func blockingLayer(v *Verdict) string {
	if patterns.HighestSeverity(v.PatternMatches) == patterns.SeverityCritical {
		return "pattern"
	}
	if patterns.HighestSeverity(v.SemanticMatches) == patterns.SeverityCritical {
		return "semantic"
	}
	if patterns.HighestSeverity(v.PatternMatches) == patterns.SeverityHigh {
		return "pattern"
	}
	if patterns.HighestSeverity(v.SemanticMatches) == patterns.SeverityHigh {
		return "semantic"
	}
	return "behavioral"
}

func ensureMatches(m []patterns.Match) []patterns.Match {
	if m == nil {
		return []patterns.Match{}
	}
	return m
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
