// Package audit emits one structured record per scan to an external
// sink. The engine only produces records; storing and querying them is
// the consumer's problem.
package audit

import (
	"context"
	"time"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// Decision values recorded per scan.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Record is the per-scan audit entry. Raw input text is deliberately
// absent: matched spans and reasons carry enough for triage without
// turning the audit trail into a prompt archive.
type Record struct {
	Timestamp        time.Time        `json:"timestamp"`
	SessionID        string           `json:"session_id,omitempty"`
	Endpoint         string           `json:"endpoint,omitempty"`
	Method           string           `json:"method,omitempty"`
	PatternMatches   []patterns.Match `json:"pattern_matches,omitempty"`
	SemanticMatches  []patterns.Match `json:"semantic_matches,omitempty"`
	BehavioralScore  float64          `json:"behavioral_score"`
	FinalDecision    string           `json:"final_decision"`
	Confidence       float64          `json:"confidence"`
	Reasons          []string         `json:"reasons"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
}

// Sink consumes audit records.
type Sink interface {
	Emit(ctx context.Context, rec *Record) error
	Close(ctx context.Context) error
}
