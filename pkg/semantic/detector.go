package semantic

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// maxCandidates bounds how many nearest exemplars a query pulls back
// before per-exemplar threshold filtering.
const maxCandidates = 8

// Detector scores input against the exemplar catalogue by embedding
// similarity. It fills the gap regex cannot: paraphrased attacks that
// share no surface tokens with any known phrasing.
//
// The vector store is populated lazily on first Detect so process start
// never blocks on model download. Concurrent first calls share one load
// attempt, which runs detached from any scan context: a caller whose
// deadline expires mid-load degrades for that scan only, while the load
// keeps going for everyone else. A genuine model failure is remembered
// and every later call returns ErrModelUnavailable immediately.
type Detector struct {
	embedder   EmbeddingProvider
	db         *chromem.DB
	collection *chromem.Collection
	byID       map[string]*AttackExemplar

	loadStart sync.Once
	loadDone  chan struct{}
	loadErr   error

	mu    sync.RWMutex
	ready bool
}

// NewDetector builds a detector over an already validated exemplar
// catalogue. The catalogue must be non-empty; embeddings are not computed
// yet.
func NewDetector(embedder EmbeddingProvider, exemplars []AttackExemplar) (*Detector, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if len(exemplars) == 0 {
		return nil, fmt.Errorf("%w: no exemplars", ErrCatalogueLoad)
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.CreateCollection("attack_exemplars", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	byID := make(map[string]*AttackExemplar, len(exemplars))
	for i := range exemplars {
		e := &exemplars[i]
		byID[e.ID] = e
	}

	return &Detector{
		embedder:   embedder,
		db:         db,
		collection: collection,
		byID:       byID,
		loadDone:   make(chan struct{}),
	}, nil
}

// Ready reports whether the exemplar embeddings are loaded.
func (d *Detector) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// ExemplarCount reports the catalogue size.
func (d *Detector) ExemplarCount() int {
	return len(d.byID)
}

func (d *Detector) ensureLoaded(ctx context.Context) error {
	d.loadStart.Do(func() {
		go d.loadExemplars()
	})
	select {
	case <-d.loadDone:
		return d.loadErr
	case <-ctx.Done():
		return fmt.Errorf("%w: exemplar load still in progress: %v", ErrModelUnavailable, ctx.Err())
	}
}

// loadExemplars embeds the catalogue under a background context, never a
// scan's. Only the load's own failure is cached in loadErr.
func (d *Detector) loadExemplars() {
	defer close(d.loadDone)
	docs := make([]chromem.Document, 0, len(d.byID))
	for _, e := range d.byID {
		docs = append(docs, chromem.Document{
			ID:      e.ID,
			Content: e.Text,
			Metadata: map[string]string{
				"label":     e.Label,
				"severity":  string(e.Severity),
				"threshold": strconv.FormatFloat(e.Threshold, 'f', 2, 64),
			},
		})
	}
	// Sequential embedding: exemplar load happens once, throughput
	// does not matter, memory spikes do.
	if err := d.collection.AddDocuments(context.Background(), docs, 1); err != nil {
		d.loadErr = fmt.Errorf("%w: embedding exemplars: %v", ErrModelUnavailable, err)
		return
	}
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
}

// Detect returns semantic evidence for text in the given scan context,
// strongest first. A result appears only when its similarity reaches the
// matched exemplar's own threshold. Model failures return
// ErrModelUnavailable with no matches; callers degrade rather than abort.
func (d *Detector) Detect(ctx context.Context, text, scanContext string) ([]patterns.Match, error) {
	if text == "" {
		return nil, nil
	}
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	queryVec, err := d.embedder.Embed(ctx, patterns.Canonical(text))
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrModelUnavailable, err)
	}

	n := maxCandidates
	if c := d.collection.Count(); c < n {
		n = c
	}
	results, err := d.collection.QueryEmbedding(ctx, queryVec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrModelUnavailable, err)
	}

	var out []patterns.Match
	for _, r := range results {
		e, ok := d.byID[r.ID]
		if !ok || !e.AppliesTo(scanContext) {
			continue
		}
		// Thresholds compare in float64; chromem's float32 score loses
		// precision right where per-exemplar cutoffs sit.
		sim := CosineSimilarity(queryVec, r.Embedding)
		if sim < e.Threshold {
			continue
		}
		out = append(out, patterns.Match{
			RuleID:     e.ID,
			Label:      e.Label,
			Severity:   e.Severity,
			Similarity: sim,
			Span:       patterns.Span{Text: e.Text},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out, nil
}
