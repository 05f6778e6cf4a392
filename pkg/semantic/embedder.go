package semantic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// ErrModelUnavailable means the embedding model could not be initialized
// or has failed. Callers degrade to pattern-only scanning, they do not
// abort the scan.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// EmbeddingProvider turns text into a dense vector. Implementations must
// be safe for concurrent use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// LocalEmbedderConfig configures the ONNX feature-extraction embedder.
type LocalEmbedderConfig struct {
	ModelPath       string // local model directory, used as-is when present
	ModelName       string // HuggingFace model to download when ModelPath missing
	ModelsDir       string // download destination, default ./models
	OnnxLibraryPath string // enables the native ORT backend when set
}

// LocalEmbedder runs sentence embeddings fully offline via Hugot/ONNX.
//
// Initialization is lazy: model load and the possible download happen on
// the first Embed call. Concurrent first calls share a single attempt,
// and a failed attempt is remembered so every later call degrades
// immediately instead of re-downloading on the hot path.
type LocalEmbedder struct {
	cfg LocalEmbedderConfig

	initOnce sync.Once
	initErr  error

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	dim      int
}

// NewLocalEmbedder builds the embedder without touching the model yet.
func NewLocalEmbedder(cfg LocalEmbedderConfig) *LocalEmbedder {
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "./models"
	}
	return &LocalEmbedder{cfg: cfg}
}

// Embed returns the embedding for text. The first call initializes the
// model; any initialization failure surfaces as ErrModelUnavailable on
// this and every subsequent call.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.initOnce.Do(e.initialize)
	if e.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, e.initErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	pipeline := e.pipeline
	e.mu.RUnlock()

	out, err := pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: inference: %v", ErrModelUnavailable, err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrModelUnavailable)
	}
	return out.Embeddings[0], nil
}

// Dimension reports the embedding width, or 0 before first use.
func (e *LocalEmbedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// Ready reports whether the model initialized successfully. False both
// before first use and after a failed initialization.
func (e *LocalEmbedder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pipeline != nil
}

func (e *LocalEmbedder) initialize() {
	session, err := e.createSession()
	if err != nil {
		e.initErr = fmt.Errorf("create session: %w", err)
		return
	}

	modelPath, err := e.resolveModelPath()
	if err != nil {
		_ = session.Destroy()
		e.initErr = fmt.Errorf("resolve model: %w", err)
		return
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "exemplar-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		e.initErr = fmt.Errorf("create pipeline: %w", err)
		return
	}

	probe, err := pipeline.RunPipeline([]string{"warmup"})
	if err != nil || len(probe.Embeddings) == 0 {
		_ = session.Destroy()
		e.initErr = fmt.Errorf("warmup inference failed: %v", err)
		return
	}

	e.mu.Lock()
	e.session = session
	e.pipeline = pipeline
	e.dim = len(probe.Embeddings[0])
	e.mu.Unlock()
	log.Printf("local embedder ready (model: %s, dim: %d)", modelPath, e.dim)
}

func (e *LocalEmbedder) createSession() (*hugot.Session, error) {
	if e.cfg.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(
			options.WithOnnxLibraryPath(e.cfg.OnnxLibraryPath),
		)
		if err == nil {
			return session, nil
		}
		log.Printf("ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

func (e *LocalEmbedder) resolveModelPath() (string, error) {
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err == nil {
			return e.cfg.ModelPath, nil
		}
	}
	if e.cfg.ModelName == "" {
		return "", fmt.Errorf("no model path or name configured")
	}
	if err := os.MkdirAll(e.cfg.ModelsDir, 0o755); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}
	log.Printf("downloading embedding model %s...", e.cfg.ModelName)
	return hugot.DownloadModel(e.cfg.ModelName, e.cfg.ModelsDir, hugot.NewDownloadOptions())
}

// Close releases the ONNX session. Safe to call on a never-initialized
// or failed embedder.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.pipeline = nil
	return err
}
