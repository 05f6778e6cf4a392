package shield

import (
	"github.com/divol89/prompt-shield-solana/pkg/patterns"
	"github.com/divol89/prompt-shield-solana/pkg/semantic"
)

// The engine's error taxonomy. Per-layer failures are absorbed into the
// verdict (degraded evidence, cache miss, neutral result); only
// catalogue failures at startup are fatal.
var (
	// ErrModelUnavailable: embedding backend failed or timed out. The
	// scan proceeds on pattern and behavioral evidence.
	ErrModelUnavailable = semantic.ErrModelUnavailable

	// ErrCatalogueLoad: rule or exemplar catalogue failed to load.
	// Fatal at startup, the engine must not scan with a partial
	// catalogue.
	ErrCatalogueLoad = patterns.ErrCatalogueLoad
)
