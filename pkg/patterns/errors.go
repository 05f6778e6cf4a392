package patterns

import "errors"

// ErrCatalogueLoad means a detection catalogue could not be loaded or
// compiled. The semantic layer reuses this sentinel for its exemplar
// catalogue. Callers must treat it as fatal: serving with a partial
// catalogue is worse than not serving at all.
var ErrCatalogueLoad = errors.New("catalogue load failed")
