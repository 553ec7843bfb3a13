// Package news implements the ingestion pipeline: pluggable fetchers
// fanned out over a bounded worker pool, merged through the
// deduplicating knowledge-base insert.
package news

import (
	"context"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// Fetcher is one pluggable news source. Fetch returns fully formed
// entries; the pipeline owns persistence and deduplication, so a
// fetcher may freely return overlapping windows across runs.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]models.KBEntry, error)
}
