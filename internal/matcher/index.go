package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

// HNSWMaxNeighbors is the M parameter of the graph.
const HNSWMaxNeighbors = 16

// WatermarkSkew widens the post-build rescan window so a write whose
// transaction started before the rebuild read but committed after it is
// still picked up by the exact rescan.
const WatermarkSkew = 30 * time.Second

// Index is an approximate pre-filter over every enrolled sample. It keeps its
// own copy of the records so a pass reads one consistent snapshot; records
// written after the build are found through the store's updated_at watermark.
type Index struct {
	dim int
	k   int

	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	owner   map[string]string // node key -> identity id
	records map[string]*models.EnrollmentRecord
	since   time.Time // zero when every record must be rescanned
	built   bool

	rebuildMu sync.Mutex
}

// Candidates is what one index lookup hands to the exact scan.
type Candidates struct {
	Records []*models.EnrollmentRecord
	// Indexed is the build snapshot, keyed by identity id. Read-only.
	Indexed map[string]*models.EnrollmentRecord
	// Since is the lower updated_at bound of records the snapshot may be missing.
	Since time.Time
}

// NewIndex returns an empty index over dim-length samples that returns the
// owners of the k nearest samples.
func NewIndex(dim, k int) *Index {
	if k <= 0 {
		k = 32
	}
	return &Index{dim: dim, k: k}
}

// Rebuild replaces the index with the current store contents. Rebuilds are
// serialized, so the last one to finish always reflects every write that
// committed before it started. Samples of another dimension are skipped.
func (ix *Index) Rebuild(ctx context.Context, store storage.EnrollmentStore) error {
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	g.EfSearch = max(g.EfSearch, 2*ix.k)

	owner := make(map[string]string)
	records := make(map[string]*models.EnrollmentRecord)
	var latest time.Time
	skipped := 0

	err := store.Scan(ctx, func(rec *models.EnrollmentRecord) error {
		records[rec.IdentityID] = rec
		if rec.UpdatedAt.After(latest) {
			latest = rec.UpdatedAt
		}
		for i, d := range rec.Descriptors {
			if len(d) != ix.dim {
				skipped++
				continue
			}
			key := fmt.Sprintf("%s#%d", rec.IdentityID, i)
			g.Add(hnsw.MakeNode(key, []float32(d)))
			owner[key] = rec.IdentityID
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if skipped > 0 {
		slog.Warn("descriptor samples with mismatched dimension left out of index",
			"skipped", skipped, "dimension", ix.dim)
	}

	var since time.Time
	if !latest.IsZero() {
		since = latest.Add(-WatermarkSkew)
	}

	ix.mu.Lock()
	ix.graph = g
	ix.owner = owner
	ix.records = records
	ix.since = since
	ix.built = true
	ix.mu.Unlock()

	observability.IndexSamples.Set(float64(len(owner)))
	slog.Debug("matching index rebuilt", "records", len(records), "samples", len(owner), "skipped", skipped)
	return nil
}

// Ready reports whether Rebuild has completed at least once.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.built
}

// Lookup returns the records owning the query's nearest samples.
func (ix *Index) Lookup(query descriptor.Vector) Candidates {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := Candidates{Indexed: ix.records, Since: ix.since}
	if len(ix.owner) == 0 || len(query) != ix.dim {
		return out
	}

	seen := make(map[string]bool)
	for _, n := range ix.graph.Search([]float32(query), ix.k) {
		id, ok := ix.owner[n.Key]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out.Records = append(out.Records, ix.records[id])
	}
	return out
}
