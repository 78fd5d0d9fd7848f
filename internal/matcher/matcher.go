package matcher

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

// Outcome is the decision of one identification pass. None of them is an error.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNoMatch
	OutcomeAmbiguous
	OutcomeEmptyStore
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeAmbiguous:
		return "ambiguous"
	case OutcomeEmptyStore:
		return "empty_store"
	default:
		return "unknown"
	}
}

// Result describes a matcher decision.
//
// Distance is the winning record-level distance for OutcomeMatched and
// OutcomeAmbiguous, and the best distance seen for OutcomeNoMatch (kept for
// threshold tuning). It is zero for OutcomeEmptyStore.
type Result struct {
	Outcome    Outcome
	IdentityID string
	Profile    models.Profile
	Distance   float64
	Candidates []string
	Records    int
	Samples    int
}

// Matcher finds the enrolled identity nearest to a query descriptor.
type Matcher struct {
	store storage.EnrollmentStore
	dim   int
	index *Index
}

type Option func(*Matcher)

// WithIndex narrows each pass to the records owning the index's nearest samples.
func WithIndex(ix *Index) Option {
	return func(m *Matcher) { m.index = ix }
}

func New(store storage.EnrollmentStore, dim int, opts ...Option) *Matcher {
	m := &Matcher{store: store, dim: dim}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dimension is the descriptor length every query must have.
func (m *Matcher) Dimension() int { return m.dim }

// Identify compares query against every enrolled sample and applies threshold.
// A record's distance is the minimum over its samples; the globally nearest record
// is accepted only if its distance is strictly below threshold and no other record
// shares it.
func (m *Matcher) Identify(ctx context.Context, query descriptor.Vector, threshold float64) (Result, error) {
	if err := query.Validate(m.dim); err != nil {
		return Result{}, err
	}

	start := time.Now()
	defer func() {
		observability.MatchDuration.Observe(time.Since(start).Seconds())
	}()

	acc := newScan(query)

	if m.index != nil && m.index.Ready() {
		if err := m.indexPass(ctx, acc, query); err != nil {
			return Result{}, err
		}
	} else {
		err := m.store.Scan(ctx, func(rec *models.EnrollmentRecord) error {
			acc.add(rec)
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	if acc.skipped > 0 {
		slog.Warn("descriptor samples with mismatched dimension skipped",
			"skipped", acc.skipped, "dimension", len(query))
	}

	return acc.result(threshold), nil
}

// indexPass scores the index candidates plus every record written since the
// index was built, so an enrollment the index hasn't seen yet (another replica,
// or a write racing the rebuild) still competes for the match.
func (m *Matcher) indexPass(ctx context.Context, acc *scan, query descriptor.Vector) error {
	c := m.index.Lookup(query)

	fresh := make(map[string]bool)
	unindexed := 0
	err := m.store.ScanSince(ctx, c.Since, func(rec *models.EnrollmentRecord) error {
		fresh[rec.IdentityID] = true
		if _, ok := c.Indexed[rec.IdentityID]; !ok {
			unindexed++
		}
		acc.add(rec)
		return nil
	})
	if err != nil {
		return err
	}

	for _, rec := range c.Records {
		if !fresh[rec.IdentityID] {
			acc.add(rec)
		}
	}
	acc.records = len(c.Indexed) + unindexed
	return nil
}

// scan accumulates the nearest record(s) over a stream of records.
type scan struct {
	query   descriptor.Vector
	best    float64
	winners []*models.EnrollmentRecord
	records int
	samples int
	skipped int
}

func newScan(query descriptor.Vector) *scan {
	return &scan{query: query, best: math.Inf(1)}
}

func (s *scan) add(rec *models.EnrollmentRecord) {
	s.records++

	recDist := math.Inf(1)
	for _, d := range rec.Descriptors {
		if len(d) != len(s.query) {
			s.skipped++
			continue
		}
		s.samples++
		if dist := descriptor.Distance(s.query, d); dist < recDist {
			recDist = dist
		}
	}
	if math.IsInf(recDist, 1) {
		return
	}

	switch {
	case recDist < s.best:
		s.best = recDist
		s.winners = append(s.winners[:0], rec)
	case recDist == s.best:
		s.winners = append(s.winners, rec)
	}
}

func (s *scan) result(threshold float64) Result {
	res := Result{Records: s.records, Samples: s.samples}

	if s.records == 0 {
		res.Outcome = OutcomeEmptyStore
		return res
	}

	res.Distance = s.best
	if len(s.winners) == 0 || !(s.best < threshold) {
		res.Outcome = OutcomeNoMatch
		return res
	}

	if len(s.winners) > 1 {
		res.Outcome = OutcomeAmbiguous
		res.Candidates = make([]string, len(s.winners))
		for i, w := range s.winners {
			res.Candidates[i] = w.IdentityID
		}
		sort.Strings(res.Candidates)
		return res
	}

	res.Outcome = OutcomeMatched
	res.IdentityID = s.winners[0].IdentityID
	res.Profile = s.winners[0].Profile
	return res
}
