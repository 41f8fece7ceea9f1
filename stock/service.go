/*
service.go - Fetch + pipeline orchestration

PURPOSE:
  The one effectful entry point of the engine. Fetches the two boundary
  snapshots concurrently, then the raw records between them, then runs the
  pure pipeline:

    Normalize -> Build -> Validate

FLOW:
  1. Validate window                       (InvalidRangeError)
  2. Cache lookup                          (best effort)
  3. Fetch opening, closing                (errgroup, first error cancels)
  4. Missing opening/closing               (MissingBoundaryError)
  5. Fetch records in [opening.At, closing.At]
  6. Pipeline, cache store, run log        (best effort)

SPAN:
  The ledger runs from snapshot to snapshot, not from window edge to window
  edge. Movements between the opening count and the window start, or between
  the window end and the closing count, are replayed as ordinary points.

  Cache and run-log failures are logged and never fail a reconciliation.

SEE ALSO:
  - source.go: Source and ResultCache interfaces
  - reconcile.go: the report produced here
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result is a finished reconciliation: the replayed ledger plus its report.
type Result struct {
	Item    ItemID   `json:"item"`
	Window  Window   `json:"window"`
	Opening Snapshot `json:"opening"`
	Closing Snapshot `json:"closing"`
	Points  []Point  `json:"points"`
	Report  Report   `json:"report"`
}

// Service wires a Source to the pipeline. Everything but Source is optional.
type Service struct {
	Source     Source
	Normalizer *Normalizer
	Validator  *Validator
	Cache      ResultCache
	Runs       RunLog
	Logger     *logrus.Logger
	Now        func() time.Time
}

func NewService(src Source, n *Normalizer, v *Validator, cache ResultCache, logger *logrus.Logger) *Service {
	return &Service{Source: src, Normalizer: n, Validator: v, Cache: cache, Logger: logger}
}

// Reconcile builds and validates the ledger of one item over one window.
func (s *Service) Reconcile(ctx context.Context, item ItemID, w Window) (*Result, error) {
	if s.Source == nil {
		return nil, ErrSourceRequired
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	log := s.logger().WithFields(logrus.Fields{
		"module":   "stock",
		"funcName": "Reconcile",
		"item":     item,
		"window":   w.String(),
	})

	if s.Cache != nil {
		res, ok, err := s.Cache.Get(ctx, item, w)
		switch {
		case err != nil:
			log.WithError(err).Warn("result cache read failed")
		case ok:
			log.Debug("result cache hit")
			return res, nil
		}
	}

	var opening, closing *Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opening, err = s.Source.SnapshotAtOrBefore(gctx, item, w.Start)
		return err
	})
	g.Go(func() error {
		var err error
		closing, err = s.Source.SnapshotAtOrAfter(gctx, item, w.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch snapshots for item %s: %w", item, err)
	}
	if opening == nil {
		return nil, &MissingBoundaryError{Item: item, Side: BoundaryOpening, At: w.Start}
	}
	if closing == nil {
		return nil, &MissingBoundaryError{Item: item, Side: BoundaryClosing, At: w.End}
	}

	var records []RawRecord
	if closing.ID != opening.ID {
		var err error
		records, err = s.Source.Records(ctx, item, Span(*opening, *closing))
		if err != nil {
			return nil, fmt.Errorf("fetch records for item %s: %w", item, err)
		}
	}

	res, err := s.run(records, item, w, *opening, *closing)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"valid":  res.Report.Valid,
		"events": res.Report.EventCount,
		"issues": len(res.Report.Issues),
	}).Info("reconciled")

	if s.Cache != nil {
		if err := s.Cache.Put(ctx, item, w, res); err != nil {
			log.WithError(err).Warn("result cache write failed")
		}
	}
	if s.Runs != nil {
		run := Run{
			ID:          uuid.NewString(),
			Item:        item,
			Window:      w,
			Valid:       res.Report.Valid,
			Discrepancy: res.Report.Discrepancy,
			Issues:      len(res.Report.Issues),
			RanAt:       s.now(),
		}
		if err := s.Runs.SaveRun(ctx, run); err != nil {
			log.WithError(err).Warn("run log write failed")
		}
	}
	return res, nil
}

// run is the pure part of Reconcile.
func (s *Service) run(records []RawRecord, item ItemID, w Window, opening, closing Snapshot) (*Result, error) {
	all := make([]RawRecord, 0, len(records)+2)
	all = append(all, records...)
	all = append(all, opening)
	if closing.ID != opening.ID {
		all = append(all, closing)
	}

	events, err := s.normalizer().Normalize(all, item, Span(opening, closing))
	if err != nil {
		return nil, err
	}
	points := Build(events, opening)
	report := s.validator().Validate(points, opening.Levels, closing.Levels)

	return &Result{
		Item:    item,
		Window:  w,
		Opening: opening,
		Closing: closing,
		Points:  points,
		Report:  report,
	}, nil
}

// Span is the window covered by the ledger between two boundary snapshots.
func Span(opening, closing Snapshot) Window {
	return Window{Start: opening.At, End: closing.At}
}

// Invalidate drops cached results for item. It is a no-op without a cache.
func (s *Service) Invalidate(ctx context.Context, item ItemID) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx, item)
}

// InvalidateAll drops every cached result. It is a no-op without a cache.
func (s *Service) InvalidateAll(ctx context.Context) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.InvalidateAll(ctx)
}

func (s *Service) normalizer() *Normalizer {
	if s.Normalizer == nil {
		return NewNormalizer(nil)
	}
	return s.Normalizer
}

func (s *Service) validator() *Validator {
	if s.Validator == nil {
		return NewValidator(DefaultEpsilon)
	}
	return s.Validator
}

func (s *Service) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}
