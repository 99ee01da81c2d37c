package gaps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/store"
)

// Lister loads stored records.
type Lister interface {
	List(ctx context.Context, collection string, limit int) ([]store.Object, error)
}

// Clock supplies the current calendar day.
type Clock interface {
	Today() time.Time
}

// Detector finds missing editions in a collection.
type Detector struct {
	store      Lister
	clock      Clock
	collection string
	limit      int
	logger     *zap.Logger
}

// NewDetector constructs a Detector. limit bounds the number of loaded records.
func NewDetector(s Lister, clock Clock, collection string, limit int, logger *zap.Logger) (*Detector, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	if limit <= 0 {
		limit = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: s, clock: clock, collection: collection, limit: limit, logger: logger}, nil
}

// FindMissingDates returns the expected days without an edition, oldest first.
func (d *Detector) FindMissingDates(ctx context.Context, cal Calendar) ([]time.Time, error) {
	objs, err := d.store.List(ctx, d.collection, d.limit)
	if err != nil {
		return nil, fmt.Errorf("load business keys: %w", err)
	}
	if len(objs) >= d.limit {
		d.logger.Warn("Business key load hit the limit, older gaps may be missed", zap.Int("limit", d.limit))
	}

	dates := make([]time.Time, 0, len(objs))
	for _, obj := range objs {
		key := obj.String(edition.PropBusinessKey)
		t, err := edition.ParseBusinessKey(key)
		if err != nil {
			d.logger.Warn("Skipping unparsable business key",
				zap.String("store_id", obj.ID), zap.String("edition_id", key), zap.Error(err))
			continue
		}
		dates = append(dates, t)
	}

	missing := MissingDates(dates, d.clock.Today(), cal)
	d.logger.Info("Gap scan finished",
		zap.Int("editions", len(dates)),
		zap.Int("missing", len(missing)),
	)
	return missing, nil
}
