// Package upsert implements the identity and upsert engine: one record per
// business key, stored under an id derived from that key.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/metrics"
	"github.com/Isagog/copertinefull/internal/store"
)

// Config tunes the engine.
type Config struct {
	Collection string
	// LookupLimit bounds the reconcile query. Duplicates beyond it survive one run.
	LookupLimit int
	// VerifyAttempts is the number of post-write reads; zero disables verification.
	VerifyAttempts int
	// VerifyDelay is the pause between verification reads.
	VerifyDelay time.Duration
}

// Result describes a committed upsert.
type Result struct {
	StoreID        string
	Deleted        int
	Replaced       bool
	VerifyAttempts int
}

// Engine performs lookup, reconcile, write and verify for one business key.
type Engine struct {
	store  store.Client
	ids    edition.IDDeriver
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New constructs an Engine.
func New(client store.Client, ids edition.IDDeriver, cfg Config, logger *zap.Logger) (*Engine, error) {
	if client == nil {
		return nil, errors.New("store client is required")
	}
	if ids == nil {
		return nil, errors.New("id deriver is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	if cfg.LookupLimit <= 0 {
		cfg.LookupLimit = 100
	}
	if cfg.VerifyAttempts < 0 {
		cfg.VerifyAttempts = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  client,
		ids:    ids,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// ID returns the deterministic store id for key.
func (e *Engine) ID(key string) string {
	return e.ids.Derive(key)
}

// Exists reports whether any record is stored under key.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	objs, err := e.store.QueryByField(ctx, e.cfg.Collection, edition.PropBusinessKey, key, 1)
	if err != nil {
		return false, edition.Wrap(edition.KindLookup, key, err)
	}
	return len(objs) > 0, nil
}

// Upsert writes ed as the single record for key.
func (e *Engine) Upsert(ctx context.Context, key string, ed edition.Edition) (Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveUpsert(time.Since(start)) }()

	if ed.BusinessKey != "" && ed.BusinessKey != key {
		return Result{}, edition.Errorf(edition.KindValidation, key, "record carries business key %q", ed.BusinessKey)
	}
	logger := e.logger.With(zap.String("edition_id", key))

	existing, err := e.store.QueryByField(ctx, e.cfg.Collection, edition.PropBusinessKey, key, e.cfg.LookupLimit)
	if err != nil {
		return Result{}, edition.Wrap(edition.KindLookup, key, err)
	}

	deleted, err := e.reconcile(ctx, key, existing, logger)
	if err != nil {
		return Result{}, err
	}

	id := e.ids.Derive(key)
	ed.BusinessKey = key
	ed.StoreID = id
	props := ed.Properties()

	res := Result{StoreID: id, Deleted: deleted}
	if _, err := e.store.Insert(ctx, e.cfg.Collection, id, props); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return Result{}, edition.Wrap(edition.KindWrite, key, err)
		}
		logger.Info("Store id already present, replacing", zap.String("store_id", id))
		if rerr := e.store.Replace(ctx, e.cfg.Collection, id, props); rerr != nil {
			return Result{}, edition.Wrap(edition.KindWriteConflict, key, fmt.Errorf("replace after conflict: %w", rerr))
		}
		res.Replaced = true
	}

	attempts, err := e.verify(ctx, key, id, logger)
	res.VerifyAttempts = attempts
	if err != nil {
		return res, err
	}

	logger.Info("Edition committed",
		zap.String("store_id", id),
		zap.Int("reconciled", deleted),
		zap.Bool("replaced", res.Replaced),
	)
	return res, nil
}

func (e *Engine) reconcile(ctx context.Context, key string, existing []store.Object, logger *zap.Logger) (int, error) {
	if len(existing) == 0 {
		return 0, nil
	}
	if len(existing) > 1 {
		logger.Warn("Duplicate records under business key", zap.Int("count", len(existing)))
	}
	deleted := 0
	for _, obj := range existing {
		err := e.store.DeleteByID(ctx, e.cfg.Collection, obj.ID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, store.ErrNotFound):
			logger.Debug("Record vanished before delete", zap.String("store_id", obj.ID))
		default:
			metrics.ObserveReconciled(deleted)
			return deleted, edition.Wrap(edition.KindReconcileDelete, key, fmt.Errorf("delete %s: %w", obj.ID, err))
		}
	}
	metrics.ObserveReconciled(deleted)
	return deleted, nil
}

func (e *Engine) verify(ctx context.Context, key, id string, logger *zap.Logger) (int, error) {
	if e.cfg.VerifyAttempts == 0 {
		return 0, nil
	}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.VerifyAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.cfg.VerifyDelay); err != nil {
				return attempt - 1, edition.Wrap(edition.KindVerification, key, err)
			}
		}
		objs, err := e.store.QueryByField(ctx, e.cfg.Collection, edition.PropBusinessKey, key, e.cfg.LookupLimit)
		if err != nil {
			lastErr = err
			continue
		}
		for _, obj := range objs {
			if obj.ID != id {
				continue
			}
			if len(objs) > 1 {
				logger.Warn("Extra records visible after write", zap.Int("count", len(objs)))
			}
			return attempt, nil
		}
		lastErr = fmt.Errorf("store id %s not visible (%d records under key)", id, len(objs))
	}
	return e.cfg.VerifyAttempts, edition.Wrap(edition.KindVerification, key, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("verification wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
