// Package pipeline runs monthly snapshot generation end to end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/dataset"
	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/processor"
	"voc-insights-go/internal/sanitizer"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/summarizer"
	"voc-insights-go/internal/types"
)

// ErrSave marks a run whose snapshot was built but could not be persisted.
// The Result still carries the snapshot; pass it to Runner.Save to retry.
var ErrSave = errors.New("snapshot not saved")

// Request names one generation: the encrypted export and its month/country.
type Request struct {
	Path     string
	Password string
	Month    string
	Country  types.Country
	RunID    string
	// Temporary marks Path as an upload the manager deletes once the job ends.
	Temporary bool
}

// Result carries the built snapshot even when the save failed, so the caller
// can retry persistence without re-running summarization.
type Result struct {
	Key      string
	Snapshot types.Snapshot
	Duration time.Duration
}

type Runner struct {
	Decryptor  dataset.Decryptor
	Store      store.Store
	Summarizer summarizer.Summarizer
	Processor  *processor.Processor
	Sanitizer  *sanitizer.Sanitizer
	Options    aggregator.Options
}

// NewRunner wires a runner with the excelize decryptor and embedded locale tables.
func NewRunner(st store.Store, s summarizer.Summarizer, opts aggregator.Options) *Runner {
	return &Runner{
		Decryptor:  dataset.ExcelDecryptor{},
		Store:      st,
		Summarizer: s,
		Processor:  processor.Default(),
		Sanitizer:  sanitizer.Default(),
		Options:    opts,
	}
}

// Run validates the request, loads the export, builds the snapshot and saves it.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	return r.run(ctx, req, nil)
}

func (r *Runner) run(ctx context.Context, req Request, onProgress func(aggregator.Progress)) (Result, error) {
	start := time.Now()
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	log := logger.Component("pipeline").WithFields(logrus.Fields{
		"month":   req.Month,
		"country": req.Country,
		"run_id":  req.RunID,
	})

	// reject bad input before touching the file
	key, err := store.KeyFor(req.Month, req.Country)
	if err != nil {
		return Result{}, err
	}

	records, err := dataset.Load(r.Decryptor, req.Path, req.Password)
	if err != nil {
		return Result{}, fmt.Errorf("load %s: %w", req.Path, err)
	}
	log.WithField("rows", len(records)).Info("dataset loaded")

	opts := r.Options
	opts.RunID = req.RunID
	if onProgress != nil {
		opts.OnProgress = onProgress
	}
	agg := aggregator.New(r.Summarizer, r.Processor, r.Sanitizer, opts)
	snap, err := agg.Build(ctx, req.Month, req.Country, records)
	if err != nil {
		return Result{}, err
	}

	res := Result{Key: key, Snapshot: snap}
	err = r.Save(ctx, res)
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{"key": key, "duration_ms": res.Duration.Milliseconds()}).Info("snapshot generated")
	return res, nil
}

// Save persists a built snapshot. Cancelling ctx does not abort the write.
func (r *Runner) Save(ctx context.Context, res Result) error {
	if _, err := r.Store.Save(context.WithoutCancel(ctx), res.Snapshot); err != nil {
		logger.Component("pipeline").WithFields(logrus.Fields{
			"key":    res.Key,
			"run_id": res.Snapshot.RunID,
			"error":  err.Error(),
		}).Error("save failed")
		return fmt.Errorf("%w: %s: %w", ErrSave, res.Key, err)
	}
	return nil
}
