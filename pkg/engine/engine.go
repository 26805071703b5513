// Package engine scores batches of transactions: it builds feature vectors
// per user, fits the population-relative detectors once per batch, and fuses
// every detector's opinion into a verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/iforest"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/lof"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/rules"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/zscore"
	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/metrics"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Unscored is a batch item that produced no verdict.
type Unscored struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Err           error  `json:"-"`
}

// Reason returns a short label for the failure, used in metrics and logs.
func (u Unscored) Reason() string {
	switch {
	case errors.Is(u.Err, features.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(u.Err, features.ErrMalformedVector):
		return "malformed_vector"
	case errors.Is(u.Err, transaction.ErrInvalid):
		return "invalid_transaction"
	default:
		return "other"
	}
}

// Error implements error.
func (u Unscored) Error() string {
	return fmt.Sprintf("transaction %s: %v", u.TransactionID, u.Err)
}

// Unwrap returns the underlying failure.
func (u Unscored) Unwrap() error { return u.Err }

// BatchResult is the outcome of one Process call.
type BatchResult struct {
	BatchID string
	// Verdicts follow input order, skipping unscored items.
	Verdicts []ensemble.Verdict
	Unscored []Unscored
	Duration time.Duration
}

// Anomalies returns the anomalous verdicts.
func (r *BatchResult) Anomalies() []ensemble.Verdict {
	var out []ensemble.Verdict
	for _, v := range r.Verdicts {
		if v.IsAnomaly {
			out = append(out, v)
		}
	}
	return out
}

// Engine wires the feature builder, the detectors and the aggregator.
type Engine struct {
	builder    *features.Builder
	detectors  []detectors.Detector
	aggregator *ensemble.Aggregator
	logger     *zap.Logger
	workers    int
	population []*features.Vector
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWorkers bounds how many users are processed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithPopulation replaces the batch's own vectors as the peer population
// for the density and isolation detectors. By default the population is
// every vector of the batch whose user already had history.
func WithPopulation(vs []*features.Vector) Option {
	return func(e *Engine) {
		e.population = vs
	}
}

// New creates an Engine. Detectors are consulted in the order given.
func New(builder *features.Builder, dets []detectors.Detector, agg *ensemble.Aggregator, opts ...Option) (*Engine, error) {
	if builder == nil {
		return nil, fmt.Errorf("%w: feature builder is required", detectors.ErrInvalidConfiguration)
	}
	if agg == nil {
		return nil, fmt.Errorf("%w: aggregator is required", detectors.ErrInvalidConfiguration)
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("%w: at least one detector is required", detectors.ErrInvalidConfiguration)
	}
	e := &Engine{
		builder:    builder,
		detectors:  dets,
		aggregator: agg,
		logger:     zap.NewNop(),
		workers:    runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", detectors.ErrInvalidConfiguration, e.workers)
	}
	return e, nil
}

type built struct {
	vector *features.Vector
	err    error
}

// Process scores batch against histories. Histories are updated in place
// with every transaction that produced a feature vector.
//
// Per-item failures are reported in BatchResult.Unscored. If ctx is
// cancelled the whole batch is abandoned and ctx.Err() is returned.
func (e *Engine) Process(ctx context.Context, batch []transaction.Transaction, histories *features.Histories) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{BatchID: uuid.NewString()}
	log := e.logger.With(zap.String("batch_id", res.BatchID), zap.Int("size", len(batch)))

	if histories == nil {
		histories = features.NewHistories()
	}

	items, err := e.build(ctx, batch, histories)
	if err != nil {
		return nil, err
	}

	// First-ever transactions carry placeholder history features and would
	// distort the peer geometry.
	var vectors []*features.Vector
	for _, it := range items {
		if it.vector != nil && !it.vector.InsufficientHistory {
			vectors = append(vectors, it.vector)
		}
	}

	popVectors := vectors
	if e.population != nil {
		popVectors = e.population
	}
	pop := detectors.NewPopulation(popVectors)

	models, err := e.fit(pop)
	if err != nil {
		return nil, err
	}

	verdicts := make([]*ensemble.Verdict, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, it := range items {
		if it.vector == nil {
			continue
		}
		i, v := i, it.vector
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdict := e.score(v, models)
			verdicts[i] = &verdict
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, it := range items {
		if it.err != nil {
			u := Unscored{TransactionID: batch[i].ID, UserID: batch[i].UserID, Err: it.err}
			res.Unscored = append(res.Unscored, u)
			metrics.TransactionsUnscored.WithLabelValues(u.Reason()).Inc()
			log.Warn("transaction not scored",
				zap.String("transaction_id", u.TransactionID),
				zap.String("reason", u.Reason()),
				zap.Error(u.Err),
			)
			continue
		}
		res.Verdicts = append(res.Verdicts, *verdicts[i])
		e.observe(verdicts[i])
	}

	res.Duration = time.Since(start)
	metrics.BatchDuration.Observe(res.Duration.Seconds())
	log.Info("batch processed",
		zap.Int("scored", len(res.Verdicts)),
		zap.Int("unscored", len(res.Unscored)),
		zap.Int("population", pop.Len()),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// build groups the batch by user and runs each user's transactions through
// the feature builder in order, one goroutine per user.
func (e *Engine) build(ctx context.Context, batch []transaction.Transaction, histories *features.Histories) ([]built, error) {
	items := make([]built, len(batch))

	var order []string
	byUser := make(map[string][]int)
	for i := range batch {
		uid := batch[i].UserID
		if _, ok := byUser[uid]; !ok {
			order = append(order, uid)
		}
		byUser[uid] = append(byUser[uid], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, uid := range order {
		uid, idx := uid, byUser[uid]
		g.Go(func() error {
			h, release := histories.Acquire(uid)
			defer release()
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				tx := &batch[i]
				if err := tx.Validate(); err != nil {
					items[i].err = err
					continue
				}
				items[i].vector, items[i].err = e.builder.Extract(tx, h)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (e *Engine) fit(pop *detectors.Population) ([]detectors.Model, error) {
	models := make([]detectors.Model, len(e.detectors))
	for i, d := range e.detectors {
		m, err := d.Fit(pop)
		if err != nil {
			return nil, fmt.Errorf("fit %s: %w", d.Name(), err)
		}
		models[i] = m
	}
	return models, nil
}

func (e *Engine) score(v *features.Vector, models []detectors.Model) ensemble.Verdict {
	results := make([]detectors.Result, len(models))
	for i, m := range models {
		results[i] = m.Score(v)
	}
	verdict := e.aggregator.Combine(results...)
	verdict.TransactionID = v.TransactionID
	return verdict
}

func (e *Engine) observe(v *ensemble.Verdict) {
	outcome := "normal"
	if v.IsAnomaly {
		outcome = "anomaly"
		metrics.AnomaliesTotal.WithLabelValues(string(v.Severity), v.AnomalyType).Inc()
	}
	metrics.TransactionsScored.WithLabelValues(outcome).Inc()
	metrics.AnomalyScore.Observe(float64(v.AnomalyScore))
	for _, r := range v.Results {
		if r.Abstained {
			metrics.DetectorAbstentions.WithLabelValues(string(r.Detector), r.Reason).Inc()
		} else if r.Anomaly {
			metrics.DetectorFlags.WithLabelValues(string(r.Detector)).Inc()
		}
	}
}

// Default creates an Engine with every component at its default settings:
// isolation forest, local density, z-score and business rules, weighted
// equally.
func Default(opts ...Option) (*Engine, error) {
	builder, err := features.NewBuilder()
	if err != nil {
		return nil, err
	}
	dets, err := DefaultDetectors()
	if err != nil {
		return nil, err
	}
	agg, err := ensemble.New()
	if err != nil {
		return nil, err
	}
	return New(builder, dets, agg, opts...)
}

// DefaultDetectors returns the four detectors with default settings, in
// priority order.
func DefaultDetectors() ([]detectors.Detector, error) {
	iso, err := iforest.NewDetector()
	if err != nil {
		return nil, err
	}
	dens, err := lof.New()
	if err != nil {
		return nil, err
	}
	stat, err := zscore.New()
	if err != nil {
		return nil, err
	}
	rl, err := rules.New()
	if err != nil {
		return nil, err
	}
	return []detectors.Detector{iso, dens, stat, rl}, nil
}
