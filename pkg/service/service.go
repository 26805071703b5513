// Package service runs a batch end to end: hydrate user histories, score,
// persist verdicts, raise alerts and save the updated histories. The CLI and
// the HTTP server share it.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/alert"
	"github.com/ShinTechz/fraud-detection-system/pkg/engine"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/metrics"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Service wraps an engine with its collaborators. Every collaborator is
// optional.
type Service struct {
	engine    *engine.Engine
	histories *features.Histories
	history   store.HistoryStore
	verdicts  store.VerdictStore
	notifier  alert.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistories sets the in-memory history registry.
func WithHistories(h *features.Histories) Option {
	return func(s *Service) {
		s.histories = h
	}
}

// WithHistoryStore loads and saves histories around each batch.
func WithHistoryStore(hs store.HistoryStore) Option {
	return func(s *Service) {
		s.history = hs
	}
}

// WithVerdictStore persists every verdict.
func WithVerdictStore(vs store.VerdictStore) Option {
	return func(s *Service) {
		s.verdicts = vs
	}
}

// WithNotifier receives an alert for every anomalous verdict.
func WithNotifier(n alert.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service around eng.
func New(eng *engine.Engine, opts ...Option) *Service {
	s := &Service{
		engine: eng,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.histories == nil {
		s.histories = features.NewHistories()
	}
	return s
}

// Histories returns the registry the service scores against.
func (s *Service) Histories() *features.Histories {
	return s.histories
}

// Verdicts returns the configured verdict store, or nil.
func (s *Service) Verdicts() store.VerdictStore {
	return s.verdicts
}

// Score runs batch through the whole pipeline. Storage and alert failures
// after scoring are returned together with the result, which is still
// complete.
func (s *Service) Score(ctx context.Context, batch []transaction.Transaction) (*engine.BatchResult, error) {
	users := userIDs(batch)

	if err := s.hydrate(ctx, users); err != nil {
		return nil, err
	}

	res, err := s.engine.Process(ctx, batch, s.histories)
	if err != nil {
		return nil, fmt.Errorf("process batch: %w", err)
	}
	log := s.logger.With(zap.String("batch_id", res.BatchID))

	if err := s.persist(ctx, batch, res); err != nil {
		return res, err
	}
	s.raise(ctx, batch, res, log)
	if err := s.saveHistories(ctx, users); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) hydrate(ctx context.Context, users []string) error {
	if s.history == nil {
		return nil
	}
	var missing []string
	for _, id := range users {
		if !s.histories.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	snaps, err := s.history.Load(ctx, missing)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("history", "load", "error").Inc()
		return fmt.Errorf("load histories: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("history", "load", "ok").Inc()
	for _, snap := range snaps {
		s.histories.Restore(snap)
	}
	s.logger.Debug("histories hydrated",
		zap.Int("requested", len(missing)),
		zap.Int("found", len(snaps)),
	)
	return nil
}

func (s *Service) persist(ctx context.Context, batch []transaction.Transaction, res *engine.BatchResult) error {
	if s.verdicts == nil || len(res.Verdicts) == 0 {
		return nil
	}
	byID := indexByID(batch)
	processedAt := s.now()
	records := make([]store.Record, 0, len(res.Verdicts))
	for _, v := range res.Verdicts {
		records = append(records, store.Record{
			BatchID:     res.BatchID,
			Transaction: *byID[v.TransactionID],
			Verdict:     v,
			ProcessedAt: processedAt,
		})
	}
	if err := s.verdicts.Save(ctx, records); err != nil {
		metrics.StoreOperations.WithLabelValues("verdict", "save", "error").Inc()
		return fmt.Errorf("save verdicts: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("verdict", "save", "ok").Inc()
	return nil
}

// raise sends alerts for anomalies. Delivery failures are logged only.
func (s *Service) raise(ctx context.Context, batch []transaction.Transaction, res *engine.BatchResult, log *zap.Logger) {
	if s.notifier == nil {
		return
	}
	byID := indexByID(batch)
	for _, v := range res.Anomalies() {
		a, err := alert.New(byID[v.TransactionID], &v)
		if err != nil {
			log.Error("build alert", zap.String("transaction_id", v.TransactionID), zap.Error(err))
			continue
		}
		if err := s.notifier.Notify(ctx, a); err != nil {
			log.Error("send alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}

func (s *Service) saveHistories(ctx context.Context, users []string) error {
	if s.history == nil {
		return nil
	}
	snaps := make([]features.Snapshot, 0, len(users))
	for _, id := range users {
		if snap, ok := s.histories.Snapshot(id); ok {
			snaps = append(snaps, snap)
		}
	}
	if err := s.history.Save(ctx, snaps); err != nil {
		metrics.StoreOperations.WithLabelValues("history", "save", "error").Inc()
		return fmt.Errorf("save histories: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("history", "save", "ok").Inc()
	return nil
}

func userIDs(batch []transaction.Transaction) []string {
	seen := make(map[string]struct{}, len(batch))
	var out []string
	for i := range batch {
		id := batch[i].UserID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func indexByID(batch []transaction.Transaction) map[string]*transaction.Transaction {
	out := make(map[string]*transaction.Transaction, len(batch))
	for i := range batch {
		out[batch[i].ID] = &batch[i]
	}
	return out
}
