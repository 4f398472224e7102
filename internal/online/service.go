// Package online owns the shared model and applies user feedback to it one
// example at a time. Predictions share a read lock; feedback, saves and the
// shutdown save hold the write lock across the training step, the ledger
// update and any checkpoint.
package online

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gender-classifier/internal/checkpoint"
	"gender-classifier/internal/common"
	"gender-classifier/internal/imageproc"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/ml"

	"github.com/rs/zerolog/log"
)

// Metrics is what the service reports besides prediction metrics.
type Metrics interface {
	ml.MetricsInterface
	FeedbackInc()
	TrainingFailuresInc()
	TrainingLossObserve(float64)
	TrainingLatencyObserve(float64)
	AccuracySet(float64)
	CheckpointsInc()
	CheckpointFailuresInc()
}

// Options configures a Service.
type Options struct {
	// CheckpointEvery triggers a checkpoint when the training count is a multiple of it.
	CheckpointEvery int
	// SaveOnShutdown writes the model on Close when there are unsaved updates.
	SaveOnShutdown bool
	Metrics        Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// FeedbackRequest is a single correction. The image is used for one training
// step and never stored.
type FeedbackRequest struct {
	Image              []byte
	Label              string
	PreviousPrediction string
}

// FeedbackResult reports what one feedback call did.
type FeedbackResult struct {
	TotalFeedback int
	TrainingLoss  float64
	Ledger        ledger.Ledger
	// Checkpoint is set when this call triggered a successful checkpoint.
	Checkpoint *checkpoint.Result
	// CheckpointErr is set when a triggered checkpoint failed; the update itself stands.
	CheckpointErr error
}

// Service serializes model mutation and keeps the ledger in step with it.
type Service struct {
	mu        sync.RWMutex
	model     ml.Model
	predictor *ml.Predictor
	store     ledger.Store
	ckpt      *checkpoint.Checkpointer

	every          int
	saveOnShutdown bool
	unsaved        int
	closed         bool
	lastCount      int // training count from the last successful ledger read

	metrics Metrics
	now     func() time.Time

	subMu       sync.Mutex
	subscribers []func(ledger.Stats)
}

func NewService(model ml.Model, store ledger.Store, ckpt *checkpoint.Checkpointer, opts Options) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("online: nil model")
	}
	if store == nil {
		return nil, fmt.Errorf("online: nil ledger store")
	}
	if ckpt == nil {
		return nil, fmt.Errorf("online: nil checkpointer")
	}

	every := opts.CheckpointEvery
	if every <= 0 {
		every = common.DefaultCheckpointEvery
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var pm ml.MetricsInterface
	if opts.Metrics != nil {
		pm = opts.Metrics
	}

	s := &Service{
		model:          model,
		predictor:      ml.NewPredictor(model, pm),
		store:          store,
		ckpt:           ckpt,
		every:          every,
		saveOnShutdown: opts.SaveOnShutdown,
		metrics:        opts.Metrics,
		now:            now,
	}
	if l, err := store.Load(context.Background()); err == nil {
		s.lastCount = l.OnlineTrainingCount
	}
	s.observeModelAge()
	return s, nil
}

// ModelLoaded reports whether a model is available for predictions.
func (s *Service) ModelLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil && !s.closed
}

// Predict classifies an image. Decoding runs outside the lock; inference
// shares the read lock with other predictions.
func (s *Service) Predict(ctx context.Context, image []byte) (ml.PredictionResult, error) {
	t, err := s.predictor.Preprocess(image)
	if err != nil {
		return ml.PredictionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ml.PredictionResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ml.PredictionResult{}, fmt.Errorf("%w: service closed", ml.ErrInference)
	}
	return s.predictor.PredictTensor(t)
}

// Feedback applies exactly one training step for req and records it in the
// ledger. A failed step leaves the ledger untouched.
func (s *Service) Feedback(ctx context.Context, req FeedbackRequest) (FeedbackResult, error) {
	label, err := ml.ParseLabel(req.Label)
	if err != nil {
		return FeedbackResult{}, err
	}
	outcome := s.outcome(label, req.PreviousPrediction)

	t, err := s.predictor.Preprocess(req.Image)
	if err != nil {
		return FeedbackResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FeedbackResult{}, err
	}

	s.mu.Lock()
	res, err := s.feedbackLocked(ctx, t, label, outcome)
	s.mu.Unlock()
	if err != nil {
		return res, err
	}

	s.publish(res.Ledger.Stats())
	return res, nil
}

func (s *Service) feedbackLocked(ctx context.Context, t imageproc.Tensor, label ml.Label, outcome ledger.Outcome) (FeedbackResult, error) {
	if s.closed {
		return FeedbackResult{}, fmt.Errorf("%w: service closed", ml.ErrTraining)
	}

	start := time.Now()
	loss, err := s.model.TrainStep(t, label.Target())
	if s.metrics != nil {
		s.metrics.TrainingLatencyObserve(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.TrainingFailuresInc()
		}
		if !errors.Is(err, ml.ErrTraining) {
			err = fmt.Errorf("%w: %v", ml.ErrTraining, err)
		}
		log.Error().Err(err).Str("label", label.String()).Msg("Online training step failed")
		return FeedbackResult{}, err
	}

	// the model has already moved; the ledger write must not be abandoned halfway
	at := s.now()
	l, err := s.store.Update(context.WithoutCancel(ctx), func(l *ledger.Ledger) error {
		l.RecordFeedback(outcome, at)
		return nil
	})
	s.unsaved++
	if err != nil {
		if !errors.Is(err, ml.ErrPersistence) {
			err = fmt.Errorf("%w: %v", ml.ErrPersistence, err)
		}
		log.Error().Err(err).Msg("Failed to update feedback ledger after training step")
		return FeedbackResult{}, err
	}
	s.lastCount = l.OnlineTrainingCount

	if s.metrics != nil {
		s.metrics.FeedbackInc()
		s.metrics.TrainingLossObserve(loss)
		s.metrics.AccuracySet(l.Stats().Accuracy)
	}
	s.observeModelAge()

	log.Info().
		Str("label", label.String()).
		Float64("loss", loss).
		Int("online_training_count", l.OnlineTrainingCount).
		Msg("Model updated from feedback")

	res := FeedbackResult{
		TotalFeedback: l.TotalFeedback,
		TrainingLoss:  loss,
		Ledger:        l,
	}

	if l.OnlineTrainingCount%s.every == 0 {
		cp, err := s.checkpointLocked(checkpoint.ReasonPeriodic, l.OnlineTrainingCount)
		if err != nil {
			res.CheckpointErr = err
		} else {
			res.Checkpoint = &cp
		}
	}
	return res, nil
}

func (s *Service) outcome(label ml.Label, previous string) ledger.Outcome {
	if previous == "" {
		return ledger.OutcomeUnknown
	}
	prev, err := ml.ParseLabel(previous)
	if err != nil {
		log.Warn().Str("prediction", previous).Msg("Ignoring unrecognised previous prediction")
		return ledger.OutcomeUnknown
	}
	if prev == label {
		return ledger.OutcomeCorrect
	}
	return ledger.OutcomeIncorrect
}

// Stats returns the current ledger view. It never mutates anything.
func (s *Service) Stats(ctx context.Context) (ledger.Stats, error) {
	l, err := s.store.Load(ctx)
	if err != nil {
		return ledger.Stats{}, err
	}
	return l.Stats(), nil
}

// SaveModel checkpoints the model on demand.
func (s *Service) SaveModel(ctx context.Context) (checkpoint.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return checkpoint.Result{}, fmt.Errorf("%w: service closed", ml.ErrPersistence)
	}

	return s.checkpointLocked(checkpoint.ReasonManual, s.trainingCountLocked(ctx))
}

func (s *Service) checkpointLocked(reason checkpoint.Reason, count int) (checkpoint.Result, error) {
	res, err := s.ckpt.Save(s.model, reason, count)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CheckpointFailuresInc()
		}
		log.Error().Err(err).Str("reason", string(reason)).Msg("Checkpoint failed")
		return res, err
	}
	if s.metrics != nil {
		s.metrics.CheckpointsInc()
	}
	s.unsaved = 0
	return res, nil
}

// trainingCountLocked reads the training count for a checkpoint record. When
// the ledger cannot be read it falls back to the last count seen.
func (s *Service) trainingCountLocked(ctx context.Context) int {
	l, err := s.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).
			Int("online_training_count", s.lastCount).
			Msg("Failed to read ledger for checkpoint, using last known training count")
		return s.lastCount
	}
	s.lastCount = l.OnlineTrainingCount
	return s.lastCount
}

// Checkpoints lists recorded checkpoints, newest first.
func (s *Service) Checkpoints() []checkpoint.Entry {
	h := s.ckpt.History()
	if h == nil {
		return nil
	}
	return h.List()
}

// Subscribe registers fn to receive stats after each successful feedback.
// fn runs on the feedback caller's goroutine and must not block.
func (s *Service) Subscribe(fn func(ledger.Stats)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Service) publish(st ledger.Stats) {
	s.subMu.Lock()
	subs := make([]func(ledger.Stats), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// Close saves pending updates when configured, then releases the ledger
// store and the model. It is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.saveOnShutdown && s.unsaved > 0 {
		count := s.trainingCountLocked(context.Background())
		log.Info().Int("unsaved_updates", s.unsaved).Msg("Saving model before shutdown")
		if _, err := s.checkpointLocked(checkpoint.ReasonShutdown, count); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	if closer, ok := s.model.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close model: %w", err))
		}
	}
	return errors.Join(errs...)
}

// UnsavedUpdates returns the number of training steps since the last checkpoint.
func (s *Service) UnsavedUpdates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unsaved
}

func (s *Service) observeModelAge() {
	if m, ok := s.model.(interface{ UpdatedAt() time.Time }); ok {
		s.predictor.ObserveModelAge(m.UpdatedAt())
	}
}
