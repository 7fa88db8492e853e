package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/pingone"
	"github.com/pingone-bulk-console/internal/progress"
)

// ErrOperationInProgress is returned when an operation of the same kind is
// already running. The second submission is rejected, never queued.
var ErrOperationInProgress = errors.New("operation already in progress")

// ErrBadRequest wraps request validation failures
var ErrBadRequest = errors.New("invalid operation request")

// Finished operations stay fetchable/exportable this long after completion
const operationRetention = time.Hour

// operationService is the concrete implementation of OperationService. It
// owns the batch orchestration state machine:
//
//	Pending → Authenticating → Processing → Completed | Failed
type operationService struct {
	userAPI pingone.UserAPI
	tokens  pingone.TokenSource
	broker  *progress.Broker
	cfg     *config.Config
	log     zerolog.Logger

	mu         sync.Mutex
	inFlight   map[models.OperationKind]bool
	operations map[string]*models.Operation
	cancels    map[string]context.CancelFunc
}

// newOperationService creates a new OperationService
func newOperationService(userAPI pingone.UserAPI, tokens pingone.TokenSource, broker *progress.Broker, cfg *config.Config, log zerolog.Logger) *operationService {
	return &operationService{
		userAPI:    userAPI,
		tokens:     tokens,
		broker:     broker,
		cfg:        cfg,
		log:        log.With().Str("service", "operations").Logger(),
		inFlight:   make(map[models.OperationKind]bool),
		operations: make(map[string]*models.Operation),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start validates the request, rejects re-entrant submissions of the same
// kind, and launches the orchestration loop in the background. The returned
// Operation carries the id the caller subscribes to for progress.
func (s *operationService) Start(kind models.OperationKind, req *models.OperationRequest) (*models.Operation, error) {
	if !models.ValidKinds[kind] {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrBadRequest, kind)
	}
	if len(req.Users) == 0 {
		return nil, fmt.Errorf("%w: no records supplied", ErrBadRequest)
	}
	if max := s.cfg.Operations.MaxRecords; max > 0 && len(req.Users) > max {
		return nil, fmt.Errorf("%w: %d records exceeds the limit of %d", ErrBadRequest, len(req.Users), max)
	}
	if req.EnvironmentID == "" || req.ClientID == "" || req.ClientSecret == "" {
		return nil, fmt.Errorf("%w: environmentId, clientId and clientSecret are required", ErrBadRequest)
	}

	s.mu.Lock()
	if s.inFlight[kind] {
		s.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	s.inFlight[kind] = true
	s.evictStaleLocked()

	op := &models.Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.OperationStatusPending,
		CreatedAt: time.Now(),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.operations[op.ID] = op
	s.cancels[op.ID] = cancel
	s.mu.Unlock()

	s.log.Info().
		Str("operation_id", op.ID).
		Str("kind", string(kind)).
		Int("records", len(req.Users)).
		Msg("Operation started")

	go s.run(runCtx, op.ID, kind, req)

	return s.snapshot(op.ID), nil
}

// Get returns a point-in-time copy of an operation
func (s *operationService) Get(id string) (*models.Operation, bool) {
	snap := s.snapshot(id)
	return snap, snap != nil
}

// Cancel requests cooperative cancellation. The orchestrator stops at the
// next between-record checkpoint; completed records keep their results.
func (s *operationService) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	op := s.operations[id]
	s.mu.Unlock()
	if !ok || op == nil || op.Terminal() {
		return false
	}
	cancel()
	s.log.Info().Str("operation_id", id).Msg("Cancellation requested")
	return true
}

// TestCredentials validates environment/client credentials by performing a
// token request, without touching the cache. On success the cached token
// for that pair is invalidated so a changed secret takes effect.
func (s *operationService) TestCredentials(ctx context.Context, environmentID, clientID, clientSecret string) error {
	if _, err := s.tokens.TestToken(ctx, environmentID, clientID, clientSecret); err != nil {
		return err
	}
	s.tokens.Invalidate(environmentID, clientID)
	return nil
}

// run is the orchestration loop for one operation. It runs on its own
// goroutine; every mutation of the shared Operation goes through setOp.
func (s *operationService) run(ctx context.Context, opID string, kind models.OperationKind, req *models.OperationRequest) {
	started := time.Now()
	total := len(req.Users)

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, kind)
		delete(s.cancels, opID)
		s.mu.Unlock()
		s.broker.Finish(opID)
	}()

	s.setOp(opID, func(op *models.Operation) {
		op.Status = models.OperationStatusAuthenticating
		op.StartedAt = &started
	})

	token, err := s.tokens.GetToken(ctx, req.EnvironmentID, req.ClientID, req.ClientSecret)
	if err != nil {
		// No partial results exist yet; the whole run fails
		s.failOp(opID, nil, started, fmt.Sprintf("authentication failed: %v", err))
		return
	}

	s.setOp(opID, func(op *models.Operation) {
		op.Status = models.OperationStatusProcessing
	})

	results := make([]models.OperationResult, 0, total)
	successSoFar, errorsSoFar := 0, 0
	batchSize := s.cfg.Operations.BatchSize

	// Cancellation is cooperative: it stops the loop at the next checkpoint
	// but never tears down a remote call already in flight, so the per-record
	// calls get a context the run cancel cannot reach. The HTTP client's own
	// timeout still bounds each call.
	callCtx := context.WithoutCancel(ctx)

	for i, record := range req.Users {
		// Checked between records, never mid-call
		if ctx.Err() != nil {
			s.failOp(opID, results, started, "cancelled by user")
			return
		}

		// Inter-batch pause: deliberate backpressure against remote rate
		// limits, not cosmetic
		if i > 0 && i%batchSize == 0 {
			s.pause(ctx, s.cfg.Operations.BatchDelay)
			if ctx.Err() != nil {
				s.failOp(opID, results, started, "cancelled by user")
				return
			}
		}

		result, callErr := s.performSafely(callCtx, kind, record, token, req.EnvironmentID)
		results = append(results, result)

		switch {
		case result.Status.IsSuccess():
			successSoFar++
		case result.Status == models.ResultSkipped:
			// Counted in neither running tally; surfaced in the summary
		default:
			errorsSoFar++
		}

		s.broker.Publish(opID, models.ProgressEvent{
			Type:         models.ProgressUpdate,
			Current:      i + 1,
			Total:        total,
			SuccessSoFar: successSoFar,
			ErrorsSoFar:  errorsSoFar,
			Message:      fmt.Sprintf("%s: %s", result.Identifier, result.Status),
		})

		// Provider throttling extends the pause instead of aborting
		var apiErr *pingone.APIError
		if errors.As(callErr, &apiErr) && apiErr.RateLimited() {
			s.log.Warn().Str("operation_id", opID).Msg("Rate limited by provider, backing off")
			s.pause(ctx, s.cfg.Operations.BatchDelay)
		}
	}

	summary := models.Summarize(results, time.Since(started))
	completed := time.Now()
	s.setOp(opID, func(op *models.Operation) {
		op.Status = models.OperationStatusCompleted
		op.Results = results
		op.Summary = &summary
		op.CompletedAt = &completed
	})

	s.broker.Publish(opID, models.ProgressEvent{
		Type:         models.ProgressComplete,
		Current:      total,
		Total:        total,
		SuccessCount: summary.SuccessCount,
		ErrorCount:   summary.ErrorCount,
		SkippedCount: summary.SkippedCount,
	})

	s.log.Info().
		Str("operation_id", opID).
		Str("kind", string(kind)).
		Int("total", summary.Total).
		Int("successful", summary.SuccessCount).
		Int("failed", summary.ErrorCount).
		Int("skipped", summary.SkippedCount).
		Int64("duration_ms", summary.DurationMs).
		Msg("Operation completed")
}

// performSafely calls the remote client for one record, converting panics
// into an error result so one bad record never sinks the batch
func (s *operationService) performSafely(ctx context.Context, kind models.OperationKind, record models.Record, token pingone.Token, environmentID string) (result models.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("identifier", record.Identifier()).
				Msg("Record processing panicked - recovered")
			result = models.OperationResult{
				Identifier: record.Identifier(),
				Status:     models.ResultError,
				Message:    fmt.Sprintf("internal error: %v", r),
			}
			err = nil
		}
	}()
	return s.userAPI.Perform(ctx, kind, record, token, environmentID)
}

// failOp marks the operation failed, keeping whatever results accumulated
func (s *operationService) failOp(opID string, partial []models.OperationResult, started time.Time, message string) {
	summary := models.Summarize(partial, time.Since(started))
	completed := time.Now()
	s.setOp(opID, func(op *models.Operation) {
		op.Status = models.OperationStatusFailed
		op.Error = message
		op.Results = partial
		op.Summary = &summary
		op.CompletedAt = &completed
	})

	s.broker.Publish(opID, models.ProgressEvent{
		Type:         models.ProgressError,
		Current:      len(partial),
		SuccessCount: summary.SuccessCount,
		ErrorCount:   summary.ErrorCount,
		SkippedCount: summary.SkippedCount,
		Message:      message,
	})

	s.log.Warn().Str("operation_id", opID).Str("reason", message).Msg("Operation failed")
}

func (s *operationService) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *operationService) setOp(id string, mutate func(*models.Operation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.operations[id]; ok {
		mutate(op)
	}
}

// snapshot deep-copies an operation so callers never observe a slice the
// orchestrator is still appending to
func (s *operationService) snapshot(id string) *models.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	if !ok {
		return nil
	}
	snap := *op
	if op.Results != nil {
		snap.Results = make([]models.OperationResult, len(op.Results))
		copy(snap.Results, op.Results)
	}
	if op.Summary != nil {
		summary := *op.Summary
		snap.Summary = &summary
	}
	return &snap
}

// evictStaleLocked drops terminal operations past the retention window.
// Caller holds s.mu.
func (s *operationService) evictStaleLocked() {
	cutoff := time.Now().Add(-operationRetention)
	for id, op := range s.operations {
		if op.Terminal() && op.CompletedAt != nil && op.CompletedAt.Before(cutoff) {
			delete(s.operations, id)
			s.broker.Forget(id)
		}
	}
}
