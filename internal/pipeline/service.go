// Package pipeline orchestrates the request lifecycle: generate, analyze,
// resolve, gate, execute, and recover per the error taxonomy.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/approval"
	"codeforge/internal/generator"
	"codeforge/internal/logging"
	"codeforge/internal/policy"
	"codeforge/internal/sandbox"
	"codeforge/internal/types"
)

// Status is the terminal disposition of a Submit or Resume call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Result is what a caller gets back. Exactly one of Outcome, Handle, or Err
// is meaningful, selected by Status.
type Result struct {
	Status          Status
	Outcome         *types.ExecutionOutcome
	Handle          string
	SafetyConcerns  []string
	Recommendations []string
	Attempts        int
	Err             error
}

// Options tunes the recovery budgets.
type Options struct {
	// ExecRetries bounds same-code retries on infrastructure failures.
	ExecRetries int
	// Backoff is the base delay between infrastructure retries; it doubles
	// per retry.
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.ExecRetries <= 0 {
		o.ExecRetries = 2
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

// Service is the pipeline controller. All stages are injected; the service
// owns only sequencing, session exclusivity, and error recovery.
type Service struct {
	gen      *generator.Generator
	analyzer *analyzer.Analyzer
	domain   policy.DomainAnalyzer
	resolver policy.Resolver
	policies *policy.Store
	gate     *approval.Gate
	executor sandbox.Executor
	opts     Options
	logger   *zap.Logger
	stats    Stats

	mu   sync.Mutex
	busy map[string]bool
}

// New wires a pipeline service.
func New(gen *generator.Generator, an *analyzer.Analyzer, domain policy.DomainAnalyzer, resolver policy.Resolver, policies *policy.Store, gate *approval.Gate, executor sandbox.Executor, opts Options, logger *zap.Logger) *Service {
	return &Service{
		gen:      gen,
		analyzer: an,
		domain:   domain,
		resolver: resolver,
		policies: policies,
		gate:     gate,
		executor: executor,
		opts:     opts.withDefaults(),
		logger:   logging.OrNop(logger).Named("pipeline"),
		busy:     make(map[string]bool),
	}
}

// Submit runs one request through the full pipeline. A session admits a
// single live execution; concurrent submits for the same session key fail
// with ErrSessionBusy.
func (s *Service) Submit(ctx context.Context, req *types.ExecutionRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.SessionKey == "" {
		req.SessionKey = uuid.NewString()
	}
	if err := s.acquire(req.SessionKey); err != nil {
		return nil, err
	}
	defer s.release(req.SessionKey)

	s.stats.Submitted.Add(1)
	return s.generateAndRun(ctx, req, 1, nil)
}

// Resume consumes the decision for a suspended execution. Each handle is
// claimable once; a replayed resume fails with store.ErrNotFound.
func (s *Service) Resume(ctx context.Context, handle string, decision approval.ResumeDecision) (*Result, error) {
	cont, err := s.gate.Resume(ctx, handle, decision)
	if err != nil {
		return nil, err
	}
	s.stats.Resumed.Add(1)

	record := cont.Record
	if !cont.Approved {
		s.stats.Rejected.Add(1)
		return &Result{
			Status:         StatusRejected,
			SafetyConcerns: record.SafetyConcerns,
			Attempts:       record.Attempt,
		}, nil
	}

	req := record.Request
	if err := s.acquire(req.SessionKey); err != nil {
		// The claim already deleted the record; put it back so the
		// approval survives and the handle can be redelivered once the
		// session frees up.
		if rerr := s.gate.Requeue(ctx, record); rerr != nil {
			return nil, fmt.Errorf("%w (and requeue failed: %v)", err, rerr)
		}
		return nil, err
	}
	defer s.release(req.SessionKey)

	level := record.IsolationLevel
	if cont.Code != record.Code {
		// Edited code was never analyzed; the original approval does not
		// cover it beyond the reviewer's eyes. Re-derive isolation and
		// refuse hard findings.
		analysis, aerr := s.analyzer.Analyze(cont.Code)
		if aerr != nil {
			return s.failed(record.Attempt, fmt.Errorf("edited code: %w", aerr))
		}
		if analysis.HasBlocking() {
			return s.failed(record.Attempt, fmt.Errorf("edited code has blocking findings: %v", analysis.BlockingMessages()))
		}
		domain, derr := s.domain.AnalyzeDomain(ctx, cont.Code, analysis)
		if derr != nil {
			return s.failed(record.Attempt, derr)
		}
		cap := s.policies.Current().Capability(req.CapabilityOrDefault())
		level = s.resolver.Decide(analysis, domain, cap).IsolationLevel
	}
	if cont.Schema != nil {
		edited := *req
		edited.ExpectedResultSchema = cont.Schema
		req = &edited
	}

	s.logger.Info("resuming approved execution",
		zap.String("handle", handle),
		zap.String("session", req.SessionKey))

	outcome, err := s.executeWithRetry(ctx, cont.Code, level, req)
	if err == nil {
		s.stats.Succeeded.Add(1)
		return &Result{Status: StatusSucceeded, Outcome: outcome, Attempts: record.Attempt}, nil
	}
	if Classify(err) != CategoryCodeRelated {
		return s.failed(record.Attempt, err)
	}
	// A post-approval runtime failure re-enters generation with the failure
	// as feedback, continuing the original attempt count.
	return s.generateAndRun(ctx, req, record.Attempt+1, feedback(err))
}

// generateAndRun is the generate-analyze-gate-execute loop. startAttempt and
// priorErrors let a resumed session continue its budget instead of resetting.
func (s *Service) generateAndRun(ctx context.Context, req *types.ExecutionRequest, startAttempt int, priorErrors []string) (*Result, error) {
	// The budget is the request's, taken literally: retries regenerations
	// after the first attempt, zero meaning a single shot.
	maxAttempts := 1 + req.Retries

	var lastErr error
	for attempt := startAttempt; attempt <= maxAttempts; attempt++ {
		if attempt > startAttempt || len(priorErrors) > 0 {
			s.stats.Regenerations.Add(1)
		}

		code, err := s.generateWithRetry(ctx, req, attempt, priorErrors)
		if err != nil {
			if Classify(err) == CategoryCodeRelated {
				priorErrors = appendFeedback(priorErrors, feedback(err))
				lastErr = err
				continue
			}
			return s.failed(attempt, err)
		}

		analysis, err := s.analyzer.Analyze(code.Source)
		if err != nil {
			// Only unparsable code errors here; regenerate with the
			// parser's messages.
			priorErrors = appendFeedback(priorErrors, feedback(err))
			lastErr = err
			continue
		}

		domain, err := s.domain.AnalyzeDomain(ctx, code.Source, analysis)
		if err != nil {
			return s.failed(attempt, fmt.Errorf("domain analysis: %w", err))
		}

		cap := s.policies.Current().Capability(req.CapabilityOrDefault())
		decision := s.resolver.Decide(analysis, domain, cap)

		if !decision.Passed || analysis.HasBlocking() {
			priorErrors = appendFeedback(priorErrors, analysis.BlockingMessages())
			lastErr = fmt.Errorf("static analysis rejected attempt %d: %v", attempt, analysis.BlockingMessages())
			continue
		}

		if s.gate.RequiresApproval(req.CapabilityOrDefault(), decision) {
			record, serr := s.gate.Suspend(ctx, req, code, analysis, decision, s.executor.FolderPath(req.IsolationFolderName))
			if serr != nil {
				return s.failed(attempt, serr)
			}
			s.stats.Suspended.Add(1)
			return &Result{
				Status:         StatusSuspended,
				Handle:         record.Handle,
				SafetyConcerns: record.SafetyConcerns,
				Attempts:       attempt,
			}, nil
		}

		outcome, err := s.executeWithRetry(ctx, code.Source, decision.IsolationLevel, req)
		if err == nil {
			s.stats.Succeeded.Add(1)
			return &Result{
				Status:          StatusSucceeded,
				Outcome:         outcome,
				Recommendations: decision.Recommendations,
				Attempts:        attempt,
			}, nil
		}
		if Classify(err) != CategoryCodeRelated {
			return s.failed(attempt, err)
		}
		priorErrors = appendFeedback(priorErrors, feedback(err))
		lastErr = err
	}

	return s.failed(maxAttempts, fmt.Errorf("%w after %d attempts: %v", ErrGenerationBudget, maxAttempts, lastErr))
}

// generateWithRetry retries the completion call on infrastructure failures.
// Code-related generation errors pass straight through to the regeneration
// loop.
func (s *Service) generateWithRetry(ctx context.Context, req *types.ExecutionRequest, attempt int, priorErrors []string) (*generator.GeneratedCode, error) {
	var lastErr error
	for try := 0; try <= s.opts.ExecRetries; try++ {
		if try > 0 {
			s.stats.InfraRetries.Add(1)
			if err := sleepCtx(ctx, s.opts.Backoff<<(try-1)); err != nil {
				return nil, err
			}
		}
		code, err := s.gen.Generate(ctx, req, attempt, priorErrors)
		if err == nil {
			return code, nil
		}
		if Classify(err) != CategoryInfrastructure {
			return nil, err
		}
		s.logger.Warn("generation infrastructure failure, retrying",
			zap.Int("try", try+1), zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrExecutionBudget, lastErr)
}

// executeWithRetry retries the same code with backoff on infrastructure
// failures only. Runtime failures return immediately for regeneration.
func (s *Service) executeWithRetry(ctx context.Context, code string, level sandbox.IsolationLevel, req *types.ExecutionRequest) (*types.ExecutionOutcome, error) {
	var lastErr error
	for try := 0; try <= s.opts.ExecRetries; try++ {
		if try > 0 {
			s.stats.InfraRetries.Add(1)
			if err := sleepCtx(ctx, s.opts.Backoff<<(try-1)); err != nil {
				return nil, err
			}
		}
		outcome, err := s.executor.Execute(ctx, code, level, req)
		if err == nil {
			return outcome, nil
		}
		if Classify(err) != CategoryInfrastructure {
			return nil, err
		}
		s.logger.Warn("execution infrastructure failure, retrying",
			zap.Int("try", try+1), zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrExecutionBudget, lastErr)
}

func (s *Service) failed(attempts int, err error) (*Result, error) {
	s.stats.Failed.Add(1)
	s.logger.Warn("execution failed",
		zap.Int("attempts", attempts),
		zap.Stringer("category", Classify(err)),
		zap.Error(err))
	return &Result{Status: StatusFailed, Attempts: attempts, Err: err}, nil
}

func (s *Service) acquire(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[session] {
		return fmt.Errorf("session %s: %w", session, ErrSessionBusy)
	}
	s.busy[session] = true
	return nil
}

func (s *Service) release(session string) {
	s.mu.Lock()
	delete(s.busy, session)
	s.mu.Unlock()
}

func appendFeedback(prior []string, more []string) []string {
	prior = append(prior, more...)
	// Cap the feedback window so prompts stay bounded; the newest failures
	// matter most.
	const window = 6
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	return prior
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
