package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/generator"
	"codeforge/internal/logging"
	"codeforge/internal/policy"
	"codeforge/internal/schema"
	"codeforge/internal/types"
)

// RecordStore persists suspension records durably. Claim must be atomic:
// exactly one caller gets the record, everyone else gets ErrNotFound.
type RecordStore interface {
	Put(ctx context.Context, record *SuspensionRecord) error
	Claim(ctx context.Context, handle string) (*SuspensionRecord, error)
	List(ctx context.Context) ([]*SuspensionRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Gate decides whether an admitted execution must pause for a human, and
// manages the suspend/resume lifecycle around that pause.
type Gate struct {
	store   *policy.Store
	records RecordStore
	logger  *zap.Logger
}

// NewGate wires the gate to the live approval policy and the record store.
func NewGate(store *policy.Store, records RecordStore, logger *zap.Logger) *Gate {
	return &Gate{
		store:   store,
		records: records,
		logger:  logging.OrNop(logger).Named("approval"),
	}
}

// RequiresApproval applies the policy resolution order on top of the
// resolver's analysis-derived verdict:
//
//	global disabled  => never, regardless of capability or analysis
//	global all       => always, regardless of capability or analysis
//	global selective => capability enabled AND the decision says so
func (g *Gate) RequiresApproval(capability string, decision *policy.Decision) bool {
	cfg := g.store.Current()
	switch cfg.GlobalMode {
	case policy.GlobalDisabled:
		return false
	case policy.GlobalAll:
		return true
	}
	cap := cfg.Capability(capability)
	if !cap.Enabled {
		return false
	}
	return decision.NeedsApproval
}

// Suspend freezes the execution into a durable record and returns its
// handle. The session releases its in-memory state entirely; resumption may
// occur in a different process.
func (g *Gate) Suspend(ctx context.Context, req *types.ExecutionRequest, code *generator.GeneratedCode, analysis *analyzer.Result, decision *policy.Decision, folder string) (*SuspensionRecord, error) {
	record := &SuspensionRecord{
		Handle:               uuid.NewString(),
		Code:                 code.Source,
		Analysis:             analysis,
		IsolationLevel:       decision.IsolationLevel,
		SafetyConcerns:       decision.SafetyConcerns(),
		Request:              req,
		ExpectedResultSchema: schema.Clone(req.ExpectedResultSchema),
		IsolationFolderPath:  folder,
		TaskObjective:        req.TaskObjective,
		Attempt:              code.Attempt,
		CreatedAt:            time.Now().UTC(),
	}
	if err := g.records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("persist suspension: %w", err)
	}
	g.logger.Info("execution suspended for approval",
		zap.String("handle", record.Handle),
		zap.String("capability", req.CapabilityOrDefault()),
		zap.Strings("concerns", record.SafetyConcerns))
	return record, nil
}

// Resume claims the record for the handle and merges the reviewer's payload
// into a continuation. A second Resume with the same handle fails the claim:
// each decision is consumed exactly once.
func (g *Gate) Resume(ctx context.Context, handle string, decision ResumeDecision) (*Continuation, error) {
	record, err := g.records.Claim(ctx, handle)
	if err != nil {
		return nil, err
	}

	cont := &Continuation{
		Approved: decision.Approved,
		Code:     record.Code,
		Schema:   record.ExpectedResultSchema,
		Record:   record,
	}
	if !decision.Approved {
		g.logger.Info("suspension rejected", zap.String("handle", handle))
		return cont, nil
	}

	if edited, ok := decision.Payload["code"].(string); ok && edited != "" {
		cont.Code = edited
	}
	if schema, ok := decision.Payload["expected_result_schema"].(map[string]any); ok {
		cont.Schema = schema
	}

	g.logger.Info("suspension approved",
		zap.String("handle", handle),
		zap.Bool("code_edited", cont.Code != record.Code))
	return cont, nil
}

// Requeue re-persists a claimed record under its original handle. Used when
// the claimer cannot act on the decision yet (e.g. the session is busy):
// without it the claim would have destroyed the approval.
func (g *Gate) Requeue(ctx context.Context, record *SuspensionRecord) error {
	if err := g.records.Put(ctx, record); err != nil {
		return fmt.Errorf("requeue suspension %s: %w", record.Handle, err)
	}
	g.logger.Info("suspension requeued", zap.String("handle", record.Handle))
	return nil
}

// Pending lists suspensions awaiting a decision, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]*SuspensionRecord, error) {
	return g.records.List(ctx)
}

// Reap deletes suspensions older than maxAge. Expired suspensions count as
// denials; the corresponding sessions can never resume.
func (g *Gate) Reap(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	n, err := g.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.Info("expired suspensions reaped", zap.Int("count", n))
	}
	return n, nil
}
