package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/interfaces"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// SubmitRequest is the boundary payload for claim submission. Internal code
// only ever sees a fully validated Claim built from it.
type SubmitRequest struct {
	PatientRef     string          `json:"patient_ref" validate:"required,max=64"`
	PayerPolicyID  string          `json:"payer_policy_id" validate:"required,max=64"`
	DiagnosisCodes []string        `json:"diagnosis_codes" validate:"required,min=1,dive,required"`
	ProcedureLines []ProcedureLine `json:"procedure_lines" validate:"required,min=1,dive"`
	ServiceDate    string          `json:"service_date" validate:"required,datetime=2006-01-02"`
}

// ProcedureLine is one billed procedure in a submission payload
type ProcedureLine struct {
	Code         string `json:"code" validate:"required,max=16"`
	BilledAmount int64  `json:"billed_amount" validate:"gte=0"`
	Quantity     int    `json:"quantity" validate:"gte=1"`
}

// ServiceConfig holds adjudication pipeline configuration
type ServiceConfig struct {
	DuplicateWindow time.Duration
	AutoDispatch    bool
}

// Service orchestrates the claim pipeline: validation, fee resolution,
// adjudication, persistence, notification, and the handoff of approved
// claims to settlement.
type Service struct {
	store       interfaces.ClaimStore
	reference   interfaces.ReferenceSource
	validator   *Validator
	resolver    *FeeResolver
	adjudicator *Adjudicator
	dispatcher  interfaces.SettlementDispatcher
	publisher   interfaces.EventPublisher
	metrics     *monitoring.MetricsCollector
	logger      *logger.Logger
	locks       *claimLocks
	config      ServiceConfig
}

// NewService creates the claim pipeline service
func NewService(
	store interfaces.ClaimStore,
	reference interfaces.ReferenceSource,
	publisher interfaces.EventPublisher,
	metrics *monitoring.MetricsCollector,
	log *logger.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		store:       store,
		reference:   reference,
		validator:   NewValidator(),
		resolver:    NewFeeResolver(),
		adjudicator: NewAdjudicator(),
		publisher:   publisher,
		metrics:     metrics,
		logger:      log,
		locks:       newClaimLocks(),
		config:      cfg,
	}
}

// SetDispatcher wires the settlement dispatcher. Set after construction
// because the dispatcher and the service share the claim store.
func (s *Service) SetDispatcher(d interfaces.SettlementDispatcher) {
	s.dispatcher = d
}

// Submit accepts a claim, runs the full adjudication pipeline, and returns
// the decided claim. The reference snapshot is captured once up front so a
// concurrent refresh cannot tear the decision.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*types.Claim, error) {
	serviceDate, err := time.Parse("2006-01-02", req.ServiceDate)
	if err != nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"service_date must be formatted as YYYY-MM-DD", nil)
	}

	claim := &types.Claim{
		ID:             uuid.New().String(),
		PatientRef:     req.PatientRef,
		PayerPolicyID:  req.PayerPolicyID,
		DiagnosisCodes: req.DiagnosisCodes,
		ServiceDate:    serviceDate,
		Status:         types.ClaimSubmitted,
		CreatedAt:      time.Now(),
	}
	for _, line := range req.ProcedureLines {
		claim.ProcedureLines = append(claim.ProcedureLines, types.ProcedureLine{
			Code:         line.Code,
			BilledAmount: line.BilledAmount,
			Quantity:     line.Quantity,
		})
	}
	claim.RecomputeBilledTotal()

	snap := s.reference.Current()
	claim.SnapshotVersion = snap.Version

	if err := s.store.Create(ctx, claim); err != nil {
		return nil, err
	}
	s.metrics.RecordClaimSubmitted()

	s.locks.Lock(claim.ID)
	defer s.locks.Unlock(claim.ID)

	start := time.Now()

	// Code validation. Malformed codes and disallowed duplicates deny the
	// claim before it leaves submitted.
	flags, err := s.validator.Validate(snap, claim)
	if err != nil {
		return s.deny(ctx, claim, types.ClaimSubmitted, err, start)
	}

	if err := s.store.UpdateStatus(ctx, claim.ID, types.ClaimSubmitted, types.ClaimValidated, ""); err != nil {
		return nil, err
	}
	claim.Status = types.ClaimValidated

	// Fee resolution against the same snapshot.
	feeFlags, err := s.resolver.Resolve(snap, claim)
	if err != nil {
		if types.ErrType(err) == types.ErrorTypeInvariant {
			// Freeze the claim in its current state; no clamping.
			var ce *types.ClaimError
			errors.As(err, &ce)
			s.logger.Invariant(claim.ID, ce.Code, ce.Details)
			return nil, err
		}
		return s.deny(ctx, claim, types.ClaimValidated, err, start)
	}
	flags = append(flags, feeFlags...)
	claim.ReviewFlags = flags

	// Duplicate probe feeds the adjudicator; the decision itself stays pure.
	duplicates, err := s.store.FindDuplicates(ctx, claim, s.config.DuplicateWindow)
	if err != nil {
		return nil, err
	}

	decision := s.adjudicator.Adjudicate(snap, claim, flags, duplicates)

	now := time.Now()
	claim.Status = decision.Status
	claim.DecisionReason = decision.Reason
	claim.DecisionDetail = decision.Detail
	claim.DecidedAt = &now

	if err := s.store.UpdateDecision(ctx, claim, types.ClaimValidated); err != nil {
		return nil, err
	}

	s.metrics.RecordDecision(string(decision.Status), string(decision.Reason), time.Since(start))
	s.logger.Decision(claim.ID, string(decision.Status), string(decision.Reason), claim.AllowedTotal, claim.BilledTotal)
	s.publishEvent(ctx, claim)

	if decision.Status == types.ClaimApproved && s.config.AutoDispatch && s.dispatcher != nil {
		// Settlement must not block claim processing for other claims.
		go s.dispatchApproved(claim.ID)
	}

	return claim, nil
}

// Get retrieves a claim by ID
func (s *Service) Get(ctx context.Context, claimID string) (*types.Claim, error) {
	return s.store.GetByID(ctx, claimID)
}

// List returns claims matching the filters
func (s *Service) List(ctx context.Context, filters *types.ClaimFilters) ([]*types.Claim, error) {
	return s.store.List(ctx, filters)
}

// History returns the status transition audit trail for a claim
func (s *Service) History(ctx context.Context, claimID string) ([]*types.ClaimStatusChange, error) {
	return s.store.History(ctx, claimID)
}

// ResolveReview applies a manual review outcome to a pending claim
func (s *Service) ResolveReview(ctx context.Context, claimID string, approve bool, detail string) (*types.Claim, error) {
	s.locks.Lock(claimID)
	defer s.locks.Unlock(claimID)

	claim, err := s.store.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != types.ClaimPendingReview {
		return nil, types.NewConflictError(types.ErrCodeIllegalTransition,
			"claim is not pending review")
	}

	now := time.Now()
	if approve {
		claim.Status = types.ClaimApproved
		claim.DecisionReason = types.ReasonManualApproval
	} else {
		claim.Status = types.ClaimDenied
		claim.DecisionReason = types.ReasonManualDenial
	}
	claim.DecisionDetail = detail
	claim.DecidedAt = &now

	if err := s.store.UpdateDecision(ctx, claim, types.ClaimPendingReview); err != nil {
		return nil, err
	}

	s.metrics.RecordDecision(string(claim.Status), string(claim.DecisionReason), 0)
	s.publishEvent(ctx, claim)

	if claim.Status == types.ClaimApproved && s.config.AutoDispatch && s.dispatcher != nil {
		go s.dispatchApproved(claim.ID)
	}

	return claim, nil
}

// Redispatch drives settlement for an approved or settlement-failed claim
// on operator request. Submission runs synchronously; confirmation tracking
// stays asynchronous inside the dispatcher.
func (s *Service) Redispatch(ctx context.Context, claimID string) (*types.Claim, error) {
	if s.dispatcher == nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError,
			"settlement dispatcher is not configured", nil)
	}
	if err := s.dispatcher.Dispatch(ctx, claimID); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, claimID)
}

// deny moves a claim to denied with the terminal error's reason attached
func (s *Service) deny(ctx context.Context, claim *types.Claim, from types.ClaimStatus, cause error, start time.Time) (*types.Claim, error) {
	var ce *types.ClaimError
	if !errors.As(cause, &ce) {
		return nil, cause
	}

	now := time.Now()
	claim.Status = types.ClaimDenied
	claim.DecisionReason = reasonForCode(ce.Code)
	claim.DecisionDetail = ce.Message
	claim.DecidedAt = &now

	if err := s.store.UpdateDecision(ctx, claim, from); err != nil {
		return nil, err
	}

	s.metrics.RecordDecision(string(types.ClaimDenied), string(claim.DecisionReason), time.Since(start))
	s.logger.Decision(claim.ID, string(types.ClaimDenied), string(claim.DecisionReason), claim.AllowedTotal, claim.BilledTotal)
	s.publishEvent(ctx, claim)

	return claim, nil
}

// dispatchApproved hands an approved claim to the settlement dispatcher
func (s *Service) dispatchApproved(claimID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.dispatcher.Dispatch(ctx, claimID); err != nil {
		s.logger.WithClaimID(claimID).WithError(err).Error("Automatic settlement dispatch failed")
	}
}

// publishEvent notifies the billing/UI layer of a decision or settlement
// outcome. Publish failures are logged, never surfaced to the claim flow.
func (s *Service) publishEvent(ctx context.Context, claim *types.Claim) {
	if s.publisher == nil {
		return
	}

	event := &types.ClaimEvent{
		ClaimID:        claim.ID,
		PatientRef:     claim.PatientRef,
		Status:         claim.Status,
		DecisionReason: claim.DecisionReason,
		AllowedTotal:   claim.AllowedTotal,
		SettlementTxID: claim.SettlementTxID,
		OccurredAt:     time.Now(),
	}
	if err := s.publisher.PublishClaimEvent(ctx, event); err != nil {
		s.logger.WithClaimID(claim.ID).WithError(err).Warn("Failed to publish claim event")
	}
}

// reasonForCode maps a terminal error code to a decision reason
func reasonForCode(code string) types.DecisionReason {
	switch code {
	case types.ErrCodeMalformedCode:
		return types.ReasonMalformedCode
	case types.ErrCodeDisallowedDuplicate:
		return types.ReasonDisallowedDuplicate
	case types.ErrCodeNotCovered, types.ErrCodeUnknownPolicy:
		return types.ReasonNotCovered
	default:
		return types.DecisionReason(code)
	}
}
