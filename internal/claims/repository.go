package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/database"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// Repository is the claim store: the single source of truth for claim
// records, their status history, and settlement transaction rows.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a claim store repository
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

const claimColumns = `
	id, patient_ref, payer_policy_id, diagnosis_codes, procedure_lines,
	service_date, billed_total, allowed_total, status, decision_reason,
	decision_detail, review_flags, settlement_tx_id, settle_attempts,
	snapshot_version, created_at, decided_at, settled_at, updated_at`

// Create persists a newly submitted claim
func (r *Repository) Create(ctx context.Context, claim *types.Claim) error {
	diagJSON, err := json.Marshal(claim.DiagnosisCodes)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnosis codes: %w", err)
	}
	linesJSON, err := json.Marshal(claim.ProcedureLines)
	if err != nil {
		return fmt.Errorf("failed to marshal procedure lines: %w", err)
	}

	query := `
		INSERT INTO claims (
			id, patient_ref, payer_policy_id, diagnosis_codes, procedure_lines,
			service_date, billed_total, allowed_total, status,
			snapshot_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err = r.db.ExecContext(ctx, query,
		claim.ID,
		claim.PatientRef,
		claim.PayerPolicyID,
		diagJSON,
		linesJSON,
		claim.ServiceDate,
		claim.BilledTotal,
		claim.AllowedTotal,
		claim.Status,
		claim.SnapshotVersion,
		claim.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}

	r.logger.WithClaimID(claim.ID).Info("Claim created")
	return nil
}

// GetByID retrieves a claim by ID
func (r *Repository) GetByID(ctx context.Context, claimID string) (*types.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	claim, err := r.scanClaim(r.db.QueryRowContext(ctx, query, claimID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeClaimNotFound,
				"claim not found: "+claimID)
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

// UpdateDecision persists the adjudication outcome. The update is guarded by
// the expected current status so a concurrent writer can never overwrite a
// later state (single-writer discipline enforced at the store).
func (r *Repository) UpdateDecision(ctx context.Context, claim *types.Claim, expectedStatus types.ClaimStatus) error {
	if !types.CanTransition(expectedStatus, claim.Status) {
		return types.NewConflictError(types.ErrCodeIllegalTransition,
			fmt.Sprintf("illegal transition %s -> %s", expectedStatus, claim.Status))
	}

	linesJSON, err := json.Marshal(claim.ProcedureLines)
	if err != nil {
		return fmt.Errorf("failed to marshal procedure lines: %w", err)
	}
	flagsJSON, err := json.Marshal(claim.ReviewFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal review flags: %w", err)
	}

	query := `
		UPDATE claims SET
			procedure_lines = $1,
			billed_total = $2,
			allowed_total = $3,
			status = $4,
			decision_reason = $5,
			decision_detail = $6,
			review_flags = $7,
			snapshot_version = $8,
			decided_at = $9,
			updated_at = NOW()
		WHERE id = $10 AND status = $11`

	result, err := r.db.ExecContext(ctx, query,
		linesJSON,
		claim.BilledTotal,
		claim.AllowedTotal,
		claim.Status,
		claim.DecisionReason,
		claim.DecisionDetail,
		flagsJSON,
		claim.SnapshotVersion,
		claim.DecidedAt,
		claim.ID,
		expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim decision: %w", err)
	}
	if err := r.requireOneRow(result, claim.ID, expectedStatus, claim.Status); err != nil {
		return err
	}

	return r.appendHistory(ctx, claim.ID, expectedStatus, claim.Status, string(claim.DecisionReason))
}

// UpdateStatus moves a claim between states, guarded by the expected
// current status, and records the transition in the history table.
func (r *Repository) UpdateStatus(ctx context.Context, claimID string, from, to types.ClaimStatus, reason string) error {
	if !types.CanTransition(from, to) {
		return types.NewConflictError(types.ErrCodeIllegalTransition,
			fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	query := `UPDATE claims SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, to, claimID, from)
	if err != nil {
		return fmt.Errorf("failed to update claim status: %w", err)
	}
	if err := r.requireOneRow(result, claimID, from, to); err != nil {
		return err
	}

	r.logger.ClaimEvent(claimID, string(from), string(to), reason)
	return r.appendHistory(ctx, claimID, from, to, reason)
}

// MarkSettling moves a claim into settling and attaches the settlement
// transaction it is being paid under. Callable from approved (first
// dispatch) or settlement_failed (bounded retry).
func (r *Repository) MarkSettling(ctx context.Context, claimID string, from types.ClaimStatus, txID string) error {
	if !types.CanTransition(from, types.ClaimSettling) {
		return types.NewConflictError(types.ErrCodeIllegalTransition,
			fmt.Sprintf("illegal transition %s -> %s", from, types.ClaimSettling))
	}

	query := `
		UPDATE claims SET
			status = $1,
			settlement_tx_id = $2,
			updated_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, types.ClaimSettling, txID, claimID, from)
	if err != nil {
		return fmt.Errorf("failed to mark claim settling: %w", err)
	}
	if err := r.requireOneRow(result, claimID, from, types.ClaimSettling); err != nil {
		return err
	}

	r.logger.ClaimEvent(claimID, string(from), string(types.ClaimSettling), "")
	return r.appendHistory(ctx, claimID, from, types.ClaimSettling, "")
}

// MarkSettled stamps the settlement outcome on a settled claim
func (r *Repository) MarkSettled(ctx context.Context, claimID, txID string, settledAt time.Time) error {
	query := `
		UPDATE claims SET
			status = $1,
			settlement_tx_id = $2,
			settled_at = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, types.ClaimSettled, txID, settledAt, claimID, types.ClaimSettling)
	if err != nil {
		return fmt.Errorf("failed to mark claim settled: %w", err)
	}
	if err := r.requireOneRow(result, claimID, types.ClaimSettling, types.ClaimSettled); err != nil {
		return err
	}

	r.logger.ClaimEvent(claimID, string(types.ClaimSettling), string(types.ClaimSettled), "")
	return r.appendHistory(ctx, claimID, types.ClaimSettling, types.ClaimSettled, "")
}

// MarkSettlementFailed records a failed settlement attempt and the failure
// reason, incrementing the attempt counter.
func (r *Repository) MarkSettlementFailed(ctx context.Context, claimID, txID, reason string) error {
	query := `
		UPDATE claims SET
			status = $1,
			settlement_tx_id = $2,
			decision_detail = $3,
			settle_attempts = settle_attempts + 1,
			updated_at = NOW()
		WHERE id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, types.ClaimSettlementFailed, txID, reason, claimID, types.ClaimSettling)
	if err != nil {
		return fmt.Errorf("failed to mark settlement failed: %w", err)
	}
	if err := r.requireOneRow(result, claimID, types.ClaimSettling, types.ClaimSettlementFailed); err != nil {
		return err
	}

	r.logger.ClaimEvent(claimID, string(types.ClaimSettling), string(types.ClaimSettlementFailed), reason)
	return r.appendHistory(ctx, claimID, types.ClaimSettling, types.ClaimSettlementFailed, reason)
}

// FindDuplicates returns claims for the same patient sharing at least one
// procedure code with a service date inside the duplicate-detection window.
func (r *Repository) FindDuplicates(ctx context.Context, claim *types.Claim, window time.Duration) ([]*types.Claim, error) {
	codes := make([]string, 0, len(claim.ProcedureLines))
	for _, line := range claim.ProcedureLines {
		codes = append(codes, line.Code)
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal procedure codes: %w", err)
	}

	// A duplicate shares patient, service date (within the window), and at
	// least one procedure code.
	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE patient_ref = $1
		  AND id <> $2
		  AND service_date BETWEEN $3 AND $4
		  AND EXISTS (
			SELECT 1
			FROM jsonb_array_elements(procedure_lines) line
			WHERE line->>'code' IN (SELECT jsonb_array_elements_text($5::jsonb))
		  )`

	rows, err := r.db.QueryContext(ctx, query,
		claim.PatientRef,
		claim.ID,
		claim.ServiceDate.Add(-window),
		claim.ServiceDate.Add(window),
		codesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	defer rows.Close()

	return r.scanClaims(rows)
}

// List returns claims matching the given filters
func (r *Repository) List(ctx context.Context, filters *types.ClaimFilters) ([]*types.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filters.Status)
		argIndex++
	}
	if filters.PatientRef != "" {
		query += fmt.Sprintf(" AND patient_ref = $%d", argIndex)
		args = append(args, filters.PatientRef)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)
	argIndex++

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	return r.scanClaims(rows)
}

// FindStuckSettling returns claims left in settling longer than the grace
// period; the reconciliation sweep re-polls these.
func (r *Repository) FindStuckSettling(ctx context.Context, grace time.Duration) ([]*types.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status = $1 AND updated_at < $2`
	rows, err := r.db.QueryContext(ctx, query, types.ClaimSettling, time.Now().Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck settlements: %w", err)
	}
	defer rows.Close()

	return r.scanClaims(rows)
}

// History returns the status transition audit trail for a claim
func (r *Repository) History(ctx context.Context, claimID string) ([]*types.ClaimStatusChange, error) {
	query := `
		SELECT id, claim_id, from_status, to_status, reason, changed_at
		FROM claim_status_history
		WHERE claim_id = $1
		ORDER BY changed_at ASC`

	rows, err := r.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to get claim history: %w", err)
	}
	defer rows.Close()

	var changes []*types.ClaimStatusChange
	for rows.Next() {
		var c types.ClaimStatusChange
		var reason sql.NullString
		if err := rows.Scan(&c.ID, &c.ClaimID, &c.FromStatus, &c.ToStatus, &reason, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		c.Reason = reason.String
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

// CreateSettlementTx persists a new settlement transaction row. Rows are
// append-only; each dispatch attempt gets its own record for audit.
func (r *Repository) CreateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error {
	query := `
		INSERT INTO settlement_transactions (
			id, claim_id, amount, currency, recipient_account,
			idempotency_key, status, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.ClaimID,
		tx.Amount,
		tx.Currency,
		tx.RecipientAcct,
		tx.IdempotencyKey,
		tx.Status,
		tx.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create settlement transaction: %w", err)
	}
	return nil
}

// UpdateSettlementTx records the submitted chain hash or the final status
// of a settlement transaction.
func (r *Repository) UpdateSettlementTx(ctx context.Context, tx *types.SettlementTransaction) error {
	query := `
		UPDATE settlement_transactions SET
			chain_tx_hash = $1,
			confirmations = $2,
			status = $3,
			failure_reason = $4,
			finalized_at = $5
		WHERE id = $6`

	_, err := r.db.ExecContext(ctx, query,
		tx.ChainTxHash,
		tx.Confirmations,
		tx.Status,
		tx.FailureReason,
		tx.FinalizedAt,
		tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement transaction: %w", err)
	}
	return nil
}

// GetSettlementTx retrieves a settlement transaction by ID
func (r *Repository) GetSettlementTx(ctx context.Context, txID string) (*types.SettlementTransaction, error) {
	query := `
		SELECT id, claim_id, amount, currency, recipient_account, idempotency_key,
			   chain_tx_hash, confirmations, status, failure_reason, submitted_at, finalized_at
		FROM settlement_transactions
		WHERE id = $1`

	var tx types.SettlementTransaction
	var chainHash, failureReason sql.NullString
	var finalizedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, txID).Scan(
		&tx.ID,
		&tx.ClaimID,
		&tx.Amount,
		&tx.Currency,
		&tx.RecipientAcct,
		&tx.IdempotencyKey,
		&chainHash,
		&tx.Confirmations,
		&tx.Status,
		&failureReason,
		&tx.SubmittedAt,
		&finalizedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeClaimNotFound,
				"settlement transaction not found: "+txID)
		}
		return nil, fmt.Errorf("failed to get settlement transaction: %w", err)
	}

	tx.ChainTxHash = chainHash.String
	tx.FailureReason = failureReason.String
	if finalizedAt.Valid {
		tx.FinalizedAt = &finalizedAt.Time
	}
	return &tx, nil
}

// appendHistory records one transition in the audit table
func (r *Repository) appendHistory(ctx context.Context, claimID string, from, to types.ClaimStatus, reason string) error {
	query := `
		INSERT INTO claim_status_history (id, claim_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, uuid.New().String(), claimID, from, to, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// requireOneRow converts a zero-row guarded update into a conflict error
func (r *Repository) requireOneRow(result sql.Result, claimID string, from, to types.ClaimStatus) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return types.NewConflictError(types.ErrCodeIllegalTransition,
			fmt.Sprintf("claim %s is no longer in status %s; cannot move to %s", claimID, from, to))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanClaim scans one claim row
func (r *Repository) scanClaim(row rowScanner) (*types.Claim, error) {
	var claim types.Claim
	var diagJSON, linesJSON []byte
	var flagsJSON []byte
	var decisionReason, decisionDetail, settlementTxID sql.NullString
	var decidedAt, settledAt sql.NullTime

	err := row.Scan(
		&claim.ID,
		&claim.PatientRef,
		&claim.PayerPolicyID,
		&diagJSON,
		&linesJSON,
		&claim.ServiceDate,
		&claim.BilledTotal,
		&claim.AllowedTotal,
		&claim.Status,
		&decisionReason,
		&decisionDetail,
		&flagsJSON,
		&settlementTxID,
		&claim.SettleAttempts,
		&claim.SnapshotVersion,
		&claim.CreatedAt,
		&decidedAt,
		&settledAt,
		&claim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(diagJSON, &claim.DiagnosisCodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal diagnosis codes: %w", err)
	}
	if err := json.Unmarshal(linesJSON, &claim.ProcedureLines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal procedure lines: %w", err)
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &claim.ReviewFlags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review flags: %w", err)
		}
	}

	claim.DecisionReason = types.DecisionReason(decisionReason.String)
	claim.DecisionDetail = decisionDetail.String
	claim.SettlementTxID = settlementTxID.String
	if decidedAt.Valid {
		claim.DecidedAt = &decidedAt.Time
	}
	if settledAt.Valid {
		claim.SettledAt = &settledAt.Time
	}

	return &claim, nil
}

// scanClaims scans a claim result set
func (r *Repository) scanClaims(rows *sql.Rows) ([]*types.Claim, error) {
	var claims []*types.Claim
	for rows.Next() {
		claim, err := r.scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim row: %w", err)
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}
