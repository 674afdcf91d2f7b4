package database

import "fmt"

// schemaStatements contains the DDL for the claims engine tables.
// Reference tables (catalogs, fee schedule, payer policies) are written by
// an external pricing/coding-maintenance process; this engine only reads
// versioned snapshots of them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS claims (
		id UUID PRIMARY KEY,
		patient_ref VARCHAR(64) NOT NULL,
		payer_policy_id VARCHAR(64) NOT NULL,
		diagnosis_codes JSONB NOT NULL,
		procedure_lines JSONB NOT NULL,
		service_date DATE NOT NULL,
		billed_total BIGINT NOT NULL,
		allowed_total BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		decision_reason VARCHAR(64),
		decision_detail TEXT,
		review_flags JSONB,
		settlement_tx_id UUID,
		settle_attempts INT NOT NULL DEFAULT 0,
		snapshot_version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		decided_at TIMESTAMPTZ,
		settled_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_patient_service ON claims(patient_ref, service_date)`,

	`CREATE TABLE IF NOT EXISTS claim_status_history (
		id UUID PRIMARY KEY,
		claim_id UUID NOT NULL REFERENCES claims(id),
		from_status VARCHAR(32) NOT NULL,
		to_status VARCHAR(32) NOT NULL,
		reason TEXT,
		changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_status_history_claim ON claim_status_history(claim_id)`,

	`CREATE TABLE IF NOT EXISTS settlement_transactions (
		id UUID PRIMARY KEY,
		claim_id UUID NOT NULL REFERENCES claims(id),
		amount BIGINT NOT NULL,
		currency VARCHAR(16) NOT NULL,
		recipient_account VARCHAR(128) NOT NULL,
		idempotency_key VARCHAR(128) NOT NULL,
		chain_tx_hash VARCHAR(128),
		confirmations INT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		failure_reason TEXT,
		submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finalized_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_settlement_claim ON settlement_transactions(claim_id)`,

	`CREATE TABLE IF NOT EXISTS diagnosis_codes (
		code VARCHAR(16) PRIMARY KEY,
		description TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS procedure_codes (
		code VARCHAR(16) PRIMARY KEY,
		description TEXT NOT NULL,
		repeatable BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS fee_schedule_entries (
		policy_id VARCHAR(64) NOT NULL,
		procedure_code VARCHAR(16) NOT NULL,
		allowed_amount BIGINT NOT NULL,
		modifier_pct INT NOT NULL DEFAULT 100,
		effective_from DATE NOT NULL,
		effective_to DATE,
		PRIMARY KEY (policy_id, procedure_code, effective_from)
	)`,

	`CREATE TABLE IF NOT EXISTS payer_policies (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		auto_approval_threshold BIGINT NOT NULL,
		default_rate BIGINT NOT NULL DEFAULT 0,
		multi_proc_reduction_pct INT NOT NULL DEFAULT 50,
		settlement_account VARCHAR(128) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS policy_exclusions (
		policy_id VARCHAR(64) NOT NULL REFERENCES payer_policies(id),
		diagnosis_code VARCHAR(16) NOT NULL,
		procedure_code VARCHAR(16) NOT NULL,
		PRIMARY KEY (policy_id, diagnosis_code, procedure_code)
	)`,
}

// InitSchema creates the claims engine tables if they do not exist
func (db *DB) InitSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	db.logger.Info("Database schema initialized")
	return nil
}
