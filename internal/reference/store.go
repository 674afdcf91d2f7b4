package reference

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/database"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/monitoring"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// Store publishes immutable, versioned reference snapshots of the coding
// catalogs, fee schedule, and payer policies. Readers capture one snapshot
// for the duration of a claim pipeline run; a concurrent Refresh publishes
// a new snapshot instead of mutating the old one.
type Store struct {
	db      *database.DB
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	current atomic.Pointer[types.ReferenceSnapshot]
	version atomic.Int64
}

// NewStore creates a reference snapshot store
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log,
	}
}

// SetMetrics wires the metrics collector so snapshot versions are exported
func (s *Store) SetMetrics(m *monitoring.MetricsCollector) {
	s.metrics = m
}

// Current returns the active snapshot. Refresh must have succeeded at least
// once before Current is called.
func (s *Store) Current() *types.ReferenceSnapshot {
	return s.current.Load()
}

// Refresh rebuilds the snapshot from the reference tables and publishes it
// under a new version.
func (s *Store) Refresh(ctx context.Context) (*types.ReferenceSnapshot, error) {
	snap := &types.ReferenceSnapshot{
		Version:        s.version.Add(1),
		LoadedAt:       time.Now(),
		DiagnosisCodes: make(map[string]types.DiagnosisCode),
		ProcedureCodes: make(map[string]types.ProcedureCode),
		FeeSchedule:    make(map[string]map[string][]types.FeeScheduleEntry),
		Policies:       make(map[string]types.PayerPolicy),
	}

	if err := s.loadDiagnosisCodes(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to load diagnosis codes: %w", err)
	}
	if err := s.loadProcedureCodes(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to load procedure codes: %w", err)
	}
	if err := s.loadFeeSchedule(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to load fee schedule: %w", err)
	}
	if err := s.loadPolicies(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to load payer policies: %w", err)
	}

	s.current.Store(snap)
	if s.metrics != nil {
		s.metrics.SetSnapshotVersion(snap.Version)
	}
	s.logger.WithFields(map[string]interface{}{
		"version":         snap.Version,
		"diagnosis_codes": len(snap.DiagnosisCodes),
		"procedure_codes": len(snap.ProcedureCodes),
		"policies":        len(snap.Policies),
	}).Info("Reference snapshot published")

	return snap, nil
}

// RunRefreshLoop refreshes the snapshot on a fixed interval until the
// context is cancelled.
func (s *Store) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				// Keep serving the last good snapshot.
				s.logger.WithError(err).Error("Reference snapshot refresh failed")
			}
		}
	}
}

func (s *Store) loadDiagnosisCodes(ctx context.Context, snap *types.ReferenceSnapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT code, description FROM diagnosis_codes`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var dc types.DiagnosisCode
		if err := rows.Scan(&dc.Code, &dc.Description); err != nil {
			return err
		}
		snap.DiagnosisCodes[dc.Code] = dc
	}
	return rows.Err()
}

func (s *Store) loadProcedureCodes(ctx context.Context, snap *types.ReferenceSnapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT code, description, repeatable FROM procedure_codes`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pc types.ProcedureCode
		if err := rows.Scan(&pc.Code, &pc.Description, &pc.Repeatable); err != nil {
			return err
		}
		snap.ProcedureCodes[pc.Code] = pc
	}
	return rows.Err()
}

func (s *Store) loadFeeSchedule(ctx context.Context, snap *types.ReferenceSnapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, procedure_code, allowed_amount, modifier_pct, effective_from, effective_to
		FROM fee_schedule_entries`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entry types.FeeScheduleEntry
		var effectiveTo sql.NullTime
		if err := rows.Scan(
			&entry.PolicyID,
			&entry.ProcedureCode,
			&entry.AllowedAmount,
			&entry.ModifierPct,
			&entry.EffectiveFrom,
			&effectiveTo,
		); err != nil {
			return err
		}
		if effectiveTo.Valid {
			entry.EffectiveTo = effectiveTo.Time
		}

		byCode, ok := snap.FeeSchedule[entry.PolicyID]
		if !ok {
			byCode = make(map[string][]types.FeeScheduleEntry)
			snap.FeeSchedule[entry.PolicyID] = byCode
		}
		byCode[entry.ProcedureCode] = append(byCode[entry.ProcedureCode], entry)
	}
	return rows.Err()
}

func (s *Store) loadPolicies(ctx context.Context, snap *types.ReferenceSnapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, auto_approval_threshold, default_rate, multi_proc_reduction_pct, settlement_account
		FROM payer_policies`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p types.PayerPolicy
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.AutoApprovalThreshold,
			&p.DefaultRate,
			&p.MultiProcReductionPct,
			&p.SettlementAccount,
		); err != nil {
			return err
		}
		snap.Policies[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return err
	}

	exclusions, err := s.db.QueryContext(ctx, `
		SELECT policy_id, diagnosis_code, procedure_code FROM policy_exclusions`)
	if err != nil {
		return err
	}
	defer exclusions.Close()

	for exclusions.Next() {
		var policyID string
		var pair types.ExclusionPair
		if err := exclusions.Scan(&policyID, &pair.DiagnosisCode, &pair.ProcedureCode); err != nil {
			return err
		}
		if p, ok := snap.Policies[policyID]; ok {
			p.Exclusions = append(p.Exclusions, pair)
			snap.Policies[policyID] = p
		}
	}
	return exclusions.Err()
}
