package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// InsertTxRecord writes a new transaction log row in the phase rec carries.
func (s *Store) InsertTxRecord(ctx context.Context, rec skill.TxRecord) error {
	paths, err := json.Marshal(rec.StagedPaths)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal staged paths")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_log (id, entity_type, phase, staged_paths_json, index_plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EntityType, string(rec.Phase), string(paths), rec.IndexPlan, now, now)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "insert tx record").WithContext("tx_id", rec.ID)
	}
	return nil
}

// AdvanceTxPhase moves a transaction to a new phase.
func (s *Store) AdvanceTxPhase(ctx context.Context, id string, phase skill.TxPhase) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tx_log SET phase = ?, updated_at = ? WHERE id = ?`,
		string(phase), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "advance tx phase").WithContext("tx_id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "check tx update result")
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "transaction not found").WithContext("tx_id", id)
	}
	return nil
}

// GetTxRecord returns a single transaction log row.
func (s *Store) GetTxRecord(ctx context.Context, id string) (*skill.TxRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, entity_type, phase, staged_paths_json, index_plan, created_at, updated_at FROM tx_log WHERE id = ?`, id)
	rec, err := scanTxRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "transaction not found").WithContext("tx_id", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "scan tx record")
	}
	return rec, nil
}

// ListPendingTx returns every transaction not yet in a terminal phase
// (Committed or RolledBack), the crash-recovery worklist.
func (s *Store) ListPendingTx(ctx context.Context) ([]skill.TxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, phase, staged_paths_json, index_plan, created_at, updated_at
		FROM tx_log WHERE phase NOT IN (?, ?) ORDER BY created_at
	`, string(skill.TxCommitted), string(skill.TxRolledBack))
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list pending transactions")
	}
	defer rows.Close()

	var out []skill.TxRecord
	for rows.Next() {
		rec, err := scanTxRecord(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan tx record")
		}
		out = append(out, *rec)
	}
	return out, nil
}

func scanTxRecord(r rowScanner) (*skill.TxRecord, error) {
	var rec skill.TxRecord
	var phase, paths, createdAt, updatedAt string
	if err := r.Scan(&rec.ID, &rec.EntityType, &phase, &paths, &rec.IndexPlan, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Phase = skill.TxPhase(phase)
	if err := json.Unmarshal([]byte(paths), &rec.StagedPaths); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}
