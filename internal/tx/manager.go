// Package tx coordinates writes that must land in both the archive and the
// index as a single unit (spec §4.C). Durability comes from the tx_log
// table, not from a separate WAL file: a transaction's phase is advanced
// only after the step it names has actually completed, so a crash at any
// point leaves a row recovery can resume from.
package tx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/archive"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/marshal"
	"github.com/greenforestpath/meta-skill-sub001/internal/quality"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/slicer"
)

// Manager coordinates Archive + Index writes under the tx_log.
type Manager struct {
	archive *archive.Archive
	idx     *index.Store
	log     zerolog.Logger
}

// New builds a Manager over an already-open Archive and Index.
func New(a *archive.Archive, idx *index.Store, logger zerolog.Logger) *Manager {
	return &Manager{archive: a, idx: idx, log: logger.With().Str("component", "tx").Logger()}
}

// putPlan is the durable, replayable description of a skill-write
// transaction's index mutation, serialized into tx_log.index_plan so
// recovery can finish a transaction that crashed after the archive commit
// but before the index update landed.
type putPlan struct {
	Action string      `json:"action"`
	Skill  skill.Skill `json:"skill"`
}

// deletePlan is the replayable description for a delete transaction.
type deletePlan struct {
	Action  string      `json:"action"`
	SkillID string      `json:"skill_id"`
	Layer   skill.Layer `json:"layer"`
}

// WriteSkill stages files, commits them to the archive, and upserts the
// index row as one coordinated transaction.
func (m *Manager) WriteSkill(ctx context.Context, sk skill.Skill, files map[string][]byte, action, authorName, authorEmail string) (string, error) {
	txID := uuid.NewString()
	contentHash := hashFiles(files)
	sk.ContentHash = contentHash
	if raw, ok := files["SKILL.md"]; ok {
		if spec, err := marshal.DecodeSkillSpec(raw); err == nil {
			sk.Derived.QualityScore = quality.Score(sk.Body, slicer.Slice(spec))
		}
	}

	stageDir, err := m.archive.StageDir()
	if err != nil {
		return "", err
	}
	if err := writeStagedFiles(stageDir, files); err != nil {
		_ = m.archive.AbandonStage(stageDir)
		return "", err
	}

	planJSON, err := json.Marshal(putPlan{Action: "put", Skill: sk})
	if err != nil {
		_ = m.archive.AbandonStage(stageDir)
		return "", apperr.Wrap(apperr.Invalid, err, "marshal tx plan")
	}

	rec := skill.TxRecord{ID: txID, EntityType: "skill", Phase: skill.TxPrepared, StagedPaths: []string{stageDir}, IndexPlan: string(planJSON)}
	if err := m.idx.InsertTxRecord(ctx, rec); err != nil {
		_ = m.archive.AbandonStage(stageDir)
		return "", err
	}

	commitHash, err := m.archive.Put(sk.ID, sk.Provenance.Layer, stageDir, action, contentHash, authorName, authorEmail)
	if err != nil {
		_ = m.idx.AdvanceTxPhase(ctx, txID, skill.TxRolledBack)
		return "", apperr.Wrap(apperr.TxConflict, err, "commit to archive").WithContext("tx_id", txID)
	}
	sk.Provenance.GitCommit = commitHash
	if err := m.idx.AdvanceTxPhase(ctx, txID, skill.TxArchived); err != nil {
		m.log.Warn().Str("tx_id", txID).Err(err).Msg("failed to record archived phase; archive commit already durable")
	}

	if err := m.idx.UpsertSkill(ctx, sk); err != nil {
		return commitHash, apperr.Wrap(apperr.TxConflict, err, "update index after archive commit").
			WithContext("tx_id", txID)
	}
	if err := m.idx.InvalidateResolvedCache(ctx, sk.ID); err != nil {
		m.log.Warn().Str("skill_id", sk.ID).Err(err).Msg("failed to invalidate resolved cache")
	}
	if err := m.idx.AdvanceTxPhase(ctx, txID, skill.TxCommitted); err != nil {
		m.log.Warn().Str("tx_id", txID).Err(err).Msg("failed to record committed phase; index update already durable")
	}

	return commitHash, nil
}

// DeleteSkill removes a skill from both subsystems as one transaction.
func (m *Manager) DeleteSkill(ctx context.Context, skillID string, layer skill.Layer, authorName, authorEmail string) error {
	txID := uuid.NewString()

	planJSON, err := json.Marshal(deletePlan{Action: "delete", SkillID: skillID, Layer: layer})
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal delete plan")
	}

	rec := skill.TxRecord{ID: txID, EntityType: "skill", Phase: skill.TxPrepared, IndexPlan: string(planJSON)}
	if err := m.idx.InsertTxRecord(ctx, rec); err != nil {
		return err
	}

	if _, err := m.archive.Delete(skillID, layer, authorName, authorEmail); err != nil {
		_ = m.idx.AdvanceTxPhase(ctx, txID, skill.TxRolledBack)
		return apperr.Wrap(apperr.TxConflict, err, "delete from archive").WithContext("tx_id", txID)
	}
	if err := m.idx.AdvanceTxPhase(ctx, txID, skill.TxArchived); err != nil {
		m.log.Warn().Str("tx_id", txID).Err(err).Msg("failed to record archived phase")
	}

	if err := m.idx.DeleteSkill(ctx, skillID, layer); err != nil {
		return apperr.Wrap(apperr.TxConflict, err, "delete from index").WithContext("tx_id", txID)
	}
	if err := m.idx.AdvanceTxPhase(ctx, txID, skill.TxCommitted); err != nil {
		m.log.Warn().Str("tx_id", txID).Err(err).Msg("failed to record committed phase")
	}
	return nil
}

// Recover finishes or rolls back every transaction not in a terminal
// phase. Prepared transactions (crashed before the archive commit) are
// rolled back: their staged files never became visible to Get/History, so
// abandoning the stage directory is safe. Archived transactions (crashed
// after the archive commit but before the index update) are replayed by
// re-applying the stored plan idempotently.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	pending, err := m.idx.ListPendingTx(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range pending {
		switch rec.Phase {
		case skill.TxPrepared:
			for _, p := range rec.StagedPaths {
				_ = m.archive.AbandonStage(p)
			}
			if err := m.idx.AdvanceTxPhase(ctx, rec.ID, skill.TxRolledBack); err != nil {
				return recovered, err
			}
			recovered++
		case skill.TxArchived:
			if err := m.replayArchived(ctx, rec); err != nil {
				return recovered, apperr.Wrap(apperr.TxAbandoned, err, "replay archived transaction").WithContext("tx_id", rec.ID)
			}
			if err := m.idx.AdvanceTxPhase(ctx, rec.ID, skill.TxCommitted); err != nil {
				return recovered, err
			}
			recovered++
		}
	}
	return recovered, nil
}

func (m *Manager) replayArchived(ctx context.Context, rec skill.TxRecord) error {
	var put putPlan
	if err := json.Unmarshal([]byte(rec.IndexPlan), &put); err == nil && put.Action == "put" {
		if err := m.idx.UpsertSkill(ctx, put.Skill); err != nil {
			return err
		}
		return m.idx.InvalidateResolvedCache(ctx, put.Skill.ID)
	}

	var del deletePlan
	if err := json.Unmarshal([]byte(rec.IndexPlan), &del); err == nil && del.Action == "delete" {
		return m.idx.DeleteSkill(ctx, del.SkillID, del.Layer)
	}

	return apperr.New(apperr.TxAbandoned, "unrecognized tx plan").WithContext("tx_id", rec.ID)
}

func hashFiles(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(files[name])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeStagedFiles(stageDir string, files map[string][]byte) error {
	for name, content := range files {
		full := filepath.Join(stageDir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return apperr.Wrap(apperr.ArchiveOpen, err, "create staged file directory")
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return apperr.Wrap(apperr.ArchiveOpen, err, "write staged file").WithContext("name", name)
		}
	}
	return nil
}
