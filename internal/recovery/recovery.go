// Package recovery implements the doctor workflow (spec §4.M): a fixed
// sequence of checks over the lock, transaction log, archive staging area,
// and index that detects and optionally repairs the state a crash or a
// killed process can leave behind.
package recovery

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/archive"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/lock"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/tx"
)

// Severity classifies an Issue for reporting and exit-code purposes.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityFail Severity = "fail"
)

// Issue is one finding from a single check.
type Issue struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Fixed    bool     `json:"fixed"`
}

// DoctorReport summarizes one doctor run across every check.
type DoctorReport struct {
	Issues     []Issue                  `json:"issues"`
	FixedCount int                      `json:"fixed_count"`
	Durations  map[string]time.Duration `json:"durations"`
}

// Manager runs the doctor checks against one workspace's durable store.
type Manager struct {
	workspaceRoot string
	lockPath      string
	archive       *archive.Archive
	idx           *index.Store
	txMgr         *tx.Manager
	log           zerolog.Logger
}

// New builds a Manager over an already-open archive, index, and tx manager.
func New(workspaceRoot, lockPath string, a *archive.Archive, idx *index.Store, txMgr *tx.Manager, logger zerolog.Logger) *Manager {
	return &Manager{
		workspaceRoot: workspaceRoot,
		lockPath:      lockPath,
		archive:       a,
		idx:           idx,
		txMgr:         txMgr,
		log:           logger.With().Str("component", "recovery").Logger(),
	}
}

// checkFunc runs one doctor check. fix controls whether the check may
// mutate state to repair what it finds; comprehensive controls whether
// expensive checks (SQLite integrity) run at all.
type checkFunc func(ctx context.Context, m *Manager, fix, comprehensive bool) ([]Issue, error)

// order matches the spec's fixed check sequence: lock liveness first (it
// gates everything else that might want to write), then the two-phase
// commit log, then orphaned archive state, then the index/archive cross
// check, then cache staleness, then SQLite's own integrity check last since
// it is the most expensive.
var order = []struct {
	name string
	fn   checkFunc
}{
	{"lock", checkLock},
	{"tx_log", checkTxLog},
	{"orphaned_stages", checkOrphanedStages},
	{"index_archive_consistency", checkIndexArchiveConsistency},
	{"resolved_cache", checkResolvedCache},
	{"sqlite_integrity", checkSQLiteIntegrity},
}

// Doctor runs every check in order, collecting issues and optionally
// fixing what it can. A check's own error (distinct from an Issue, which is
// an expected finding) aborts the remaining checks; each subsystem's
// component is assumed already open and consistent enough to inspect.
func (m *Manager) Doctor(ctx context.Context, comprehensive, fix bool) (*DoctorReport, error) {
	report := &DoctorReport{Durations: map[string]time.Duration{}}

	for _, c := range order {
		start := time.Now()
		issues, err := c.fn(ctx, m, fix, comprehensive)
		report.Durations[c.name] = time.Since(start)
		if err != nil {
			return report, apperr.Wrap(apperr.Invalid, err, "doctor check failed").WithContext("check", c.name)
		}
		for _, iss := range issues {
			if iss.Fixed {
				report.FixedCount++
			}
			report.Issues = append(report.Issues, iss)
		}
	}
	return report, nil
}

func checkLock(_ context.Context, m *Manager, fix, _ bool) ([]Issue, error) {
	payload, err := lock.Status(m.lockPath)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	if !lock.IsStale(payload) {
		return nil, nil
	}

	issue := Issue{Check: "lock", Severity: SeverityWarn,
		Message: "workspace lock is held by a process that is no longer running"}
	if fix {
		if err := lock.BreakLock(m.lockPath); err != nil {
			return nil, err
		}
		issue.Fixed = true
	}
	return []Issue{issue}, nil
}

func checkTxLog(ctx context.Context, m *Manager, fix, _ bool) ([]Issue, error) {
	pending, err := m.idx.ListPendingTx(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	issue := Issue{Check: "tx_log", Severity: SeverityWarn,
		Message: sizedMessage("uncommitted transaction(s) pending", len(pending))}
	if fix {
		n, err := m.txMgr.Recover(ctx)
		if err != nil {
			return nil, err
		}
		issue.Fixed = n == len(pending)
	}
	return []Issue{issue}, nil
}

func checkOrphanedStages(ctx context.Context, m *Manager, fix, _ bool) ([]Issue, error) {
	pending, err := m.idx.ListPendingTx(ctx)
	if err != nil {
		return nil, err
	}
	keep := map[string]bool{}
	for _, rec := range pending {
		for _, p := range rec.StagedPaths {
			keep[p] = true
		}
	}

	if !fix {
		all, err := m.archive.StagedDirs()
		if err != nil {
			return nil, err
		}
		orphaned := 0
		for _, dir := range all {
			if !keep[dir] {
				orphaned++
			}
		}
		if orphaned == 0 {
			return nil, nil
		}
		return []Issue{{Check: "orphaned_stages", Severity: SeverityWarn,
			Message: sizedMessage("orphaned staging director(ies) from an interrupted write", orphaned)}}, nil
	}

	removed, err := m.archive.CleanOrphanedStages(keep)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	return []Issue{{Check: "orphaned_stages", Severity: SeverityWarn,
		Message: sizedMessage("orphaned staging director(ies) removed", len(removed)), Fixed: true}}, nil
}

func checkIndexArchiveConsistency(ctx context.Context, m *Manager, fix, _ bool) ([]Issue, error) {
	var issues []Issue
	for _, layer := range []skill.Layer{skill.LayerBase, skill.LayerOrg, skill.LayerProject, skill.LayerUser} {
		skills, err := m.idx.ListSkills(ctx, layer)
		if err != nil {
			return nil, err
		}
		for _, sk := range skills {
			if _, err := m.archive.Get(sk.ID, layer, ""); err != nil {
				issue := Issue{Check: "index_archive_consistency", Severity: SeverityFail,
					Message: "index references a skill the archive no longer has: " + sk.ID}
				if fix {
					if err := m.idx.DeleteSkill(ctx, sk.ID, layer); err != nil {
						return nil, err
					}
					issue.Fixed = true
				}
				issues = append(issues, issue)
			}
		}
	}
	return issues, nil
}

func checkResolvedCache(ctx context.Context, m *Manager, fix, _ bool) ([]Issue, error) {
	// A resolved-spec cache row is stale the moment its skill's content
	// hash changes; InvalidateResolvedCache is keyed by skill id and is
	// idempotent, so running it for every known skill is a safe blanket
	// sweep rather than a targeted diff against stored content hashes.
	if !fix {
		return nil, nil
	}
	for _, layer := range []skill.Layer{skill.LayerBase, skill.LayerOrg, skill.LayerProject, skill.LayerUser} {
		skills, err := m.idx.ListSkills(ctx, layer)
		if err != nil {
			return nil, err
		}
		for _, sk := range skills {
			if err := m.idx.InvalidateResolvedCache(ctx, sk.ID); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func checkSQLiteIntegrity(ctx context.Context, m *Manager, _, comprehensive bool) ([]Issue, error) {
	if !comprehensive {
		return nil, nil
	}
	row := m.idx.DB().QueryRowContext(ctx, `PRAGMA integrity_check`)
	var result string
	if err := row.Scan(&result); err != nil {
		return nil, apperr.Wrap(apperr.DbIntegrity, err, "run sqlite integrity check")
	}
	if result == "ok" {
		return nil, nil
	}
	return []Issue{{Check: "sqlite_integrity", Severity: SeverityFail,
		Message: "sqlite integrity_check reported: " + result}}, nil
}

func sizedMessage(suffix string, n int) string {
	return strconv.Itoa(n) + " " + suffix
}
