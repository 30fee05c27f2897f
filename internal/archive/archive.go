// Package archive implements the content-addressed, commit-addressable
// store of skill sources (spec §4.A). Every Put produces exactly one Git
// commit with a structured message; writes are staged into a scratch
// directory and promoted atomically so a crash mid-write leaves no partial
// skill directory visible.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// CommitInfo is one entry in a skill's history.
type CommitInfo struct {
	Hash    string
	Message string
	When    time.Time
}

// Archive wraps a plain (non-bare) Git repository rooted at <workspace>/archive.
type Archive struct {
	root string
	repo *git.Repository
	log  zerolog.Logger
}

const stagingDirName = ".archive-stage"

// Open opens the archive at root, initializing a fresh Git repository if
// one is not already present.
func Open(root string, logger zerolog.Logger) (*Archive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.ArchiveOpen, err, "create archive root").WithContext("path", root)
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, apperr.Wrap(apperr.ArchiveOpen, err, "open archive repository").WithContext("path", root)
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, apperr.Wrap(apperr.ArchiveOpen, err, "initialize archive repository").WithContext("path", root)
		}
	}

	return &Archive{root: root, repo: repo, log: logger.With().Str("component", "archive").Logger()}, nil
}

// skillDir returns the on-disk directory for a skill under its layer.
func skillDir(root string, layer skill.Layer, id string) string {
	return filepath.Join(root, string(layer), id)
}

// StageDir allocates a fresh scratch directory for a pending write. The
// caller writes files here, then calls Put with the same directory; Put
// consumes it by renaming it into place. A Put that fails before the
// rename leaves it behind; AbandonStage removes it.
func (a *Archive) StageDir() (string, error) {
	dir := filepath.Join(a.root, stagingDirName, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "create staging directory")
	}
	return dir, nil
}

// AbandonStage removes a staging directory without promoting it (used on
// write failure and by RecoveryManager for orphaned directories).
func (a *Archive) AbandonStage(stageDir string) error {
	return os.RemoveAll(stageDir)
}

// Put promotes files from stageDir into <layer>/<id>/ and produces exactly
// one commit with message "<action>:<skill_id>:<hash>". Promotion is a
// directory rename (atomic on the same filesystem); the staged directory
// is never visible under the skill's path until the rename completes.
func (a *Archive) Put(skillID string, layer skill.Layer, stageDir, action, contentHash, authorName, authorEmail string) (string, error) {
	dest := skillDir(a.root, layer, skillID)

	if err := os.RemoveAll(dest); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "clear previous skill directory").WithContext("skill_id", skillID)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "create layer directory")
	}
	if err := os.Rename(stageDir, dest); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "promote staged skill directory").WithContext("skill_id", skillID)
	}

	wt, err := a.repo.Worktree()
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "open worktree")
	}

	relDest, err := filepath.Rel(a.root, dest)
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "relativize skill path")
	}
	if _, err := wt.Add(relDest); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "stage skill files").WithContext("skill_id", skillID)
	}

	msg := fmt.Sprintf("%s:%s:%s", action, skillID, contentHash)
	sig := &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()}
	commitHash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "commit skill write").WithContext("skill_id", skillID)
	}

	a.log.Info().Str("skill_id", skillID).Str("commit", commitHash.String()).Str("action", action).Msg("archive put")
	return commitHash.String(), nil
}

// Delete removes a skill's directory and commits the removal with message
// "delete:<skill_id>:tombstone".
func (a *Archive) Delete(skillID string, layer skill.Layer, authorName, authorEmail string) (string, error) {
	dest := skillDir(a.root, layer, skillID)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return "", apperr.New(apperr.NotFound, "skill not present in archive").WithContext("skill_id", skillID)
	}

	wt, err := a.repo.Worktree()
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "open worktree")
	}

	relDest, err := filepath.Rel(a.root, dest)
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "relativize skill path")
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "remove skill directory")
	}
	if _, err := wt.Remove(relDest); err != nil && err != git.ErrGlobNoMatches {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "stage skill removal")
	}

	msg := fmt.Sprintf("delete:%s:tombstone", skillID)
	sig := &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()}
	commitHash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveOpen, err, "commit skill deletion")
	}
	return commitHash.String(), nil
}

// Get returns the skill's files at ref (the HEAD commit if ref is empty).
func (a *Archive) Get(skillID string, layer skill.Layer, ref string) (map[string][]byte, error) {
	var tree *object.Tree
	var err error

	if ref == "" {
		wt, wErr := a.repo.Worktree()
		if wErr != nil {
			return nil, apperr.Wrap(apperr.ArchiveOpen, wErr, "open worktree")
		}
		_ = wt
		head, hErr := a.repo.Head()
		if hErr != nil {
			return nil, apperr.Wrap(apperr.NotFound, hErr, "resolve HEAD")
		}
		commit, cErr := a.repo.CommitObject(head.Hash())
		if cErr != nil {
			return nil, apperr.Wrap(apperr.ArchiveCorrupt, cErr, "load HEAD commit")
		}
		tree, err = commit.Tree()
	} else {
		commit, cErr := a.repo.CommitObject(plumbing.NewHash(ref))
		if cErr != nil {
			return nil, apperr.Wrap(apperr.NotFound, cErr, "resolve commit").WithContext("ref", ref)
		}
		tree, err = commit.Tree()
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, err, "load commit tree")
	}

	prefix := filepath.Join(string(layer), skillID) + string(filepath.Separator)
	out := make(map[string][]byte)
	iter := tree.Files()
	defer iter.Close()
	walkErr := iter.ForEach(func(f *object.File) error {
		if len(f.Name) < len(prefix) || f.Name[:len(prefix)] != prefix {
			return nil
		}
		content, err := f.Contents()
		if err != nil {
			return err
		}
		out[f.Name[len(prefix):]] = []byte(content)
		return nil
	})
	if walkErr != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, walkErr, "read skill files")
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.NotFound, "skill not found in archive").WithContext("skill_id", skillID)
	}
	return out, nil
}

// History returns up to limit commits touching this skill's directory,
// most recent first.
func (a *Archive) History(skillID string, layer skill.Layer, limit int) ([]CommitInfo, error) {
	path := filepath.Join(string(layer), skillID)
	iter, err := a.repo.Log(&git.LogOptions{FileName: &path})
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, err, "walk history").WithContext("skill_id", skillID)
	}
	defer iter.Close()

	var out []CommitInfo
	walkErr := iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return fmt.Errorf("stop") //nolint:goerr113 // sentinel to break ForEach early
		}
		out = append(out, CommitInfo{Hash: c.Hash.String(), Message: c.Message, When: c.Author.When})
		return nil
	})
	if walkErr != nil && walkErr.Error() != "stop" {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, walkErr, "walk history")
	}
	return out, nil
}

// Diff returns a unified diff between two commits.
func (a *Archive) Diff(fromRef, toRef string) (string, error) {
	from, err := a.repo.CommitObject(plumbing.NewHash(fromRef))
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, err, "resolve from commit")
	}
	to, err := a.repo.CommitObject(plumbing.NewHash(toRef))
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, err, "resolve to commit")
	}
	patch, err := from.Patch(to)
	if err != nil {
		return "", apperr.Wrap(apperr.ArchiveCorrupt, err, "compute diff")
	}
	return patch.String(), nil
}

// Checkout hard-resets the worktree to commitID. Used only by crash
// recovery; ordinary reads use Get with an explicit ref instead.
func (a *Archive) Checkout(commitID string) error {
	wt, err := a.repo.Worktree()
	if err != nil {
		return apperr.Wrap(apperr.ArchiveOpen, err, "open worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commitID), Force: true}); err != nil {
		return apperr.Wrap(apperr.ArchiveCorrupt, err, "checkout commit").WithContext("commit", commitID)
	}
	return nil
}

// Head returns the current HEAD commit hash, or "" on an empty repository.
func (a *Archive) Head() string {
	head, err := a.repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// StagedDirs lists every staging directory currently on disk, without
// removing any of them (RecoveryManager's read-only pass).
func (a *Archive) StagedDirs() ([]string, error) {
	base := filepath.Join(a.root, stagingDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.ArchiveOpen, err, "list staging directories")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(base, name))
	}
	return out, nil
}

// CleanOrphanedStages removes staging directories left behind by a crash
// (RecoveryManager check). A stage directory is orphaned if it is not
// referenced by any non-terminal tx_log row; the caller supplies the set of
// still-live stage directories to keep.
func (a *Archive) CleanOrphanedStages(keep map[string]bool) ([]string, error) {
	all, err := a.StagedDirs()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, full := range all {
		if keep[full] {
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			return removed, apperr.Wrap(apperr.ArchiveOpen, err, "remove orphaned stage").WithContext("path", full)
		}
		removed = append(removed, full)
	}
	return removed, nil
}
