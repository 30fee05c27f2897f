package sync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/marshal"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// RemoteSkillRef is one skill as a remote backend enumerates it, without
// its body: just enough to decide which state-machine transition applies.
type RemoteSkillRef struct {
	SkillID     string
	Layer       skill.Layer
	VectorClock skill.VectorClock
	ContentHash string
}

// RemoteBackend is the transport-agnostic surface the per-skill state
// machine drives. FilesystemRemote and GitRemote both satisfy it so sync
// logic never branches on remote type (spec §4.L).
type RemoteBackend interface {
	// List enumerates every skill currently known to the remote.
	List(ctx context.Context) ([]RemoteSkillRef, error)
	// Fetch returns one skill's current body and vector clock.
	Fetch(ctx context.Context, skillID string, layer skill.Layer) (*skill.Skill, skill.VectorClock, error)
	// Push writes sk to the remote under the given vector clock,
	// replacing whatever the remote previously held for this id.
	Push(ctx context.Context, sk skill.Skill, vc skill.VectorClock) error
	// Close releases any held resources (cache checkouts, connections).
	Close() error
}

// sidecar is the ".sync" JSON file accompanying a FilesystemRemote skill
// directory, carrying the vector clock and content hash alongside the
// plain SKILL.md (spec §6).
type sidecar struct {
	VectorClock skill.VectorClock `json:"vector_clock"`
	ContentHash string            `json:"content_hash"`
	ModifiedAt  time.Time         `json:"modified_at"`
}

// FilesystemRemote is a Remote backed by a plain directory tree: one
// "<layer>/<id>/SKILL.md" per skill plus a "<layer>/<id>/.sync" sidecar.
// No history is kept; the sidecar's vector clock is the sole conflict
// signal.
type FilesystemRemote struct {
	root string
}

// NewFilesystemRemote opens (creating if absent) a filesystem remote
// rooted at root.
func NewFilesystemRemote(root string) (*FilesystemRemote, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "create filesystem remote root").WithContext("path", root)
	}
	return &FilesystemRemote{root: root}, nil
}

func (f *FilesystemRemote) skillDir(layer skill.Layer, id string) string {
	return filepath.Join(f.root, string(layer), id)
}

func (f *FilesystemRemote) List(_ context.Context) ([]RemoteSkillRef, error) {
	var out []RemoteSkillRef
	layerEntries, err := os.ReadDir(f.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "list filesystem remote")
	}
	for _, layerEntry := range layerEntries {
		if !layerEntry.IsDir() {
			continue
		}
		layer := skill.Layer(layerEntry.Name())
		idEntries, err := os.ReadDir(filepath.Join(f.root, layerEntry.Name()))
		if err != nil {
			return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "list remote layer").WithContext("layer", string(layer))
		}
		for _, idEntry := range idEntries {
			if !idEntry.IsDir() {
				continue
			}
			side, err := f.readSidecar(layer, idEntry.Name())
			if err != nil {
				return nil, err
			}
			out = append(out, RemoteSkillRef{
				SkillID:     idEntry.Name(),
				Layer:       layer,
				VectorClock: side.VectorClock,
				ContentHash: side.ContentHash,
			})
		}
	}
	return out, nil
}

func (f *FilesystemRemote) readSidecar(layer skill.Layer, id string) (sidecar, error) {
	path := filepath.Join(f.skillDir(layer, id), ".sync")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sidecar{VectorClock: skill.VectorClock{}}, nil
	}
	if err != nil {
		return sidecar{}, apperr.Wrap(apperr.RemoteUnreachable, err, "read sync sidecar").WithContext("skill_id", id)
	}
	var side sidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return sidecar{}, apperr.Wrap(apperr.RemoteUnreachable, err, "parse sync sidecar").WithContext("skill_id", id)
	}
	if side.VectorClock == nil {
		side.VectorClock = skill.VectorClock{}
	}
	return side, nil
}

func (f *FilesystemRemote) writeSidecar(layer skill.Layer, id string, side sidecar) error {
	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "marshal sync sidecar")
	}
	return os.WriteFile(filepath.Join(f.skillDir(layer, id), ".sync"), data, 0o644)
}

func (f *FilesystemRemote) Fetch(_ context.Context, skillID string, layer skill.Layer) (*skill.Skill, skill.VectorClock, error) {
	dir := f.skillDir(layer, skillID)
	content, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.NotFound, err, "fetch remote skill").WithContext("skill_id", skillID)
	}
	spec, err := marshal.DecodeSkillSpec(content)
	if err != nil {
		return nil, nil, err
	}
	side, err := f.readSidecar(layer, skillID)
	if err != nil {
		return nil, nil, err
	}
	sk := specToSkill(skillID, layer, spec, side.ContentHash)
	sk.Derived.UpdatedAt = side.ModifiedAt
	return &sk, side.VectorClock, nil
}

func (f *FilesystemRemote) Push(_ context.Context, sk skill.Skill, vc skill.VectorClock) error {
	dir := f.skillDir(sk.Provenance.Layer, sk.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "create remote skill directory").WithContext("skill_id", sk.ID)
	}
	spec := skillToSpec(sk)
	encoded, err := marshal.EncodeSkillSpec(spec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), encoded, 0o644); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "write remote skill").WithContext("skill_id", sk.ID)
	}
	modifiedAt := sk.Derived.UpdatedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}
	return f.writeSidecar(sk.Provenance.Layer, sk.ID, sidecar{VectorClock: vc, ContentHash: sk.ContentHash, ModifiedAt: modifiedAt})
}

func (f *FilesystemRemote) Close() error { return nil }

// GitRemote is a Remote backed by a Git repository, cloned or fetched into
// a local cache path and treated as a FilesystemRemote once checked out
// (spec §4.L, §6). Commits use message "ms:<action>:<skill_id>:<hash>".
type GitRemote struct {
	repo      *git.Repository
	cachePath string
	branch    string
	auth      transport.AuthMethod
	fs        *FilesystemRemote
}

// OpenGitRemote clones remoteURL into cachePath if it is not already
// present there, otherwise fetches and checks out branch, then wraps the
// checkout as a FilesystemRemote.
func OpenGitRemote(ctx context.Context, remoteURL, branch, cachePath string, auth *Auth) (*GitRemote, error) {
	authMethod, err := buildAuthMethod(auth)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(cachePath)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "open git remote cache").WithContext("path", cachePath)
		}
		repo, err = git.PlainCloneContext(ctx, cachePath, false, &git.CloneOptions{
			URL:           remoteURL,
			Auth:          authMethod,
			ReferenceName: branchRef(branch),
			SingleBranch:  branch != "",
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "clone git remote").WithContext("url", remoteURL)
		}
	} else {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "open git remote worktree")
		}
		fetchErr := repo.FetchContext(ctx, &git.FetchOptions{Auth: authMethod})
		if fetchErr != nil && fetchErr != git.NoErrAlreadyUpToDate {
			return nil, apperr.Wrap(apperr.RemoteUnreachable, fetchErr, "fetch git remote")
		}
		if branch != "" {
			if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef(branch), Force: true}); err != nil {
				return nil, apperr.Wrap(apperr.RemoteUnreachable, err, "checkout git remote branch").WithContext("branch", branch)
			}
		}
	}

	fsRemote, err := NewFilesystemRemote(cachePath)
	if err != nil {
		return nil, err
	}
	return &GitRemote{repo: repo, cachePath: cachePath, branch: branch, auth: authMethod, fs: fsRemote}, nil
}

func branchRef(branch string) plumbing.ReferenceName {
	if branch == "" {
		return ""
	}
	return plumbing.NewBranchReferenceName(branch)
}

func buildAuthMethod(a *Auth) (transport.AuthMethod, error) {
	if a == nil {
		return nil, nil
	}
	if a.SSHKey != "" {
		passphrase := ""
		if a.PassphraseEnv != "" {
			passphrase = os.Getenv(a.PassphraseEnv)
		}
		method, err := gitssh.NewPublicKeysFromFile("git", a.SSHKey, passphrase)
		if err != nil {
			return nil, apperr.Wrap(apperr.AuthFailed, err, "load ssh key").WithContext("ssh_key", a.SSHKey)
		}
		return method, nil
	}
	if a.TokenEnvVar != "" {
		token := os.Getenv(a.TokenEnvVar)
		if token == "" {
			return nil, apperr.New(apperr.AuthFailed, "token env var not set").WithContext("env_var", a.TokenEnvVar)
		}
		username := a.Username
		if username == "" {
			username = "git"
		}
		return &http.BasicAuth{Username: username, Password: token}, nil
	}
	return nil, nil
}

func (g *GitRemote) List(ctx context.Context) ([]RemoteSkillRef, error) {
	return g.fs.List(ctx)
}

func (g *GitRemote) Fetch(ctx context.Context, skillID string, layer skill.Layer) (*skill.Skill, skill.VectorClock, error) {
	return g.fs.Fetch(ctx, skillID, layer)
}

// Push writes the skill into the checkout, commits with the canonical
// "ms:<action>:<skill_id>:<hash>" message, and pushes to the configured
// branch.
func (g *GitRemote) Push(ctx context.Context, sk skill.Skill, vc skill.VectorClock) error {
	if err := g.fs.Push(ctx, sk, vc); err != nil {
		return err
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "open git remote worktree")
	}
	relDir := filepath.Join(string(sk.Provenance.Layer), sk.ID)
	if _, err := wt.Add(relDir); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "stage git remote skill").WithContext("skill_id", sk.ID)
	}

	msg := "ms:push:" + sk.ID + ":" + sk.ContentHash
	sig := &object.Signature{Name: "ms-sync", Email: "ms-sync@localhost", When: time.Now()}
	if _, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig, AllowEmptyCommits: false}); err != nil && err != git.ErrEmptyCommit {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "commit git remote push").WithContext("skill_id", sk.ID)
	}

	pushOpts := &git.PushOptions{Auth: g.auth}
	if err := g.repo.PushContext(ctx, pushOpts); err != nil && err != git.NoErrAlreadyUpToDate {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "push git remote").WithContext("skill_id", sk.ID)
	}
	return nil
}

func (g *GitRemote) Close() error { return nil }

func specToSkill(id string, layer skill.Layer, spec skill.SkillSpec, contentHash string) skill.Skill {
	return skill.Skill{
		ID:          id,
		Name:        spec.Name,
		Description: spec.Description,
		Tags:        spec.Metadata.Tags,
		Provenance:  skill.Provenance{Layer: layer},
		ContentHash: contentHash,
		Metadata:    spec.Metadata,
	}
}

func skillToSpec(sk skill.Skill) skill.SkillSpec {
	return skill.SkillSpec{
		FormatVersion: 1,
		Name:          sk.Name,
		Description:   sk.Description,
		Metadata:      sk.Metadata,
	}
}
