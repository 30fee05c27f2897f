// Package appctx wires every subsystem together into one value passed
// explicitly at call sites (spec §9 design notes): no package-level
// globals, no service-locator lookup. Callers (cmd/ms's subcommands,
// tests) build an AppContext once per workspace and thread it through.
package appctx

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenforestpath/meta-skill-sub001/internal/archive"
	"github.com/greenforestpath/meta-skill-sub001/internal/config"
	"github.com/greenforestpath/meta-skill-sub001/internal/depgraph"
	"github.com/greenforestpath/meta-skill-sub001/internal/embedder"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/lock"
	"github.com/greenforestpath/meta-skill-sub001/internal/marshal"
	"github.com/greenforestpath/meta-skill-sub001/internal/recovery"
	"github.com/greenforestpath/meta-skill-sub001/internal/resolver"
	"github.com/greenforestpath/meta-skill-sub001/internal/search"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/sync"
	"github.com/greenforestpath/meta-skill-sub001/internal/tx"
)

// AppContext holds every opened subsystem for one workspace root. Fields
// are exported so commands can reach the pieces they need directly rather
// than through an ever-growing facade of forwarding methods.
type AppContext struct {
	Config *config.Config
	Log    zerolog.Logger

	Archive  *archive.Archive
	Index    *index.Store
	Tx       *tx.Manager
	Resolver *resolver.Resolver
	DepGraph *depgraph.Resolver
	Search   *search.Searcher
	Embedder embedder.Embedder
	Sync     *sync.Engine
	Doctor   *recovery.Manager

	Identity *sync.MachineIdentity
	lockPath string
}

// Open builds an AppContext from cfg: opens the archive and index, and
// wires the resolver, dependency graph, search, sync engine, and recovery
// manager over them. It does not acquire the workspace lock; callers that
// need exclusive write access call Lock separately so read-only commands
// (search, list) never block on it.
func Open(cfg *config.Config) (*AppContext, error) {
	logger := newLogger(cfg)

	a, err := archive.Open(cfg.ArchiveDir(), logger)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	txMgr := tx.New(a, idx, logger)

	res, err := resolver.New(&archiveSpecSource{archive: a, idx: idx}, idx, cfg.Cache.MaxEntries)
	if err != nil {
		idx.Close()
		return nil, err
	}

	depRes := depgraph.New(&indexGraphSource{idx: idx})

	emb := embedder.Embedder(embedder.NewHashEmbedder(cfg.Embedder.Dims))
	modelName := fmt.Sprintf("%s-%d", cfg.Embedder.Kind, cfg.Embedder.Dims)
	searcher := search.NewCached(idx, emb, modelName, cfg.Cache.TTL, cfg.Cache.MaxEntries)

	identity, err := sync.LoadMachineIdentity(cfg.SyncStatePath())
	if err != nil {
		idx.Close()
		return nil, err
	}
	overrides, err := sync.LoadConflictOverrides(cfg.ConflictsPath())
	if err != nil {
		idx.Close()
		return nil, err
	}
	// The sync engine manages this machine's own layer: its writes and
	// conflict resolutions only ever touch the user layer, never org/base
	// skills a remote cannot be authoritative for on this machine.
	syncEngine := sync.New(idx, identity, cfg.SyncStatePath(), skill.LayerUser,
		sync.ConflictStrategy(cfg.Sync.DefaultStrategy), overrides, logger)

	doctor := recovery.New(cfg.Root, cfg.LockPath(), a, idx, txMgr, logger)

	return &AppContext{
		Config:   cfg,
		Log:      logger,
		Archive:  a,
		Index:    idx,
		Tx:       txMgr,
		Resolver: res,
		DepGraph: depRes,
		Search:   searcher,
		Embedder: emb,
		Sync:     syncEngine,
		Doctor:   doctor,
		Identity: identity,
		lockPath: cfg.LockPath(),
	}, nil
}

// Close releases the index's database connection. The archive (a plain Git
// worktree) needs no explicit close; the lock is released separately via
// the Handle returned from Lock.
func (c *AppContext) Close() error {
	return c.Index.Close()
}

// Lock acquires the workspace's exclusive advisory lock for write
// commands, polling up to timeout.
func (c *AppContext) Lock(timeout time.Duration) (*lock.Handle, error) {
	return lock.Acquire(c.lockPath, timeout)
}

// InvalidateSearchCache drops the Searcher's memoized results. Every write
// path (skill writes through Tx, skill pulls through Sync) must call this
// so a cached Searcher never serves a result set that predates the write.
func (c *AppContext) InvalidateSearchCache() {
	c.Search.InvalidateCache()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	out := os.Stderr
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// archiveSpecSource adapts the archive + marshal/speclens parsing pipeline
// into resolver.SpecSource: it reads a skill's highest-precedence stored
// layer, fetches its files from the archive, and parses SKILL.md into the
// unresolved spec the resolver walks the extends/includes chain over. The
// content hash comes from the index row written alongside that same
// archive commit, so it always matches what was actually committed.
type archiveSpecSource struct {
	archive *archive.Archive
	idx     *index.Store
}

func (a *archiveSpecSource) RawSpec(ctx context.Context, skillID string) (skill.SkillSpec, string, error) {
	sk, err := a.idx.GetHighestLayer(ctx, skillID)
	if err != nil {
		return skill.SkillSpec{}, "", err
	}
	files, err := a.archive.Get(skillID, sk.Provenance.Layer, "")
	if err != nil {
		return skill.SkillSpec{}, "", err
	}
	spec, err := marshal.DecodeSkillSpec(files["SKILL.md"])
	if err != nil {
		return skill.SkillSpec{}, "", err
	}
	return spec, sk.ContentHash, nil
}

// indexGraphSource adapts index.Store's dependency tables into
// depgraph.GraphSource.
type indexGraphSource struct {
	idx *index.Store
}

func (g *indexGraphSource) Requires(ctx context.Context, skillID string) ([]string, error) {
	return g.idx.RequiresOf(ctx, skillID)
}

func (g *indexGraphSource) ProvidersOf(ctx context.Context, capability string) ([]string, error) {
	deps, err := g.idx.ProvidersOf(ctx, capability)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		out = append(out, d.SkillID)
	}
	return out, nil
}
