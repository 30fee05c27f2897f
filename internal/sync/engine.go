// Package sync implements multi-remote synchronization of skills (spec
// §4.L): a per-remote, per-skill state machine driven over a
// backend-agnostic RemoteBackend, with vector-clock conflict detection and
// configurable resolution strategies.
package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// Engine runs sync for a single workspace across its configured remotes.
// It generalizes the teacher's Worker/APIClient split: RemoteBackend
// stands in for APIClient, and Run's per-remote, per-skill loop replaces
// syncAllTeams's per-team loop, continuing past one remote's failure
// exactly as the teacher continues past one team's failure.
type Engine struct {
	idx             *index.Store
	identity        *MachineIdentity
	identityPath    string
	layer           skill.Layer
	defaultStrategy ConflictStrategy
	overrides       ConflictOverrides
	log             zerolog.Logger

	mu       sync.RWMutex
	running  bool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds an Engine that syncs skills at layer using identity as this
// machine's persisted sync bookkeeping.
func New(idx *index.Store, identity *MachineIdentity, identityPath string, layer skill.Layer, defaultStrategy ConflictStrategy, overrides ConflictOverrides, logger zerolog.Logger) *Engine {
	if overrides == nil {
		overrides = ConflictOverrides{}
	}
	return &Engine{
		idx:             idx,
		identity:        identity,
		identityPath:    identityPath,
		layer:           layer,
		defaultStrategy: defaultStrategy,
		overrides:       overrides,
		log:             logger.With().Str("component", "sync").Logger(),
	}
}

// Backends maps a Remote's name to its opened RemoteBackend; callers build
// this once per Run (opening a GitRemote involves a clone/fetch) and are
// responsible for closing each backend afterward.
type Backends map[string]RemoteBackend

// Run walks remotes in config order, acquiring a fresh rate limiter and
// backoff policy per remote so a failure or slow-down on one remote never
// starves the others, and returns one SyncReport summarizing every remote.
func (e *Engine) Run(ctx context.Context, remotes []Remote, backends Backends, opts Options) (*SyncReport, error) {
	start := time.Now()
	report := &SyncReport{}

	for _, remote := range remotes {
		if !remote.Enabled {
			report.Skipped++
			continue
		}
		backend, ok := backends[remote.Name]
		if !ok {
			report.RemoteErrs = append(report.RemoteErrs, RemoteError{Remote: remote.Name, Error: "no backend opened for remote"})
			continue
		}

		limiter := rate.NewLimiter(rate.Limit(5), 5)
		if err := e.syncRemote(ctx, remote, backend, opts, limiter, report); err != nil {
			e.log.Warn().Str("remote", remote.Name).Err(err).Msg("remote sync aborted")
			report.RemoteErrs = append(report.RemoteErrs, RemoteError{Remote: remote.Name, Error: err.Error()})
			continue
		}
		e.identity.LastSync[remote.Name] = time.Now().UTC()
	}

	if !opts.DryRun {
		if err := e.identity.Save(e.identityPath); err != nil {
			e.log.Warn().Err(err).Msg("failed to persist machine identity")
		}
	}

	report.DurationMS = time.Since(start).Milliseconds()
	return report, nil
}

// syncRemote enumerates the local ∪ remote skill set for one remote and
// transitions every skill to a terminal state. A retryable remote I/O
// failure during enumeration aborts this remote only.
func (e *Engine) syncRemote(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, report *SyncReport) error {
	var refs []RemoteSkillRef
	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var listErr error
		refs, listErr = backend.List(ctx)
		return listErr
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "list remote skills").WithContext("remote", remote.Name)
	}

	remoteByID := make(map[string]RemoteSkillRef, len(refs))
	for _, r := range refs {
		remoteByID[r.SkillID] = r
	}

	localSkills, err := e.idx.ListSkills(ctx, e.layer)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "list local skills").WithContext("layer", string(e.layer))
	}
	localByID := make(map[string]skill.Skill, len(localSkills))
	for _, s := range localSkills {
		localByID[s.ID] = s
	}

	ids := make(map[string]bool, len(localByID)+len(remoteByID))
	for id := range localByID {
		ids[id] = true
	}
	for id := range remoteByID {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		local, hasLocal := localByID[id]
		remoteRef, hasRemote := remoteByID[id]

		if err := e.syncSkill(ctx, remote, backend, opts, limiter, id, local, hasLocal, remoteRef, hasRemote, report); err != nil {
			e.log.Warn().Str("remote", remote.Name).Str("skill_id", id).Err(err).Msg("skill sync step failed")
			report.Skipped++
		}
	}
	return nil
}

// syncSkill drives one skill through the state machine described in spec
// §4.L: InSync/LocalAhead/RemoteAhead transition by a push or pull;
// incomparable vector clocks land in Conflict and resolve by strategy.
func (e *Engine) syncSkill(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, id string, local skill.Skill, hasLocal bool, remoteRef RemoteSkillRef, hasRemote bool, report *SyncReport) error {
	prior, err := e.idx.GetSyncState(ctx, remote.Name, id)
	if err != nil {
		return err
	}

	localVC := advanceLocalClock(prior, local, hasLocal, e.identity.MachineID)
	remoteVC := remoteRef.VectorClock

	switch {
	case hasLocal && !hasRemote:
		return e.push(ctx, remote, backend, opts, limiter, local, localVC, report)

	case !hasLocal && hasRemote:
		return e.pull(ctx, remote, backend, opts, limiter, id, remoteVC, report)

	case hasLocal && hasRemote:
		if !localVC.Comparable(remoteVC) {
			report.Conflicts++
			return e.resolveConflict(ctx, remote, backend, opts, limiter, id, local, localVC, remoteRef, report)
		}
		if remoteVC.Dominates(localVC) && !localVC.Equal(remoteVC) {
			return e.pull(ctx, remote, backend, opts, limiter, id, remoteVC, report)
		}
		if localVC.Dominates(remoteVC) && !localVC.Equal(remoteVC) {
			return e.push(ctx, remote, backend, opts, limiter, local, localVC, report)
		}
		// Equal clocks: already in sync, nothing to transition.
		return e.idx.UpsertSyncState(ctx, skill.SyncState{
			Remote: remote.Name, SkillID: id, VectorClock: localVC,
			LastSeenRemote: remoteRef.ContentHash, LastPushedLocal: local.ContentHash,
			Status: skill.SyncInSync,
		})

	default:
		return nil
	}
}

// advanceLocalClock bumps this machine's own counter in the prior sync
// state's vector clock whenever the local skill's content has changed
// since the last time this remote saw it. A skill with no prior sync state
// counts as changed; one with no local change keeps the prior clock.
func advanceLocalClock(prior *skill.SyncState, local skill.Skill, hasLocal bool, machineID string) skill.VectorClock {
	vc := skill.VectorClock{}
	if prior != nil {
		for k, v := range prior.VectorClock {
			vc[k] = v
		}
	}
	if !hasLocal {
		return vc
	}
	changed := prior == nil || prior.LastPushedLocal != local.ContentHash
	if changed {
		vc[machineID] = vc[machineID] + 1
	}
	return vc
}

func mergeClocks(a, b skill.VectorClock) skill.VectorClock {
	out := skill.VectorClock{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) push(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, local skill.Skill, localVC skill.VectorClock, report *SyncReport) error {
	if opts.PullOnly || remote.Direction == DirectionPullOnly {
		report.Skipped++
		return nil
	}
	if opts.DryRun {
		report.Pushed++
		return nil
	}

	newVC := mergeClocks(localVC, skill.VectorClock{})
	newVC[e.identity.MachineID] = newVC[e.identity.MachineID] + 1

	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return backend.Push(ctx, local, newVC)
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "push skill").WithContext("skill_id", local.ID).WithContext("remote", remote.Name)
	}

	report.Pushed++
	return e.idx.UpsertSyncState(ctx, skill.SyncState{
		Remote: remote.Name, SkillID: local.ID, VectorClock: newVC,
		LastPushedLocal: local.ContentHash, Status: skill.SyncInSync,
	})
}

func (e *Engine) pull(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, id string, remoteVC skill.VectorClock, report *SyncReport) error {
	if opts.PushOnly || remote.Direction == DirectionPushOnly {
		report.Skipped++
		return nil
	}

	var fetched *skill.Skill
	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var fetchErr error
		fetched, _, fetchErr = backend.Fetch(ctx, id, e.layer)
		return fetchErr
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "pull skill").WithContext("skill_id", id).WithContext("remote", remote.Name)
	}

	if opts.DryRun {
		report.Pulled++
		return nil
	}

	fetched.Provenance.Layer = e.layer
	if err := e.idx.UpsertSkill(ctx, *fetched); err != nil {
		return err
	}
	report.Pulled++
	return e.idx.UpsertSyncState(ctx, skill.SyncState{
		Remote: remote.Name, SkillID: id, VectorClock: remoteVC,
		LastSeenRemote: fetched.ContentHash, Status: skill.SyncInSync,
	})
}

// resolveConflict applies the configured strategy for id (per-skill
// override, else the engine default) to bring a Diverged pair back to a
// terminal state.
func (e *Engine) resolveConflict(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, id string, local skill.Skill, localVC skill.VectorClock, remoteRef RemoteSkillRef, report *SyncReport) error {
	strategy := e.defaultStrategy
	if override, ok := e.overrides[id]; ok {
		strategy = override
	}

	if opts.DryRun {
		report.Resolved++
		return nil
	}

	switch strategy {
	case PreferLocal:
		if err := e.push(ctx, remote, backend, opts, limiter, local, localVC, report); err != nil {
			return err
		}
	case PreferRemote:
		if err := e.pull(ctx, remote, backend, opts, limiter, id, remoteRef.VectorClock, report); err != nil {
			return err
		}
	case PreferNewest:
		remoteSkill, _, err := backend.Fetch(ctx, id, e.layer)
		if err != nil {
			return apperr.Wrap(apperr.RemoteUnreachable, err, "fetch skill for newest comparison").WithContext("skill_id", id)
		}
		if remoteSkill.Derived.UpdatedAt.After(local.Derived.UpdatedAt) {
			if err := e.pull(ctx, remote, backend, opts, limiter, id, remoteRef.VectorClock, report); err != nil {
				return err
			}
		} else {
			if err := e.push(ctx, remote, backend, opts, limiter, local, localVC, report); err != nil {
				return err
			}
		}
	case KeepBoth:
		if err := e.keepBoth(ctx, remote, backend, opts, limiter, id, local, localVC, remoteRef, report); err != nil {
			return err
		}
	default:
		return apperr.New(apperr.UnknownStrategy, "unknown conflict resolution strategy").WithContext("strategy", string(strategy))
	}

	report.Resolved++
	return nil
}

// keepBoth forks local's divergent content under a new id on the remote
// (spec §4.L's "rename remote to <id>-<machine>-<n>"), then pulls the
// remote's original content into the local id so the original id is no
// longer in conflict on the next run.
func (e *Engine) keepBoth(ctx context.Context, remote Remote, backend RemoteBackend, opts Options, limiter *rate.Limiter, id string, local skill.Skill, localVC skill.VectorClock, remoteRef RemoteSkillRef, report *SyncReport) error {
	existing, err := backend.List(ctx)
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(existing))
	for _, r := range existing {
		taken[r.SkillID] = true
	}

	forkID := id
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%s-%d", id, e.identity.MachineID, n)
		if !taken[candidate] {
			forkID = candidate
			break
		}
	}

	fork := local
	fork.ID = forkID
	forkVC := skill.VectorClock{e.identity.MachineID: 1}

	pushOp := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return backend.Push(ctx, fork, forkVC)
	}
	if err := backoff.Retry(pushOp, retryPolicy(ctx)); err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "push forked skill").WithContext("skill_id", forkID)
	}
	report.Forked++

	if opts.DryRun {
		return nil
	}

	fetched, _, err := backend.Fetch(ctx, id, e.layer)
	if err != nil {
		return apperr.Wrap(apperr.RemoteUnreachable, err, "fetch remote original after fork").WithContext("skill_id", id)
	}
	fetched.Provenance.Layer = e.layer
	if err := e.idx.UpsertSkill(ctx, *fetched); err != nil {
		return err
	}
	return e.idx.UpsertSyncState(ctx, skill.SyncState{
		Remote: remote.Name, SkillID: id, VectorClock: remoteRef.VectorClock,
		LastSeenRemote: fetched.ContentHash, Status: skill.SyncInSync,
	})
}

// retryPolicy bounds backoff.Retry to the caller's context and a handful
// of attempts, so one slow or flaky remote cannot hang a sync run.
func retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)
}

// Start begins a background ticker that runs Run every interval, mirroring
// the teacher's Worker.Start/Stop lifecycle. runOnce must be supplied by the
// caller since opening remote backends (cloning/fetching) is the caller's
// responsibility, not the Engine's.
func (e *Engine) Start(ctx context.Context, interval time.Duration, runOnce func(context.Context) (*SyncReport, error)) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.interval = interval
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx, runOnce)
}

func (e *Engine) run(ctx context.Context, runOnce func(context.Context) (*SyncReport, error)) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(e.doneCh)
	}()

	if _, err := runOnce(ctx); err != nil {
		log.Printf("sync: initial run failed: %v", err)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := runOnce(ctx); err != nil {
				log.Printf("sync: scheduled run failed: %v", err)
			}
		}
	}
}

// Stop signals the background loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return
	}
	close(e.stopCh)
	<-e.doneCh
}

// Running reports whether the background loop is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
