package sync

import (
	"encoding/json"
	"os"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

// RemoteType selects a Remote's transport.
type RemoteType string

const (
	RemoteFilesystem RemoteType = "filesystem"
	RemoteGit        RemoteType = "git"
)

// Direction constrains which way a Remote is allowed to move skills.
type Direction string

const (
	DirectionPullOnly      Direction = "pull_only"
	DirectionPushOnly      Direction = "push_only"
	DirectionBidirectional Direction = "bidirectional"
)

// Auth holds the credentials for a Remote. Exactly one of the two shapes
// applies depending on RemoteType; fields are left blank otherwise.
type Auth struct {
	TokenEnvVar   string `json:"token_env_var,omitempty"`
	Username      string `json:"username,omitempty"`
	SSHKey        string `json:"ssh_key,omitempty"`
	Pubkey        string `json:"pubkey,omitempty"`
	PassphraseEnv string `json:"passphrase_env,omitempty"`
}

// Remote is one configured sync peer.
type Remote struct {
	Name      string     `json:"name"`
	Type      RemoteType `json:"type"`
	URL       string     `json:"url"`
	Branch    string     `json:"branch,omitempty"`
	Auth      Auth       `json:"auth,omitempty"`
	Enabled   bool       `json:"enabled"`
	Direction Direction  `json:"direction"`
}

// ConflictStrategy selects how a Diverged skill resolves into InSync.
type ConflictStrategy string

const (
	PreferLocal  ConflictStrategy = "prefer_local"
	PreferRemote ConflictStrategy = "prefer_remote"
	PreferNewest ConflictStrategy = "prefer_newest"
	KeepBoth     ConflictStrategy = "keep_both"
)

// Options gates a sync run's side effects.
type Options struct {
	PushOnly bool
	PullOnly bool
	DryRun   bool
	Force    bool
}

// SyncReport summarizes one engine Run across all enabled remotes.
type SyncReport struct {
	Pulled     int           `json:"pulled"`
	Pushed     int           `json:"pushed"`
	Resolved   int           `json:"resolved"`
	Conflicts  int           `json:"conflicts"`
	Forked     int           `json:"forked"`
	Skipped    int           `json:"skipped"`
	DurationMS int64         `json:"duration_ms"`
	RemoteErrs []RemoteError `json:"remote_errors,omitempty"`
}

// RemoteError records that one remote's sync aborted without affecting
// the others.
type RemoteError struct {
	Remote string `json:"remote"`
	Error  string `json:"error"`
}

// MachineIdentity persists this machine's sync identity and last-sync
// timestamps (spec §4.L, sync_state.json's machine half; per-skill vector
// clocks live in the index's sync_state table instead).
type MachineIdentity struct {
	MachineID string               `json:"machine_id"`
	LastSync  map[string]time.Time `json:"last_sync"` // remote name -> last run
}

// LoadMachineIdentity reads path, generating and persisting a fresh
// identity if the file does not yet exist.
func LoadMachineIdentity(path string) (*MachineIdentity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		id := &MachineIdentity{MachineID: newMachineID(), LastSync: map[string]time.Time{}}
		return id, id.Save(path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "read machine identity").WithContext("path", path)
	}
	var id MachineIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "parse machine identity").WithContext("path", path)
	}
	if id.LastSync == nil {
		id.LastSync = map[string]time.Time{}
	}
	return &id, nil
}

// Save persists the identity to path.
func (m *MachineIdentity) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.ConfigInvalid, err, "marshal machine identity")
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.Wrap(apperr.ConfigInvalid, err, "write machine identity").WithContext("path", path)
	}
	return nil
}

func newMachineID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown-host"
	}
	return hostname + "-" + randomSuffix()
}

// randomSuffix returns a short hex tag. It is not cryptographically
// meaningful; it only needs to make two machines with the same hostname
// distinguishable.
func randomSuffix() string {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return "0000"
	}
	defer f.Close()
	buf := make([]byte, 2)
	if _, err := f.Read(buf); err != nil {
		return "0000"
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 4)
	out[0] = hex[buf[0]>>4]
	out[1] = hex[buf[0]&0xf]
	out[2] = hex[buf[1]>>4]
	out[3] = hex[buf[1]&0xf]
	return string(out)
}

// LoadRemotes reads a remotes.json file; a missing file yields no remotes.
func LoadRemotes(path string) ([]Remote, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "read remotes file").WithContext("path", path)
	}
	var remotes []Remote
	if err := json.Unmarshal(data, &remotes); err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "parse remotes file").WithContext("path", path)
	}
	return remotes, nil
}

// SaveRemotes writes a remotes.json file.
func SaveRemotes(path string, remotes []Remote) error {
	data, err := json.MarshalIndent(remotes, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.ConfigInvalid, err, "marshal remotes")
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.Wrap(apperr.ConfigInvalid, err, "write remotes file").WithContext("path", path)
	}
	return nil
}

// ConflictOverrides is the per-skill strategy override table
// (conflicts.json); a skill absent from it uses the engine's default.
type ConflictOverrides map[string]ConflictStrategy

// LoadConflictOverrides reads a conflicts.json file; a missing file
// yields an empty table.
func LoadConflictOverrides(path string) (ConflictOverrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ConflictOverrides{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "read conflicts file").WithContext("path", path)
	}
	var overrides ConflictOverrides
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, err, "parse conflicts file").WithContext("path", path)
	}
	return overrides, nil
}
