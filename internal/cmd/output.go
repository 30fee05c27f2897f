package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/config"
)

// envelope is the robot-mode JSON wrapper every command's data is rendered
// into when the output format is JSON or JSONL (spec's CLI contract).
type envelope struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Version   string      `json:"version"`
	Data      interface{} `json:"data"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// version is stamped into the envelope; there is no build-info injection
// step in this tree, so it stays a fixed literal rather than faking one.
const version = "0.1.0"

// render writes data to w in the workspace's configured output format.
// humanFn renders the human/plain/tsv text form; data is marshaled
// directly for json/jsonl.
func render(w io.Writer, cfg *config.Config, data interface{}, warnings []string, humanFn func(io.Writer) error) error {
	switch cfg.Output {
	case config.OutputJSON, config.OutputJSONL:
		env := envelope{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   version,
			Data:      data,
			Warnings:  warnings,
		}
		enc := json.NewEncoder(w)
		if cfg.Output == config.OutputJSON {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(env)
	default:
		return humanFn(w)
	}
}

// relativeTime renders t the way human/plain output prefers: "3 minutes
// ago" instead of a raw timestamp, via the same library the teacher reaches
// for whenever it needs to show a duration or time to a person.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// exitCodeFor maps a returned error to the CLI contract's exit codes:
// 0 success, 1 generic failure, 2 invalid invocation, 3 conflict/lock
// held, 4 not found.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	code, ok := apperr.CodeOf(err)
	if !ok {
		return 1
	}
	switch code {
	case apperr.NotFound, apperr.ParentNotFound:
		return 4
	case apperr.LockHeld, apperr.LockStale, apperr.TxConflict, apperr.MergeConflict, apperr.ForkedKeepBoth:
		return 3
	case apperr.Invalid, apperr.ConfigInvalid, apperr.UnknownRemote, apperr.UnknownStrategy, apperr.ValidationFailed:
		return 2
	default:
		return 1
	}
}

func reportError(w io.Writer, err error, code int) int {
	if code == 0 {
		code = 1
	}
	if enc := json.NewEncoder(w); isRobot() {
		env := envelope{Status: "error", Timestamp: time.Now().UTC().Format(time.RFC3339), Version: version, Data: err.Error()}
		enc.Encode(env)
	} else {
		w.Write([]byte("ms: " + err.Error() + "\n"))
	}
	return code
}

func isRobot() bool {
	return robotFlag || config.OutputFormat(outputFlag) == config.OutputJSON
}
