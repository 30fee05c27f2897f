package index

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

const (
	recencyWindow       = 30 * 24 * time.Hour
	recencyHalfLifeDays = 10.0
	recencySaturation   = 5.0
)

// UsageEvent is one recorded interaction with a skill (loaded, included in
// a pack, flagged as unhelpful, etc.), read back by UsageRecencyScore and
// UsageCounts.
type UsageEvent struct {
	SkillID    string
	Layer      string
	Event      string
	Context    map[string]string
	OccurredAt time.Time
}

// RecordUsageEvent appends a usage event. Events are append-only; readers
// aggregate them at query time rather than maintaining running totals.
func (s *Store) RecordUsageEvent(ctx context.Context, ev UsageEvent) error {
	ctxJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal usage context")
	}
	when := ev.OccurredAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skill_usage_events (skill_id, layer, event, context_json, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.SkillID, ev.Layer, ev.Event, string(ctxJSON), when.Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "record usage event")
	}
	return nil
}

// UsageRecencyScore is a recency-decayed frequency count over "loaded" and
// "included_in_pack" events in the last 30 days, normalized to [0,1] for
// contextscore.Score's historical component. Each event contributes
// 2^(-ageDays/recencyHalfLifeDays); the sum saturates at recencySaturation.
func (s *Store) UsageRecencyScore(ctx context.Context, skillID, layer string, now time.Time) (float64, error) {
	since := now.Add(-recencyWindow)
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at FROM skill_usage_events
		WHERE skill_id = ? AND layer = ? AND event IN ('loaded', 'included_in_pack') AND occurred_at >= ?
	`, skillID, layer, since.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, apperr.Wrap(apperr.DbOpen, err, "query usage recency").WithContext("skill_id", skillID)
	}
	defer rows.Close()

	var sum float64
	for rows.Next() {
		var occurredStr string
		if err := rows.Scan(&occurredStr); err != nil {
			return 0, apperr.Wrap(apperr.DbOpen, err, "scan usage recency")
		}
		occurred, err := time.Parse(time.RFC3339, occurredStr)
		if err != nil {
			continue
		}
		ageDays := now.Sub(occurred).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		sum += math.Pow(0.5, ageDays/recencyHalfLifeDays)
	}
	if err := rows.Err(); err != nil {
		return 0, apperr.Wrap(apperr.DbOpen, err, "iterate usage recency")
	}

	score := sum / recencySaturation
	if score > 1.0 {
		score = 1.0
	}
	return score, nil
}

// UsageCounts summarizes a skill's recorded events by kind.
type UsageCounts struct {
	Loaded    int
	Included  int
	Flagged   int
	Confirmed int
}

// UsageCounts aggregates a skill's usage events by kind.
func (s *Store) UsageCounts(ctx context.Context, skillID, layer string) (UsageCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event, COUNT(*) FROM skill_usage_events WHERE skill_id = ? AND layer = ? GROUP BY event
	`, skillID, layer)
	if err != nil {
		return UsageCounts{}, apperr.Wrap(apperr.DbOpen, err, "aggregate usage events")
	}
	defer rows.Close()

	var counts UsageCounts
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return UsageCounts{}, apperr.Wrap(apperr.DbOpen, err, "scan usage aggregate")
		}
		switch event {
		case "loaded":
			counts.Loaded = n
		case "included_in_pack":
			counts.Included = n
		case "flagged_unhelpful":
			counts.Flagged = n
		case "confirmed_helpful":
			counts.Confirmed = n
		}
	}
	return counts, nil
}
