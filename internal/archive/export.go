package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// closedStatuses are the session states included in an export.
var closedStatuses = []model.Status{model.StatusTransferred, model.StatusCompleted}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	SessionCount int       `json:"session_count"`
	ItemCount    int       `json:"item_count"`
	UpdateCount  int       `json:"update_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// sessionRecord is a closed-out session with its items.
type sessionRecord struct {
	*model.Session
	Items []*model.Item `json:"items"`
}

// ExportJSONL writes every transferred or completed session not in skip,
// with its items, followed by the call log of each submission those
// sessions belong to. Sessions are sorted by ID; each submission's call log
// appears once. It returns the IDs of the sessions written.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer, skip map[string]bool) ([]string, error) {
	all, err := s.ListSessions(ctx, model.SessionFilter{Status: closedStatuses})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := all[:0]
	for _, sess := range all {
		if !skip[sess.ID] {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})

	recs := make([]sessionRecord, 0, len(sessions))
	var submissions []string
	seen := make(map[string]bool)
	itemCount := 0
	for _, sess := range sessions {
		items, err := s.ListItems(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("list items for %s: %w", sess.ID, err)
		}
		itemCount += len(items)
		recs = append(recs, sessionRecord{Session: sess, Items: items})
		if !seen[sess.SubmissionID] {
			seen[sess.SubmissionID] = true
			submissions = append(submissions, sess.SubmissionID)
		}
	}
	sort.Strings(submissions)

	var updates []*model.CallUpdate
	for _, sub := range submissions {
		us, err := s.ListCallUpdates(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("list call updates for %s: %w", sub, err)
		}
		updates = append(updates, us...)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		SessionCount: len(recs),
		ItemCount:    itemCount,
		UpdateCount:  len(updates),
	}); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	for _, r := range recs {
		if err := enc.Encode(record{Type: "session", Data: r}); err != nil {
			return nil, fmt.Errorf("encode session %s: %w", r.ID, err)
		}
	}

	for _, u := range updates {
		if err := enc.Encode(record{Type: "call_update", Data: u}); err != nil {
			return nil, fmt.Errorf("encode call update %d: %w", u.ID, err)
		}
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}
