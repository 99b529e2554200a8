package model

import (
	"encoding/json"
	"strings"
)

// Lead is the source record a verification session snapshots. The lead table
// is owned by the CRM; this service only reads it.
type Lead struct {
	SubmissionID  string          `json:"submission_id"`
	CustomerName  string          `json:"customer_name"`
	LeadVendor    string          `json:"lead_vendor"`
	BufferAgentID string          `json:"buffer_agent_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Record decodes the lead's free-form data into a map for alias resolution.
// The top-level name and vendor columns are folded in so they resolve like any
// other source key.
func (l *Lead) Record() (map[string]any, error) {
	rec := make(map[string]any)
	if len(l.Data) > 0 {
		if err := json.Unmarshal(l.Data, &rec); err != nil {
			return nil, err
		}
	}
	if _, ok := rec["customer_name"]; !ok && l.CustomerName != "" {
		rec["customer_name"] = l.CustomerName
	}
	if _, ok := rec["lead_vendor"]; !ok && l.LeadVendor != "" {
		rec["lead_vendor"] = l.LeadVendor
	}
	if _, ok := rec["buffer_agent_id"]; !ok && l.BufferAgentID != "" {
		rec["buffer_agent_id"] = l.BufferAgentID
	}
	return rec, nil
}

// LeadInfo is the human-readable context attached to audit events and
// notifications.
type LeadInfo struct {
	SubmissionID string `json:"submission_id"`
	CustomerName string `json:"customer_name"`
	LeadVendor   string `json:"lead_vendor"`
}

// Info derives LeadInfo from the lead, falling back to first/last name in the
// data when the customer_name column is empty.
func (l *Lead) Info() LeadInfo {
	info := LeadInfo{
		SubmissionID: l.SubmissionID,
		CustomerName: l.CustomerName,
		LeadVendor:   l.LeadVendor,
	}
	if info.CustomerName == "" || info.LeadVendor == "" {
		rec, err := l.Record()
		if err == nil {
			if info.CustomerName == "" {
				first := ResolveField(rec, FieldSpec{Aliases: []string{"first_name", "customer_first_name"}})
				last := ResolveField(rec, FieldSpec{Aliases: []string{"last_name", "customer_last_name"}})
				info.CustomerName = strings.TrimSpace(first + " " + last)
			}
			if info.LeadVendor == "" {
				info.LeadVendor = ResolveField(rec, FieldSpec{Aliases: []string{"lead_vendor", "vendor", "source"}})
			}
		}
	}
	return info
}

// Agent is a CRM user profile, used to resolve display names.
type Agent struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Licensed    bool   `json:"licensed"`
}
