// Package visit defines the visit record read by the visit detail view.
package visit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status represents visit status
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
)

// IsCompleted reports whether the visit is completed
func (s Status) IsCompleted() bool { return s == StatusCompleted }

// IsInProgress reports whether the visit is still being filled in
func (s Status) IsInProgress() bool { return s == StatusInProgress }

// ErrNotFound is returned when no visit exists for an identifier
var ErrNotFound = errors.New("visit not found")

// ErrMissingID indicates a decoded record without an identifier
var ErrMissingID = errors.New("visit record missing id")

// Question is the prompt a response answers
type Question struct {
	Text string `json:"text"`
}

// Response is one answered question of a visit
type Response struct {
	Question Question        `json:"question"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

// Record is a single clinical visit and its responses.
// Optional display fields are pointers; timestamps stay raw strings so a
// malformed value degrades at render time instead of failing the decode.
type Record struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status,omitempty"`
	PatientName  *string    `json:"patientName,omitempty"`
	TemplateName *string    `json:"templateName,omitempty"`
	ProviderName *string    `json:"providerName,omitempty"`
	Date         *string    `json:"date,omitempty"`
	CreatedAt    *string    `json:"createdAt,omitempty"`
	UpdatedAt    *string    `json:"updatedAt,omitempty"`
	Responses    []Response `json:"responses"`
}

// wireRecord accepts any JSON type for the timestamp fields
type wireRecord struct {
	ID           string          `json:"id"`
	Status       json.RawMessage `json:"status"`
	PatientName  json.RawMessage `json:"patientName"`
	TemplateName json.RawMessage `json:"templateName"`
	ProviderName json.RawMessage `json:"providerName"`
	Date         json.RawMessage `json:"date"`
	CreatedAt    json.RawMessage `json:"createdAt"`
	UpdatedAt    json.RawMessage `json:"updatedAt"`
	Responses    json.RawMessage `json:"responses"`
}

// Decode parses a visit body. A JSON null body yields (nil, nil).
func Decode(data []byte) (*Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var w wireRecord
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode visit: %w", err)
	}
	if strings.TrimSpace(w.ID) == "" {
		return nil, ErrMissingID
	}

	rec := &Record{
		ID:           w.ID,
		Status:       Status(optionalString(w.Status)),
		PatientName:  optionalPtr(w.PatientName),
		TemplateName: optionalPtr(w.TemplateName),
		ProviderName: optionalPtr(w.ProviderName),
		Date:         optionalPtr(w.Date),
		CreatedAt:    optionalPtr(w.CreatedAt),
		UpdatedAt:    optionalPtr(w.UpdatedAt),
		Responses:    decodeResponses(w.Responses),
	}
	return rec, nil
}

// decodeResponses keeps well-formed entries and drops the rest
func decodeResponses(raw json.RawMessage) []Response {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]Response, 0, len(items))
	for _, item := range items {
		var r struct {
			Question json.RawMessage `json:"question"`
			Answer   json.RawMessage `json:"answer"`
		}
		if err := json.Unmarshal(item, &r); err != nil {
			continue
		}
		var q Question
		if err := json.Unmarshal(r.Question, &q); err != nil {
			q.Text = optionalString(r.Question)
		}
		out = append(out, Response{Question: q, Answer: r.Answer})
	}
	return out
}

// optionalString returns the text of a JSON scalar, or "" for null/absent/structured values
func optionalString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func optionalPtr(raw json.RawMessage) *string {
	s := optionalString(raw)
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr is a helper for building records in code
func StringPtr(s string) *string { return &s }
