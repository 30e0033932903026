package visitview

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/visitdesk/internal/domain/visit"
)

// NotAvailable is shown for every missing or unreadable value
const NotAvailable = "N/A"

// Badge tones
const (
	ToneSuccess = "success"
	ToneInfo    = "info"
	ToneNeutral = "neutral"
)

const timestampLayout = "January 2, 2006 at 3:04 PM"

var timestampInputs = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Badge is the visit status pill
type Badge struct {
	Label string `json:"label"`
	Tone  string `json:"tone"`
}

// Field is a labelled detail row
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section kinds
const (
	SectionList   = "list"
	SectionNotice = "notice"
	SectionNone   = "none"
)

// ResponseItem is one question and its stringified answer
type ResponseItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Section is the responses block of a loaded visit
type Section struct {
	Kind   string         `json:"kind"`
	Items  []ResponseItem `json:"items,omitempty"`
	Notice string         `json:"notice,omitempty"`
	Hint   string         `json:"hint,omitempty"`
}

// View is everything needed to render one state of the visit detail page
type View struct {
	State     string   `json:"state"`
	VisitID   string   `json:"visitId,omitempty"`
	Title     string   `json:"title"`
	Message   string   `json:"message,omitempty"`
	Badge     *Badge   `json:"badge,omitempty"`
	Fields    []Field  `json:"fields,omitempty"`
	Responses *Section `json:"responses,omitempty"`
	Actions   []Action `json:"actions"`
}

// Presenter maps view state to a View. It has no side effects and never
// panics on malformed records. The zero value formats times in UTC.
type Presenter struct {
	Location *time.Location
}

// StatusBadge labels a visit status
func (p Presenter) StatusBadge(status visit.Status) Badge {
	switch {
	case status.IsCompleted():
		return Badge{Label: "Completed", Tone: ToneSuccess}
	case status.IsInProgress():
		return Badge{Label: "In Progress", Tone: ToneInfo}
	case strings.TrimSpace(string(status)) == "":
		return Badge{Label: "Unknown", Tone: ToneNeutral}
	default:
		return Badge{Label: string(status), Tone: ToneNeutral}
	}
}

// FormatTimestamp renders a long date and time, or "N/A"
func (p Presenter) FormatTimestamp(value *string) string {
	if value == nil {
		return NotAvailable
	}
	t, ok := parseTimestamp(*value)
	if !ok {
		return NotAvailable
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timestampLayout)
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampInputs {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	// bare integers are epoch milliseconds
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// AvailableActions lists the actions for a loaded visit in display order
func (p Presenter) AvailableActions(rec *visit.Record) []Action {
	if rec == nil {
		return []Action{backAction()}
	}

	actions := make([]Action, 0, 4)
	if rec.Status.IsInProgress() {
		actions = append(actions, newAction(ActionContinue, rec.ID))
	}
	actions = append(actions, newAction(ActionSummary, rec.ID))
	if rec.Status.IsCompleted() {
		actions = append(actions, newAction(ActionPlan, rec.ID))
	}
	actions = append(actions, newAction(ActionEdit, rec.ID))
	return actions
}

// ResponsesSection decides how the responses block renders
func (p Presenter) ResponsesSection(rec *visit.Record) Section {
	if rec == nil {
		return Section{Kind: SectionNone}
	}
	if len(rec.Responses) > 0 {
		items := make([]ResponseItem, 0, len(rec.Responses))
		for _, r := range rec.Responses {
			q := r.Question.Text
			if strings.TrimSpace(q) == "" {
				q = NotAvailable
			}
			items = append(items, ResponseItem{Question: q, Answer: AnswerText(r.Answer)})
		}
		return Section{Kind: SectionList, Items: items}
	}
	if rec.Status.IsCompleted() {
		return Section{Kind: SectionNone}
	}

	s := Section{Kind: SectionNotice, Notice: "No responses have been recorded for this visit yet."}
	if rec.Status.IsInProgress() {
		s.Hint = "Continue the visit to answer the remaining questions."
	}
	return s
}

// AnswerText stringifies an answer: scalars as their text, anything else as JSON
func AnswerText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NotAvailable
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	switch raw[0] {
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
		return NotAvailable
	default:
		// numbers and booleans
		return string(raw)
	}
}

func displayOrNA(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return NotAvailable
	}
	return *s
}

// Render builds the View for a state
func (p Presenter) Render(s State) View {
	v := View{State: s.Phase.String(), VisitID: s.VisitID, Actions: []Action{}}

	switch s.Phase {
	case PhaseLoading:
		v.Title = "Loading visit"
	case PhaseError:
		v.Title = "Unable to load visit"
		v.Message = s.Message
		if v.Message == "" {
			v.Message = "Unknown error"
		}
		v.Actions = []Action{retryAction(), backAction()}
	case PhaseEmpty:
		v.Title = "Visit not found"
		v.Message = "The requested visit could not be found."
		v.Actions = []Action{backAction()}
	case PhaseLoaded:
		rec := s.Record
		if rec == nil {
			return p.Render(State{Phase: PhaseEmpty, VisitID: s.VisitID, Generation: s.Generation})
		}
		badge := p.StatusBadge(rec.Status)
		section := p.ResponsesSection(rec)
		v.Title = "Visit Details"
		v.Badge = &badge
		v.Fields = []Field{
			{Label: "Patient", Value: displayOrNA(rec.PatientName)},
			{Label: "Template", Value: displayOrNA(rec.TemplateName)},
			{Label: "Provider", Value: displayOrNA(rec.ProviderName)},
			{Label: "Visit Date", Value: p.FormatTimestamp(rec.Date)},
			{Label: "Created", Value: p.FormatTimestamp(rec.CreatedAt)},
			{Label: "Last Updated", Value: p.FormatTimestamp(rec.UpdatedAt)},
		}
		v.Responses = &section
		v.Actions = append([]Action{backAction()}, p.AvailableActions(rec)...)
	}
	return v
}
