package visitview

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ActionKind identifies a view action
type ActionKind string

const (
	ActionRetry    ActionKind = "retry"
	ActionBack     ActionKind = "back"
	ActionContinue ActionKind = "continue"
	ActionSummary  ActionKind = "summary"
	ActionPlan     ActionKind = "plan"
	ActionEdit     ActionKind = "edit"
)

// ErrActionUnavailable is returned when an action is not offered by the current view
var ErrActionUnavailable = errors.New("action not available in current view")

// Action is a button exposed by a view. Target is empty for retry.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Label  string     `json:"label"`
	Target string     `json:"target,omitempty"`
}

// VisitsPath is the visit list page
const VisitsPath = "/visits"

func visitPath(id, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", VisitsPath, url.PathEscape(id), suffix)
}

func newAction(kind ActionKind, visitID string) Action {
	switch kind {
	case ActionContinue:
		return Action{Kind: kind, Label: "Continue Visit", Target: visitPath(visitID, "questions")}
	case ActionSummary:
		return Action{Kind: kind, Label: "View Response Summary", Target: visitPath(visitID, "summary")}
	case ActionPlan:
		return Action{Kind: kind, Label: "View Health Plan", Target: visitPath(visitID, "plan")}
	case ActionEdit:
		return Action{Kind: kind, Label: "Edit Visit", Target: visitPath(visitID, "edit")}
	case ActionRetry:
		return retryAction()
	default:
		return backAction()
	}
}

func retryAction() Action { return Action{Kind: ActionRetry, Label: "Try Again"} }

func backAction() Action { return Action{Kind: ActionBack, Label: "Back to Visits", Target: VisitsPath} }

// Router performs page navigation
type Router interface {
	Navigate(ctx context.Context, target string) error
}

// RouterFunc adapts a function to Router
type RouterFunc func(ctx context.Context, target string) error

// Navigate implements Router
func (f RouterFunc) Navigate(ctx context.Context, target string) error { return f(ctx, target) }

// Dispatch runs an action offered by the controller's current view.
// Retry reloads in place; every other action navigates away and unmounts the view.
func Dispatch(ctx context.Context, c *Controller, p Presenter, router Router, kind ActionKind) (Action, error) {
	view := p.Render(c.State())

	var action Action
	found := false
	for _, a := range view.Actions {
		if a.Kind == kind {
			action, found = a, true
			break
		}
	}
	if !found {
		return Action{}, fmt.Errorf("%s: %w", kind, ErrActionUnavailable)
	}

	if action.Kind == ActionRetry {
		if !c.Retry(ctx) {
			return Action{}, fmt.Errorf("%s: %w", kind, ErrActionUnavailable)
		}
		return action, nil
	}

	if router != nil {
		if err := router.Navigate(ctx, action.Target); err != nil {
			return Action{}, fmt.Errorf("navigate to %s: %w", action.Target, err)
		}
	}
	c.Unmount()
	return action, nil
}
