// internal/strategy/strategy.go
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/tabrelay/internal/browser"
)

// ActionType classifies what an action does to the page.
type ActionType string

const (
	ActionInput   ActionType = "input"
	ActionRead    ActionType = "read"
	ActionExtract ActionType = "extract"
)

// ActionDescriptor advertises one executable action of the current page.
type ActionDescriptor struct {
	ID        string     `json:"id"`
	Type      ActionType `json:"type"`
	Label     string     `json:"label"`
	ParamName string     `json:"param_name,omitempty"`
	Selector  string     `json:"selector,omitempty"`
}

// PageActions is the action catalogue of a page at the time it was listed.
type PageActions struct {
	SiteType         string             `json:"site_type"`
	URL              string             `json:"url"`
	Title            string             `json:"title"`
	AvailableActions []ActionDescriptor `json:"available_actions"`
}

// ActionRequest names an action and its string parameters.
type ActionRequest struct {
	ActionID string            `json:"action_id"`
	Params   map[string]string `json:"params"`
}

// Param returns the named parameter and whether it was supplied non-empty.
func (r ActionRequest) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok && v != ""
}

// Strategy knows how to enumerate and drive the actions of one kind of site.
// Implementations hold no per-session state.
type Strategy interface {
	// Name identifies the strategy in responses and metrics.
	Name() string
	SiteType() string
	// ListActions inspects the page without changing it.
	ListActions(ctx context.Context, tab browser.Tab) (*PageActions, error)
	// Execute runs req against the page. Handled failures are *ActionError.
	Execute(ctx context.Context, tab browser.Tab, req ActionRequest) (any, error)
}

// ErrorCode categorizes a handled action failure.
type ErrorCode string

const (
	CodeUnknownAction    ErrorCode = "UNKNOWN_ACTION"
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	CodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
)

// ActionError is a failure the caller is told about in-band rather than
// through an HTTP error status.
type ActionError struct {
	Code    ErrorCode
	Action  string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *ActionError) Unwrap() error { return e.Err }

// AsActionError extracts an *ActionError from err's chain.
func AsActionError(err error) (*ActionError, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func unknownAction(action, message string) *ActionError {
	return &ActionError{Code: CodeUnknownAction, Action: action, Message: message}
}

func missingParameter(action, param string) *ActionError {
	return &ActionError{
		Code:    CodeMissingParameter,
		Action:  action,
		Message: fmt.Sprintf("Missing required parameter: %s", param),
	}
}

func elementNotFound(action, message string) *ActionError {
	return &ActionError{Code: CodeElementNotFound, Action: action, Message: message}
}

func executionFailure(action string, err error) *ActionError {
	return &ActionError{Code: CodeExecutionFailure, Action: action, Err: err}
}
