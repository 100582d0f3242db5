// File: internal/api/dispatcher.go
package api

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/observability"
	"github.com/xkilldash9x/tabrelay/internal/session"
	"github.com/xkilldash9x/tabrelay/internal/strategy"
)

// Dispatcher resolves sessions, picks a strategy from the tab's current URL
// and turns strategy outcomes into the response contract. It is the
// process-scoped application object; cmd builds exactly one.
type Dispatcher struct {
	logger   *zap.Logger
	registry *session.Registry
	selector *strategy.Selector
}

// NewDispatcher wires a registry and a selector together.
func NewDispatcher(registry *session.Registry, selector *strategy.Selector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		registry: registry,
		selector: selector,
	}
}

// CreateSession opens a session at url. The reported handler type is chosen
// from the requested URL; the current URL is wherever the tab ended up.
func (d *Dispatcher) CreateSession(ctx context.Context, url string) (*CreateSessionResponse, error) {
	id, s, err := d.registry.Create(ctx, url)
	if err != nil {
		return nil, err
	}

	current, err := s.Tab.URL(ctx)
	if err != nil {
		d.sessionLogger(s).Debug("Could not read url after creation.", zap.Error(err))
		current = url
	}

	return &CreateSessionResponse{
		SessionID:   id,
		Status:      "created",
		HandlerType: d.selector.Select(url).Name(),
		CurrentURL:  current,
	}, nil
}

// Actions lists the actions available on the session's current page.
func (d *Dispatcher) Actions(ctx context.Context, id string) (actions *strategy.PageActions, err error) {
	s, ok := d.registry.Get(id)
	if !ok {
		return nil, session.ErrNotFound
	}

	strat, err := d.strategyFor(ctx, s)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			d.sessionLogger(s).Error("Panic while listing actions.",
				zap.String("strategy", strat.Name()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			actions, err = nil, fmt.Errorf("panic while listing actions: %v", r)
		}
	}()
	return strat.ListActions(ctx, s.Tab)
}

// Execute runs one action. The error return is reserved for a missing
// session; every other failure is reported in-band.
func (d *Dispatcher) Execute(ctx context.Context, id string, req strategy.ActionRequest) (*ExecuteResponse, error) {
	s, ok := d.registry.Get(id)
	if !ok {
		return nil, session.ErrNotFound
	}

	strat, err := d.strategyFor(ctx, s)
	if err != nil {
		return failure(err), nil
	}

	logger := d.sessionLogger(s).With(zap.String("strategy", strat.Name()), zap.String("action_id", req.ActionID))
	logger.Debug("Executing action.")

	start := time.Now()
	result, err := d.invoke(ctx, strat, s, req, logger)
	observability.ObserveAction(strat.Name(), metricAction(req.ActionID, err), start, err)

	if err != nil {
		if _, handled := strategy.AsActionError(err); handled {
			logger.Info("Action failed.", zap.Error(err))
		} else {
			logger.Warn("Action failed unexpectedly.", zap.Error(err))
		}
		return failure(err), nil
	}

	current, err := s.Tab.URL(ctx)
	if err != nil {
		logger.Debug("Could not read url after action.", zap.Error(err))
	}
	return &ExecuteResponse{Success: true, Result: result, CurrentURL: current}, nil
}

// invoke shields the caller from strategy panics.
func (d *Dispatcher) invoke(ctx context.Context, strat strategy.Strategy, s *session.Session, req strategy.ActionRequest, logger *zap.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during action execution.",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = nil
			err = &strategy.ActionError{
				Code:   strategy.CodeExecutionFailure,
				Action: req.ActionID,
				Err:    fmt.Errorf("panic during execution: %v", r),
			}
		}
	}()
	return strat.Execute(ctx, s.Tab, req)
}

func (d *Dispatcher) sessionLogger(s *session.Session) *zap.Logger {
	return d.logger.With(zap.String("session_id", s.ID))
}

// metricAction keeps caller-chosen ids out of metric labels: anything the
// strategy rejected as unknown is recorded under one label.
func metricAction(action string, err error) string {
	if ae, ok := strategy.AsActionError(err); ok && ae.Code == strategy.CodeUnknownAction {
		return observability.UnknownActionLabel
	}
	return action
}

// strategyFor selects the strategy from the tab's current URL, re-evaluated
// on every request.
func (d *Dispatcher) strategyFor(ctx context.Context, s *session.Session) (strategy.Strategy, error) {
	url, err := s.Tab.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current url: %w", err)
	}
	return d.selector.Select(url), nil
}

// CloseSession releases a session. Unknown ids are accepted silently.
func (d *Dispatcher) CloseSession(ctx context.Context, id string) {
	d.registry.Close(ctx, id)
}

// Sessions lists the live sessions.
func (d *Dispatcher) Sessions() []session.Info {
	return d.registry.List()
}

// Shutdown closes every session and the browser engine.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.registry.Shutdown(ctx)
}

func failure(err error) *ExecuteResponse {
	resp := &ExecuteResponse{Success: false, Error: err.Error(), Code: string(strategy.CodeExecutionFailure)}
	if ae, ok := strategy.AsActionError(err); ok {
		resp.Code = string(ae.Code)
	}
	return resp
}
