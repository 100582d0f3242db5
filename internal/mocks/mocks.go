// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/tabrelay/internal/browser"
	"github.com/xkilldash9x/tabrelay/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	return m.Called().Get(0).(config.ServerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	return m.Called().Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Session() config.SessionConfig {
	return m.Called().Get(0).(config.SessionConfig)
}

func (m *MockConfig) Limits() config.LimitsConfig {
	return m.Called().Get(0).(config.LimitsConfig)
}

func (m *MockConfig) Strategies() config.StrategiesConfig {
	return m.Called().Get(0).(config.StrategiesConfig)
}

func (m *MockConfig) SetServerListenAddr(addr string)   { m.Called(addr) }
func (m *MockConfig) SetBrowserHeadless(b bool)         { m.Called(b) }
func (m *MockConfig) SetSessionStrictNavigation(b bool) { m.Called(b) }

// -- Engine Mock --

// MockEngine mocks browser.Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) NewTab(ctx context.Context) (browser.Tab, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Tab), args.Error(1)
}

func (m *MockEngine) Shutdown(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Tab Mock --

// MockTab mocks browser.Tab.
type MockTab struct {
	mock.Mock
}

func (m *MockTab) ID() string { return m.Called().String(0) }
func (m *MockTab) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockTab) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockTab) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockTab) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockTab) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, selector, timeout)
	return args.Bool(0), args.Error(1)
}
func (m *MockTab) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}
func (m *MockTab) Fill(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}
func (m *MockTab) Press(ctx context.Context, selector, key string) error {
	return m.Called(ctx, selector, key).Error(0)
}
func (m *MockTab) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockTab) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}
func (m *MockTab) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

var (
	_ config.Interface = (*MockConfig)(nil)
	_ browser.Engine   = (*MockEngine)(nil)
	_ browser.Tab      = (*MockTab)(nil)
)
