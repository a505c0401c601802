// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	args := m.Called()
	return args.Get(0).(config.RunnerConfig)
}

func (m *MockConfig) Probe() config.ProbeConfig {
	args := m.Called()
	return args.Get(0).(config.ProbeConfig)
}

func (m *MockConfig) Action() config.ActionConfig {
	args := m.Called()
	return args.Get(0).(config.ActionConfig)
}

func (m *MockConfig) Fallback() config.FallbackConfig {
	args := m.Called()
	return args.Get(0).(config.FallbackConfig)
}

func (m *MockConfig) Locators() config.LocatorsConfig {
	args := m.Called()
	return args.Get(0).(config.LocatorsConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)             { m.Called(b) }
func (m *MockConfig) SetRunnerMaxStepTime(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetFallbackEnabled(b bool)             { m.Called(b) }
func (m *MockConfig) SetReportFormat(format string)         { m.Called(format) }
func (m *MockConfig) SetReportOutput(path string)           { m.Called(path) }
func (m *MockConfig) SetReportScreenshotDir(dir string)     { m.Called(dir) }

// -- Page Mock --

// MockPage mocks the schemas.Page interface.
type MockPage struct {
	mock.Mock
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockPage) Count(ctx context.Context, selector string) (int, error) {
	args := m.Called(ctx, selector)
	return args.Int(0), args.Error(1)
}
func (m *MockPage) IsVisible(ctx context.Context, selector string, index int) (bool, error) {
	args := m.Called(ctx, selector, index)
	return args.Bool(0), args.Error(1)
}
func (m *MockPage) WaitVisible(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) Click(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) ForceClick(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) DispatchClick(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) Fill(ctx context.Context, selector string, index int, value string) error {
	return m.Called(ctx, selector, index, value).Error(0)
}
func (m *MockPage) Clear(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) TypeText(ctx context.Context, selector string, index int, text string) error {
	return m.Called(ctx, selector, index, text).Error(0)
}
func (m *MockPage) Value(ctx context.Context, selector string, index int) (string, error) {
	args := m.Called(ctx, selector, index)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Text(ctx context.Context, selector string, index int) (string, error) {
	args := m.Called(ctx, selector, index)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	args := m.Called(ctx, selector, index, name)
	return args.String(0), args.Error(1)
}
func (m *MockPage) ScrollIntoView(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) SmoothScroll(ctx context.Context, selector string, index int) error {
	return m.Called(ctx, selector, index).Error(0)
}
func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Natural-Language Executor Mock --

// MockNLExecutor mocks the schemas.NLExecutor interface.
type MockNLExecutor struct {
	mock.Mock
}

var _ schemas.NLExecutor = (*MockNLExecutor)(nil)

// Execute provides a mock function for fallback execution.
func (m *MockNLExecutor) Execute(ctx context.Context, instruction string, ec schemas.ExecContext) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return m.Called(ctx, instruction, ec).Error(0)
}

// -- Step Hook Mock --

// MockHook mocks the schemas.StepHook interface.
type MockHook struct {
	mock.Mock
}

var _ schemas.StepHook = (*MockHook)(nil)

func (m *MockHook) OnStepStart(ctx context.Context, index int, step schemas.Step) {
	m.Called(ctx, index, step)
}
func (m *MockHook) OnStepEnd(ctx context.Context, report schemas.StepReport) {
	m.Called(ctx, report)
}

// -- Store Mock --

// MockStore mocks the schemas.RunStore interface.
type MockStore struct {
	mock.Mock
}

var _ schemas.RunStore = (*MockStore)(nil)

// PersistRun provides a mock function for persisting run reports.
func (m *MockStore) PersistRun(ctx context.Context, report *schemas.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

// GetRun provides a mock function for retrieving a run.
func (m *MockStore) GetRun(ctx context.Context, runID string) (*schemas.RunReport, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.RunReport), args.Error(1)
}

// -- Locator Lookup Mock --

// MockLocatorLookup mocks registry-backed selector lookups.
type MockLocatorLookup struct {
	mock.Mock
}

// GetLocator provides a mock function for known selector lookups.
func (m *MockLocatorLookup) GetLocator(ctx context.Context, sourceID, key string) (string, error) {
	args := m.Called(ctx, sourceID, key)
	return args.String(0), args.Error(1)
}
