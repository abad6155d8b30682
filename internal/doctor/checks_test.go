package doctor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status   CheckStatus
		expected string
	}{
		{StatusPass, "pass"},
		{StatusWarn, "warn"},
		{StatusFail, "fail"},
		{CheckStatus(99), "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.status.String())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "ssh_key", Status: StatusWarn, Message: "m"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ssh_key","status":"warn","message":"m"}`, string(data))
}

// mockCheck is a test implementation of Check.
type mockCheck struct {
	name     string
	category string
	result   CheckResult
}

func (m *mockCheck) Name() string                      { return m.name }
func (m *mockCheck) Category() string                  { return m.category }
func (m *mockCheck) Run(_ context.Context) CheckResult { return m.result }

func mockChecks() []Check {
	return []Check{
		&mockCheck{name: "h1", category: CategoryHosts, result: CheckResult{Name: "h1", Status: StatusWarn}},
		&mockCheck{name: "c1", category: CategoryConfig, result: CheckResult{Name: "c1", Status: StatusPass}},
		&mockCheck{name: "h2", category: CategoryHosts, result: CheckResult{Name: "h2", Status: StatusFail}},
	}
}

func TestRunAll(t *testing.T) {
	results := RunAll(context.Background(), mockChecks())
	require.Len(t, results, 3)
	assert.Equal(t, "h1", results[0].Name)
	assert.Equal(t, StatusPass, results[1].Status)
	assert.Equal(t, StatusFail, results[2].Status)
}

func TestRunAllParallel_KeepsOrder(t *testing.T) {
	results := RunAllParallel(context.Background(), mockChecks())
	require.Len(t, results, 3)
	assert.Equal(t, []string{"h1", "c1", "h2"}, []string{results[0].Name, results[1].Name, results[2].Name})
}

func TestGroupByCategory(t *testing.T) {
	checks := mockChecks()
	groups := GroupByCategory(checks, RunAll(context.Background(), checks))

	require.Len(t, groups, 2)
	assert.Equal(t, CategoryConfig, groups[0].Name)
	assert.Equal(t, CategoryHosts, groups[1].Name)
	require.Len(t, groups[1].Results, 2)
	assert.Equal(t, "h2", groups[1].Results[1].Name)
}

func TestSummaryHelpers(t *testing.T) {
	pass := []CheckResult{{Status: StatusPass}}
	assert.False(t, HasIssues(pass))
	assert.False(t, HasFailures(pass))
	assert.Equal(t, "Everything looks good", Summary(pass))

	mixed := RunAll(context.Background(), mockChecks())
	assert.True(t, HasIssues(mixed))
	assert.True(t, HasFailures(mixed))
	assert.Equal(t, "2 issues found", Summary(mixed))

	counts := CountByStatus(mixed)
	assert.Equal(t, 1, counts[StatusPass])
	assert.Equal(t, 1, counts[StatusWarn])
	assert.Equal(t, 1, counts[StatusFail])

	assert.Equal(t, "1 issue found", Summary([]CheckResult{{Status: StatusWarn}}))
}
