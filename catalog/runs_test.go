package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netraven/core/catalog"
)

func TestAggregateStatusAllSuccessIsCompletedSuccess(t *testing.T) {
	results := []*catalog.SubResult{
		{Status: catalog.SubSuccess},
		{Status: catalog.SubSuccess},
	}
	require.Equal(t, catalog.RunCompletedSuccess, catalog.AggregateStatus(results))
}

func TestAggregateStatusMixedOutcomesIsCompletedFailed(t *testing.T) {
	results := []*catalog.SubResult{
		{Status: catalog.SubSuccess},
		{Status: catalog.SubAuthFailure},
	}
	require.Equal(t, catalog.RunCompletedFailed, catalog.AggregateStatus(results))
}

// Every device failing is still a device-level outcome (completed_failed),
// never failed_error: failed_error is reserved for an actual worker/vault
// fault, set directly by the worker pool rather than inferred here.
func TestAggregateStatusAllDeviceFailuresIsCompletedFailedNotFailedError(t *testing.T) {
	results := []*catalog.SubResult{
		{Status: catalog.SubUnreachable},
		{Status: catalog.SubAuthFailure},
	}
	status := catalog.AggregateStatus(results)
	require.Equal(t, catalog.RunCompletedFailed, status)
	require.NotEqual(t, catalog.RunFailedError, status)
}

func TestAggregateStatusNoResultsIsNoDevices(t *testing.T) {
	require.Equal(t, catalog.RunNoDevices, catalog.AggregateStatus(nil))
}
