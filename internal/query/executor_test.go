package query

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAthena struct {
	states      []types.QueryExecutionState
	statusCalls int
	stopCalls   int
	reason      string
	scanned     int64
	resultRows  []types.Row
	params      []string
}

func (f *fakeAthena) StartQueryExecution(_ context.Context, params *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.params = params.ExecutionParameters
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("exec-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(_ context.Context, _ *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	state := f.states[min(f.statusCalls, len(f.states)-1)]
	f.statusCalls++
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &types.QueryExecution{
			Status: &types.QueryExecutionStatus{
				State:             state,
				StateChangeReason: aws.String(f.reason),
			},
			Statistics: &types.QueryExecutionStatistics{
				DataScannedInBytes: aws.Int64(f.scanned),
			},
		},
	}, nil
}

func (f *fakeAthena) GetQueryResults(_ context.Context, _ *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	return &athena.GetQueryResultsOutput{
		ResultSet: &types.ResultSet{Rows: f.resultRows},
	}, nil
}

func (f *fakeAthena) StopQueryExecution(_ context.Context, _ *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.stopCalls++
	return &athena.StopQueryExecutionOutput{}, nil
}

func row(values ...string) types.Row {
	data := make([]types.Datum, len(values))
	for i, v := range values {
		data[i] = types.Datum{VarCharValue: aws.String(v)}
	}
	return types.Row{Data: data}
}

func newTestExecutor(client AthenaAPI) *Executor {
	e := NewExecutor(client, "primary", zerolog.Nop())
	e.pollInterval = time.Millisecond
	return e
}

func TestRunSucceeded(t *testing.T) {
	client := &fakeAthena{
		states:  []types.QueryExecutionState{types.QueryExecutionStateRunning, types.QueryExecutionStateSucceeded},
		scanned: 3 * 1024 * 1024,
		resultRows: []types.Row{
			row("event_type", "src_ip"),
			row("alert", "203.0.113.7"),
			row("dns", "198.51.100.9"),
		},
	}

	result, err := newTestExecutor(client).Run(context.Background(), Statement{SQL: "SELECT 1", Parameters: []string{"alert"}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "alert", result.Items[0]["event_type"])
	assert.Equal(t, "198.51.100.9", result.Items[1]["src_ip"])
	assert.Equal(t, int64(3*1024*1024), result.DataScannedBytes)
	assert.Equal(t, 3.0, result.DataScannedMB)
	assert.Equal(t, []string{"alert"}, client.params)
	assert.Zero(t, client.stopCalls)
}

func TestRunHeaderOnlyIsEmptyResult(t *testing.T) {
	client := &fakeAthena{
		states:     []types.QueryExecutionState{types.QueryExecutionStateSucceeded},
		resultRows: []types.Row{row("event_type", "src_ip")},
	}

	result, err := newTestExecutor(client).Run(context.Background(), Statement{SQL: "SELECT 1"})
	require.NoError(t, err)

	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
	assert.Zero(t, result.Count)
}

func TestRunSkipsUnnamedColumns(t *testing.T) {
	client := &fakeAthena{
		states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded},
		resultRows: []types.Row{
			row("event_type", ""),
			row("alert", "ignored"),
		},
	}

	result, err := newTestExecutor(client).Run(context.Background(), Statement{SQL: "SELECT 1"})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, map[string]string{"event_type": "alert"}, result.Items[0])
}

func TestRunFailedSurfacesReason(t *testing.T) {
	client := &fakeAthena{
		states: []types.QueryExecutionState{types.QueryExecutionStateFailed},
		reason: "SYNTAX_ERROR: line 1",
	}

	_, err := newTestExecutor(client).Run(context.Background(), Statement{SQL: "SELECT 1"})
	require.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "SYNTAX_ERROR: line 1")
	assert.Zero(t, client.stopCalls, "terminal states must not be cancelled")
}

func TestRunTimeoutCancelsExactlyOnce(t *testing.T) {
	client := &fakeAthena{
		states: []types.QueryExecutionState{types.QueryExecutionStateRunning},
	}
	executor := newTestExecutor(client)
	executor.maxPolls = 5

	_, err := executor.Run(context.Background(), Statement{SQL: "SELECT 1"})
	require.ErrorIs(t, err, ErrQueryTimeout)
	assert.Equal(t, 1, client.stopCalls)
	assert.Equal(t, 5, client.statusCalls)
}

func TestRunContextCancellationStopsPolling(t *testing.T) {
	client := &fakeAthena{
		states: []types.QueryExecutionState{types.QueryExecutionStateRunning},
	}
	executor := newTestExecutor(client)
	executor.pollInterval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Run(ctx, Statement{SQL: "SELECT 1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.stopCalls, "cancellation must propagate to the engine")
}
