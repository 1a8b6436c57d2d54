// internal/query/executor.go
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/rs/zerolog"
)

// ErrQueryTimeout reports a query that never reached a terminal state
// within the polling ceiling. The engine execution is cancelled before
// this is returned; the caller never sees a partial result.
var ErrQueryTimeout = errors.New("query timed out")

// ErrExecution reports a FAILED or CANCELLED execution, with the
// engine-provided reason.
var ErrExecution = errors.New("query execution failed")

const (
	defaultPollInterval = time.Second
	defaultMaxPolls     = 30
)

// AthenaAPI is the subset of the Athena client the executor uses.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// ResultSet is a completed query's rows plus cost metadata.
type ResultSet struct {
	Items            []map[string]string `json:"items"`
	Count            int                 `json:"count"`
	DataScannedBytes int64               `json:"data_scanned_bytes"`
	DataScannedMB    float64             `json:"data_scanned_mb"`
}

// Executor submits a statement to the async query engine and polls it to a
// terminal state under a bounded deadline.
type Executor struct {
	client       AthenaAPI
	workgroup    string
	pollInterval time.Duration
	maxPolls     int
	log          zerolog.Logger
}

// NewExecutor builds an executor with the default 1s x 30 polling budget.
func NewExecutor(client AthenaAPI, workgroup string, log zerolog.Logger) *Executor {
	return &Executor{
		client:       client,
		workgroup:    workgroup,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		log:          log,
	}
}

// Run executes stmt to completion. Exhausting the polling ceiling, or the
// caller's context being cancelled, issues exactly one cancel request
// against the engine before returning.
func (e *Executor) Run(ctx context.Context, stmt Statement) (*ResultSet, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(stmt.SQL),
		WorkGroup:   aws.String(e.workgroup),
	}
	if len(stmt.Parameters) > 0 {
		input.ExecutionParameters = stmt.Parameters
	}

	started, err := e.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to submit query: %w", err)
	}
	executionID := aws.ToString(started.QueryExecutionId)

	execution, err := e.poll(ctx, executionID)
	if err != nil {
		return nil, err
	}

	result, err := e.fetchResults(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if stats := execution.Statistics; stats != nil {
		result.DataScannedBytes = aws.ToInt64(stats.DataScannedInBytes)
		result.DataScannedMB = math.Round(float64(result.DataScannedBytes)/(1024*1024)*100) / 100
	}
	return result, nil
}

func (e *Executor) poll(ctx context.Context, executionID string) (*types.QueryExecution, error) {
	for attempt := 0; attempt < e.maxPolls; attempt++ {
		out, err := e.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get query status: %w", err)
		}

		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return out.QueryExecution, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := aws.ToString(status.StateChangeReason)
			if reason == "" {
				reason = "unknown error"
			}
			return nil, fmt.Errorf("%w: %s: %s", ErrExecution, status.State, reason)
		}

		select {
		case <-ctx.Done():
			e.cancel(executionID)
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}

	e.cancel(executionID)
	return nil, fmt.Errorf("%w after %d polls", ErrQueryTimeout, e.maxPolls)
}

// cancel uses a fresh context so cancellation still reaches the engine
// when the caller's context is already dead.
func (e *Executor) cancel(executionID string) {
	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if _, err := e.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	}); err != nil {
		e.log.Warn().Err(err).Str("execution_id", executionID).Msg("failed to cancel query execution")
	}
}

// fetchResults maps the tabular output to field-name -> value items. The
// first row is the header; columns with no declared name are skipped. A
// header-only result is an explicit empty shape, not an error.
func (e *Executor) fetchResults(ctx context.Context, executionID string) (*ResultSet, error) {
	var (
		headers   []string
		items     []map[string]string
		nextToken *string
		firstPage = true
	)

	for {
		out, err := e.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get query results: %w", err)
		}

		rows := out.ResultSet.Rows
		if firstPage {
			if len(rows) < 2 {
				return &ResultSet{Items: []map[string]string{}}, nil
			}
			for _, col := range rows[0].Data {
				headers = append(headers, aws.ToString(col.VarCharValue))
			}
			rows = rows[1:]
			firstPage = false
		}

		for _, row := range rows {
			item := make(map[string]string)
			for i, col := range row.Data {
				if i >= len(headers) || headers[i] == "" || col.VarCharValue == nil {
					continue
				}
				item[headers[i]] = aws.ToString(col.VarCharValue)
			}
			items = append(items, item)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	if items == nil {
		items = []map[string]string{}
	}
	return &ResultSet{Items: items, Count: len(items)}, nil
}
