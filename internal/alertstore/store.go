// internal/alertstore/store.go
package alertstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/models"
)

// ErrAlreadyExists reports a conditional put that lost to an existing
// record with the same (event_date, event_id). Callers treat it as success.
var ErrAlreadyExists = errors.New("alert record already exists")

const maxBatchWriteItems = 25

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store is the indexed alert store: a DynamoDB table partitioned by
// event_date with a lexicographically time-ordered event_id sort key.
type Store struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// New builds a Store over the given table.
func New(client DynamoAPI, table string, log zerolog.Logger) *Store {
	return &Store{client: client, table: table, log: log}
}

// Put writes one record, failing with ErrAlreadyExists when the key is
// already present.
func (s *Store) Put(ctx context.Context, rec models.AlertRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal alert record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to put alert record: %w", err)
	}
	return nil
}

// BatchPut writes records in chunks within the store's batch limit.
// Writes are idempotent overwrites keyed by (event_date, event_id), so a
// retried batch converges to the same stored state.
func (s *Store) BatchPut(ctx context.Context, recs []models.AlertRecord) error {
	for start := 0; start < len(recs); start += maxBatchWriteItems {
		end := min(start+maxBatchWriteItems, len(recs))
		if err := s.writeChunk(ctx, recs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeChunk(ctx context.Context, recs []models.AlertRecord) error {
	requests := make([]types.WriteRequest, 0, len(recs))
	for _, rec := range recs {
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal alert record %s: %w", rec.EventID, err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}

	pending := map[string][]types.WriteRequest{s.table: requests}
	// DynamoDB may return a partial batch as unprocessed under throttling.
	for attempt := 0; len(pending[s.table]) > 0; attempt++ {
		if attempt >= 3 {
			return fmt.Errorf("batch write left %d unprocessed items after %d attempts", len(pending[s.table]), attempt)
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("failed to batch write alert records: %w", err)
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// QueryByDate returns up to limit records for one date partition,
// newest first.
func (s *Store) QueryByDate(ctx context.Context, date string, limit int) ([]map[string]any, error) {
	keyCond := expression.Key("event_date").Equal(expression.Value(date))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for %s: %w", date, err)
	}

	items := make([]map[string]any, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert items: %w", err)
	}
	return items, nil
}

// WindowItem is the projection streamed by QueryWindow: just the fields
// the metrics aggregator needs, keeping per-partition scan cost down.
type WindowItem struct {
	Timestamp int64  `dynamodbav:"timestamp"`
	SrcIP     string `dynamodbav:"src_ip"`
	DestPort  *int   `dynamodbav:"dest_port"`
	Severity  *int   `dynamodbav:"severity"`
}

// QueryWindow streams all records in one date partition whose timestamp
// falls within [startMs, endMs], following continuation tokens until the
// partition is exhausted.
func (s *Store) QueryWindow(ctx context.Context, date string, startMs, endMs int64, fn func(WindowItem)) error {
	keyCond := expression.Key("event_date").Equal(expression.Value(date))
	filter := expression.Name("timestamp").Between(expression.Value(startMs), expression.Value(endMs))
	projection := expression.NamesList(
		expression.Name("timestamp"),
		expression.Name("src_ip"),
		expression.Name("dest_port"),
		expression.Name("severity"),
	)
	expr, err := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithFilter(filter).
		WithProjection(projection).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build window expression: %w", err)
	}

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return fmt.Errorf("failed to query window for %s: %w", date, err)
		}

		var items []WindowItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return fmt.Errorf("failed to unmarshal window items: %w", err)
		}
		for _, item := range items {
			fn(item)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}
