// internal/catalog/reconciler.go
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sensor-pipeline/internal/models"
)

// The catalog accepts at most this many partitions per create call.
const maxPartitionBatch = 100

const defaultListConcurrency = 4

// Archive prefixes must match the fixed partition grammar exactly.
var partitionPattern = regexp.MustCompile(`^year=(\d{4})/month=(\d{2})/day=(\d{2})/hour=(\d{2})/$`)

// GlueAPI is the subset of the Glue client the reconciler uses.
type GlueAPI interface {
	GetPartitions(ctx context.Context, params *glue.GetPartitionsInput, optFns ...func(*glue.Options)) (*glue.GetPartitionsOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error)
}

// S3ListAPI lists archive prefixes.
type S3ListAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Reconciler registers newly-landed archive partitions in the Glue catalog
// so they become queryable. It runs before every query, is idempotent, and
// is safe to run concurrently with itself: a partition that already exists
// when we try to register it counts as success.
type Reconciler struct {
	glue        GlueAPI
	s3          S3ListAPI
	bucket      string
	database    string
	table       string
	concurrency int
	log         zerolog.Logger
}

// NewReconciler builds a reconciler for one archive bucket and catalog table.
func NewReconciler(glueClient GlueAPI, s3Client S3ListAPI, bucket, database, table string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		glue:        glueClient,
		s3:          s3Client,
		bucket:      bucket,
		database:    database,
		table:       table,
		concurrency: defaultListConcurrency,
		log:         log,
	}
}

// Reconcile diffs the archive's date/hour prefixes against the catalog's
// known partitions and registers the missing ones in bounded batches.
// No-op when the archive bucket is unconfigured.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if r.bucket == "" {
		r.log.Info().Msg("partition reconciliation skipped: archive bucket not configured")
		return nil
	}

	known, err := r.knownPartitions(ctx)
	if err != nil {
		return err
	}

	tableOut, err := r.glue.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(r.database),
		Name:         aws.String(r.table),
	})
	if err != nil {
		return fmt.Errorf("failed to get catalog table %s: %w", r.table, err)
	}
	descriptor := tableOut.Table.StorageDescriptor

	discovered, err := r.discoverPartitions(ctx)
	if err != nil {
		return err
	}

	var missing []models.PartitionKey
	for _, key := range discovered {
		if _, ok := known[strings.Join(key.Values(), "/")]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		r.log.Debug().Int("known", len(known)).Msg("partition reconciliation: nothing new")
		return nil
	}

	r.register(ctx, missing, descriptor)
	return nil
}

func (r *Reconciler) knownPartitions(ctx context.Context) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	var nextToken *string
	for {
		out, err := r.glue.GetPartitions(ctx, &glue.GetPartitionsInput{
			DatabaseName: aws.String(r.database),
			TableName:    aws.String(r.table),
			NextToken:    nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list catalog partitions: %w", err)
		}
		for _, p := range out.Partitions {
			known[strings.Join(p.Values, "/")] = struct{}{}
		}
		if out.NextToken == nil {
			return known, nil
		}
		nextToken = out.NextToken
	}
}

// discoverPartitions walks year -> month -> day -> hour prefixes. The two
// inner levels dominate the listing cost, so they fan out with bounded
// concurrency.
func (r *Reconciler) discoverPartitions(ctx context.Context) ([]models.PartitionKey, error) {
	monthPrefixes, err := r.listTwoLevels(ctx, "year=")
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		keys []models.PartitionKey
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)

	for _, monthPrefix := range monthPrefixes {
		group.Go(func() error {
			hourPrefixes, err := r.listTwoLevels(groupCtx, monthPrefix)
			if err != nil {
				return err
			}
			for _, hourPrefix := range hourPrefixes {
				m := partitionPattern.FindStringSubmatch(hourPrefix)
				if m == nil {
					continue
				}
				mu.Lock()
				keys = append(keys, models.PartitionKey{Year: m[1], Month: m[2], Day: m[3], Hour: m[4]})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// listTwoLevels lists the immediate child prefixes of prefix, then the
// children of each of those.
func (r *Reconciler) listTwoLevels(ctx context.Context, prefix string) ([]string, error) {
	firstLevel, err := r.listPrefixes(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var secondLevel []string
	for _, child := range firstLevel {
		grandchildren, err := r.listPrefixes(ctx, child)
		if err != nil {
			return nil, err
		}
		secondLevel = append(secondLevel, grandchildren...)
	}
	return secondLevel, nil
}

func (r *Reconciler) listPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var (
		prefixes          []string
		continuationToken *string
	)
	for {
		out, err := r.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list archive prefixes under %s: %w", prefix, err)
		}
		for _, common := range out.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(common.Prefix))
		}
		if out.NextContinuationToken == nil {
			return prefixes, nil
		}
		continuationToken = out.NextContinuationToken
	}
}

// register creates missing partitions in batches, carrying the table's
// storage descriptor with only the location overridden. Registration
// errors are per-partition and never fatal; AlreadyExists means a
// concurrent reconciler won the race, which is fine.
func (r *Reconciler) register(ctx context.Context, missing []models.PartitionKey, descriptor *gluetypes.StorageDescriptor) {
	registered := 0
	for start := 0; start < len(missing); start += maxPartitionBatch {
		end := min(start+maxPartitionBatch, len(missing))
		batch := missing[start:end]

		inputs := make([]gluetypes.PartitionInput, 0, len(batch))
		for _, key := range batch {
			sd := partitionDescriptor(descriptor, fmt.Sprintf("s3://%s/%s", r.bucket, key.Prefix()))
			inputs = append(inputs, gluetypes.PartitionInput{
				Values:            key.Values(),
				StorageDescriptor: sd,
			})
		}

		out, err := r.glue.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
			DatabaseName:       aws.String(r.database),
			TableName:          aws.String(r.table),
			PartitionInputList: inputs,
		})
		if err != nil {
			r.log.Warn().Err(err).Int("batch", len(batch)).Msg("partition batch create failed")
			continue
		}

		registered += len(batch) - len(out.Errors)
		for _, batchErr := range out.Errors {
			if batchErr.ErrorDetail != nil && aws.ToString(batchErr.ErrorDetail.ErrorCode) == "AlreadyExistsException" {
				registered++
				continue
			}
			r.log.Warn().
				Strs("partition", batchErr.PartitionValues).
				Str("code", errorCode(batchErr)).
				Msg("partition registration failed")
		}
	}
	r.log.Info().Int("registered", registered).Int("discovered_new", len(missing)).Msg("partition reconciliation complete")
}

func partitionDescriptor(template *gluetypes.StorageDescriptor, location string) *gluetypes.StorageDescriptor {
	if template == nil {
		return &gluetypes.StorageDescriptor{Location: aws.String(location)}
	}
	sd := *template
	sd.Location = aws.String(location)
	return &sd
}

func errorCode(err gluetypes.PartitionError) string {
	if err.ErrorDetail == nil {
		return "unknown"
	}
	return aws.ToString(err.ErrorDetail.ErrorCode)
}
