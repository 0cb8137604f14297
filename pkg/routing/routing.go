// Package routing resolves the delivery targets for a monitored
// bucket/prefix: which destination buckets, in which regions, with which
// storage-class and encryption overrides.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/s3xrc/s3xrc/pkg/manifest"
)

// ErrNoRoute indicates neither the bucket/prefix key nor the bucket-level
// fallback has a routing entry.
var ErrNoRoute = errors.New("no routing entry")

// Lookup resolves targets for a source bucket and monitored prefix.
type Lookup interface {
	Targets(ctx context.Context, bucket, prefix string) ([]manifest.TargetSpec, error)
}

// record is the stored routing document.
type record struct {
	Key     string                `dynamodbav:"key"`
	Targets []manifest.TargetSpec `dynamodbav:"targets"`
}

// DynamoAPI is the subset of the DynamoDB client used by the lookup.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoLookup reads routing entries from a DynamoDB table keyed by
// "bucket/prefix", falling back to a bucket-level entry when no
// prefix-specific one exists. Results are cached with a TTL; routing
// changes are rare and a stale route only delays, never corrupts.
type DynamoLookup struct {
	client DynamoAPI
	table  string
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedRoute
}

type cachedRoute struct {
	targets []manifest.TargetSpec
	fetched time.Time
}

const defaultRouteTTL = 5 * time.Minute

func NewDynamoLookup(client DynamoAPI, table string, ttl time.Duration) *DynamoLookup {
	if ttl <= 0 {
		ttl = defaultRouteTTL
	}
	return &DynamoLookup{
		client: client,
		table:  table,
		ttl:    ttl,
		cache:  map[string]cachedRoute{},
	}
}

// Targets resolves the delivery targets for bucket/prefix. Tries the
// prefix-specific entry first, then the bucket-level fallback.
func (l *DynamoLookup) Targets(ctx context.Context, bucket, prefix string) ([]manifest.TargetSpec, error) {
	keys := []string{routeKey(bucket, prefix)}
	if prefix != "" {
		keys = append(keys, bucket)
	}

	for _, key := range keys {
		if targets, ok := l.cached(key); ok {
			return targets, nil
		}
		targets, err := l.fetch(ctx, key)
		if errors.Is(err, ErrNoRoute) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.store(key, targets)
		return targets, nil
	}

	return nil, fmt.Errorf("resolve route %s/%s: %w", bucket, prefix, ErrNoRoute)
}

func (l *DynamoLookup) fetch(ctx context.Context, key string) ([]manifest.TargetSpec, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key:       map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch route %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNoRoute
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("decode route %s: %w", key, err)
	}
	if len(rec.Targets) == 0 {
		return nil, ErrNoRoute
	}
	return rec.Targets, nil
}

func (l *DynamoLookup) cached(key string) ([]manifest.TargetSpec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cache[key]
	if !ok || time.Since(c.fetched) >= l.ttl {
		return nil, false
	}
	return c.targets, true
}

func (l *DynamoLookup) store(key string, targets []manifest.TargetSpec) {
	l.mu.Lock()
	l.cache[key] = cachedRoute{targets: targets, fetched: time.Now()}
	l.mu.Unlock()
}

func routeKey(bucket, prefix string) string {
	if prefix == "" {
		return bucket
	}
	return bucket + "/" + prefix
}

// StaticLookup serves a fixed routing table, used in tests and local runs.
type StaticLookup map[string][]manifest.TargetSpec

func (l StaticLookup) Targets(_ context.Context, bucket, prefix string) ([]manifest.TargetSpec, error) {
	if targets, ok := l[routeKey(bucket, prefix)]; ok {
		return targets, nil
	}
	if targets, ok := l[bucket]; ok {
		return targets, nil
	}
	return nil, fmt.Errorf("resolve route %s/%s: %w", bucket, prefix, ErrNoRoute)
}
