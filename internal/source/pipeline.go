// Package source implements the source-side pipeline: batch creation
// notifications, resolve metadata, archive and compress the objects,
// upload the archive to staging, and fold the outcome back into the
// settings record.
package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/s3xrc/s3xrc/internal/logctx"
	"github.com/s3xrc/s3xrc/internal/metrics"
	"github.com/s3xrc/s3xrc/pkg/codec"
	"github.com/s3xrc/s3xrc/pkg/costbenefit"
	"github.com/s3xrc/s3xrc/pkg/events"
	"github.com/s3xrc/s3xrc/pkg/humanfmt"
	"github.com/s3xrc/s3xrc/pkg/manifest"
	"github.com/s3xrc/s3xrc/pkg/routing"
	"github.com/s3xrc/s3xrc/pkg/s3io"
	"github.com/s3xrc/s3xrc/pkg/selector"
	"github.com/s3xrc/s3xrc/pkg/settings"
)

// Queue is the message source. *events.Poller implements it.
type Queue interface {
	Receive(ctx context.Context) ([]events.Message, error)
	Ack(ctx context.Context, msgs []events.Message) error
}

// ObjectStore is the object-store surface the pipeline uses.
// *s3io.Client implements it.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (*s3io.ObjectMeta, error)
	Download(ctx context.Context, bucket, key, destPath string) (int64, error)
	Upload(ctx context.Context, in s3io.UploadInput) error
	Delete(ctx context.Context, bucket, key string) error
}

// Config carries the source pipeline settings.
type Config struct {
	StagingBucket   string
	MonitoredPrefix string
	WorkDir         string

	// Workers bounds parallel download/metadata resolution. 0 means the
	// host core count.
	Workers int

	// DeleteAfterArchive removes each input object once archived.
	DeleteAfterArchive bool

	// DefaultLevel is emitted for keys with no usable statistics.
	// 0 means the selector's standard default.
	DefaultLevel int

	TransferCostPerByte  float64
	ComputeCostPerMinute float64
}

// Pipeline is one source-side worker loop.
type Pipeline struct {
	cfg     Config
	engine  *codec.Engine
	queue   Queue
	store   ObjectStore
	routes  routing.Lookup
	repo    *settings.Repository
	metrics *metrics.Set

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, engine *codec.Engine, queue Queue, store ObjectStore, routes routing.Lookup, repo *settings.Repository, set *metrics.Set) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Pipeline{
		cfg:     cfg,
		engine:  engine,
		queue:   queue,
		store:   store,
		routes:  routes,
		repo:    repo,
		metrics: set,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// receiveBackoff damps the loop when the queue keeps failing.
const receiveBackoff = time.Second

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run consumes batches until ctx is cancelled. In-flight batches finish
// or fail cleanly; unfinished messages simply keep their leases and are
// redelivered.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logctx.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("source pipeline stopping")
			return nil
		}

		msgs, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("queue receive failed")
			sleepCtx(ctx, receiveBackoff)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		if err := p.ProcessBatch(ctx, msgs); err != nil {
			log.Error().Err(err).Int("messages", len(msgs)).Msg("batch failed, messages left for redelivery")
		}
	}
}

// item is one object flowing through the batch, tied back to the queue
// message that announced it.
type item struct {
	event events.ObjectCreated
	msg   events.Message

	localPath string
	entry     manifest.Entry
}

// ProcessBatch runs one batch end to end. Messages whose objects all make
// it through are acknowledged; the rest are left to redeliver.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []events.Message) error {
	batchID := uuid.NewString()
	ctx = logctx.WithStr(ctx, "batch", batchID)
	log := logctx.FromContext(ctx)

	items, discard := p.parseMessages(ctx, msgs)
	if len(discard) > 0 {
		if err := p.queue.Ack(ctx, discard); err != nil {
			log.Warn().Err(err).Msg("discard ack failed")
		}
	}
	if len(items) == 0 {
		return nil
	}

	workDir := filepath.Join(p.cfg.WorkDir, "batch-"+batchID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create batch work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	key := p.settingsKey(items[0].event.Bucket)
	ready, failed := p.prepareObjects(ctx, workDir, items)
	p.metrics.FailedDownloads.WithLabelValues(key).Add(float64(len(failed)))
	if len(ready) == 0 {
		return errors.New("no objects survived download and metadata resolution")
	}

	decision, err := p.selectLevel(ctx, key)
	if err != nil {
		return err
	}

	m := buildManifest(ready)
	archivePath := filepath.Join(workDir, batchID+".tar.zst")
	originalBytes, elapsed, err := p.archive(ctx, archivePath, m, ready, decision.Level)
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	compressedBytes := info.Size()

	archiveKey := p.archiveKey(items[0].event.Bucket, batchID)
	if err := p.store.Upload(ctx, s3io.UploadInput{
		Bucket: p.cfg.StagingBucket,
		Key:    archiveKey,
		Path:   archivePath,
	}); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	os.Remove(archivePath)

	outcome := costbenefit.Evaluate(costbenefit.Input{
		OriginalBytes:        originalBytes,
		CompressedBytes:      compressedBytes,
		ElapsedSeconds:       elapsed.Seconds(),
		CPUFactor:            p.engine.CPUFactor,
		RegionCount:          m.RegionCount(),
		TransferCostPerByte:  p.cfg.TransferCostPerByte,
		ComputeCostPerMinute: p.cfg.ComputeCostPerMinute,
	})
	p.recordOutcome(ctx, key, decision, outcome, int64(len(ready)), originalBytes, compressedBytes)

	if p.cfg.DeleteAfterArchive {
		p.deleteInputs(ctx, ready)
	}

	acked := ackable(ready, failed)
	if err := p.queue.Ack(ctx, acked); err != nil {
		return fmt.Errorf("ack batch: %w", err)
	}

	log.Info().
		Str("archive", archiveKey).
		Int("objects", len(ready)).
		Int("failed", len(failed)).
		Int("level", decision.Level).
		Bool("explored", decision.Explored).
		Str("original", humanfmt.Bytes(originalBytes)).
		Str("compressed", humanfmt.Bytes(compressedBytes)).
		Str("elapsed", humanfmt.Duration(elapsed)).
		Str("throughput", humanfmt.Throughput(originalBytes, elapsed)).
		Float64("net_benefit", outcome.NetBenefit).
		Msg("batch complete")
	return nil
}

// parseMessages expands queue messages into per-object items. Synthetic
// test events and unparseable bodies are discarded by acking them.
func (p *Pipeline) parseMessages(ctx context.Context, msgs []events.Message) (items []*item, discard []events.Message) {
	log := logctx.FromContext(ctx)
	for _, msg := range msgs {
		evs, err := events.ParseNotification(msg.Body)
		if errors.Is(err, events.ErrTestEvent) {
			log.Debug().Str("message", msg.ID).Msg("discarding test event")
			discard = append(discard, msg)
			continue
		}
		if errors.Is(err, events.ErrNoEvents) {
			log.Debug().Str("message", msg.ID).Msg("discarding notification with no creation events")
			discard = append(discard, msg)
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("message", msg.ID).Msg("discarding unparseable notification")
			discard = append(discard, msg)
			continue
		}
		for _, ev := range evs {
			items = append(items, &item{event: ev, msg: msg})
		}
	}
	return items, discard
}

// prepareObjects downloads each object and resolves its metadata and
// targets across a bounded worker pool. Failed objects are excluded from
// the batch; their messages stay unacked.
func (p *Pipeline) prepareObjects(ctx context.Context, workDir string, items []*item) (ready, failed []*item) {
	log := logctx.FromContext(ctx)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			err := metrics.Timed(p.metrics.ObjectSeconds, func() error {
				return p.prepareObject(gctx, workDir, i, it)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("key", it.event.Key).Msg("object excluded from batch")
				failed = append(failed, it)
				return nil
			}
			ready = append(ready, it)
			return nil
		})
	}
	_ = g.Wait() // workers report failures via the failed slice
	return ready, failed
}

func (p *Pipeline) prepareObject(ctx context.Context, workDir string, idx int, it *item) error {
	ev := it.event

	meta, err := p.store.Head(ctx, ev.Bucket, ev.Key)
	if err != nil {
		return fmt.Errorf("resolve metadata: %w", err)
	}

	targets, err := p.routes.Targets(ctx, ev.Bucket, p.cfg.MonitoredPrefix)
	if err != nil {
		return fmt.Errorf("resolve targets: %w", err)
	}

	it.localPath = filepath.Join(workDir, fmt.Sprintf("obj-%d", idx))
	if _, err := p.store.Download(ctx, ev.Bucket, ev.Key, it.localPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	it.entry = manifest.Entry{
		SourceBucket: ev.Bucket,
		SourcePrefix: p.cfg.MonitoredPrefix,
		ObjectName:   p.relativeKey(ev.Key),
		Tags:         meta.Tags,
		CreationTime: meta.LastModified.Format(manifest.TimeFormat),
		ETag:         meta.ETag,
		Size:         meta.Size,
		StorageClass: meta.StorageClass,
		Targets:      targets,
	}
	return nil
}

func (p *Pipeline) selectLevel(ctx context.Context, key string) (selector.Decision, error) {
	rec, err := p.repo.Read(ctx, key)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		return selector.Decision{}, fmt.Errorf("read settings: %w", err)
	}

	p.rngMu.Lock()
	decision := selector.Policy{DefaultLevel: p.cfg.DefaultLevel}.Select(rec, p.engine.CPUFactor, p.rng)
	p.rngMu.Unlock()

	if decision.Fresh {
		if err := p.repo.EnsureExists(ctx, key); err != nil {
			return selector.Decision{}, err
		}
	}
	return decision, nil
}

// archive streams the manifest plus every object into one compressed
// archive. Each local file is deleted as soon as it is consumed.
func (p *Pipeline) archive(ctx context.Context, archivePath string, m *manifest.Manifest, ready []*item, level int) (int64, time.Duration, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return 0, 0, fmt.Errorf("create archive file: %w", err)
	}
	defer out.Close()

	w, err := p.engine.NewArchiveWriter(out, level)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()

	data, err := m.Encode()
	if err != nil {
		return 0, 0, err
	}
	if err := w.AddBytes(codec.ManifestMemberName, data); err != nil {
		return 0, 0, err
	}

	for _, it := range ready {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if err := w.AddFile(it.entry.MemberName(), it.localPath); err != nil {
			return 0, 0, err
		}
		os.Remove(it.localPath)
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}
	elapsed := time.Since(start)

	p.metrics.CompressionSeconds.Observe(elapsed.Seconds())
	return w.BytesIn(), elapsed, nil
}

func (p *Pipeline) recordOutcome(ctx context.Context, key string, decision selector.Decision, outcome costbenefit.Metrics, objects, originalBytes, compressedBytes int64) {
	log := logctx.FromContext(ctx)

	p.metrics.ObjectsProcessed.WithLabelValues(key).Add(float64(objects))
	p.metrics.BytesSaved.WithLabelValues(key).Add(float64(outcome.BytesSaved))
	p.metrics.TransferSavings.WithLabelValues(key).Add(outcome.TransferSavings)
	p.metrics.ComputeCost.WithLabelValues(key).Add(outcome.ComputeCost)
	p.metrics.NetBenefit.WithLabelValues(key).Set(outcome.NetBenefit)
	p.metrics.CompressionRatio.Observe(costbenefit.Ratio(originalBytes, compressedBytes))

	err := p.repo.Update(ctx, key, func(r *settings.Record) {
		r.RecordOutcome(decision.Level, outcome.BenefitScore(), p.engine.CPUFactor, objects)
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("settings update failed")
	}
}

func (p *Pipeline) deleteInputs(ctx context.Context, ready []*item) {
	log := logctx.FromContext(ctx)
	for _, it := range ready {
		if err := p.store.Delete(ctx, it.event.Bucket, it.event.Key); err != nil {
			log.Warn().Err(err).Str("key", it.event.Key).Msg("input delete failed")
		}
	}
}

// ackable returns the messages every object of which succeeded. A message
// with any failed object stays leased so the queue redelivers it.
func ackable(ready, failed []*item) []events.Message {
	failedMsgs := map[string]bool{}
	for _, it := range failed {
		failedMsgs[it.msg.ReceiptHandle] = true
	}

	seen := map[string]bool{}
	var out []events.Message
	for _, it := range ready {
		rh := it.msg.ReceiptHandle
		if failedMsgs[rh] || seen[rh] {
			continue
		}
		seen[rh] = true
		out = append(out, it.msg)
	}
	return out
}

func buildManifest(ready []*item) *manifest.Manifest {
	m := &manifest.Manifest{Objects: make([]manifest.Entry, 0, len(ready))}
	for _, it := range ready {
		m.Objects = append(m.Objects, it.entry)
	}
	return m
}

// settingsKey identifies the settings record for a batch: the source
// bucket plus the monitored prefix.
func (p *Pipeline) settingsKey(bucket string) string {
	if p.cfg.MonitoredPrefix == "" {
		return bucket
	}
	return bucket + "/" + p.cfg.MonitoredPrefix
}

// relativeKey strips the monitored prefix from a full object key.
func (p *Pipeline) relativeKey(key string) string {
	if p.cfg.MonitoredPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, p.cfg.MonitoredPrefix+"/")
}

// archiveKey places the archive under the source bucket and monitored
// prefix so the original layout is recoverable from staging alone.
func (p *Pipeline) archiveKey(sourceBucket, batchID string) string {
	parts := []string{sourceBucket}
	if p.cfg.MonitoredPrefix != "" {
		parts = append(parts, p.cfg.MonitoredPrefix)
	}
	parts = append(parts, batchID+".tar.zst")
	return strings.Join(parts, "/")
}
