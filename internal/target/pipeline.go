// Package target implements the target-side pipeline: receive
// archive-arrival notifications, peek the manifest, and deliver the
// entries destined for this pipeline's region.
package target

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/s3xrc/s3xrc/internal/logctx"
	"github.com/s3xrc/s3xrc/internal/metrics"
	"github.com/s3xrc/s3xrc/pkg/codec"
	"github.com/s3xrc/s3xrc/pkg/events"
	"github.com/s3xrc/s3xrc/pkg/manifest"
	"github.com/s3xrc/s3xrc/pkg/s3io"
)

// Queue is the message source. *events.Poller implements it.
type Queue interface {
	Receive(ctx context.Context) ([]events.Message, error)
	Ack(ctx context.Context, msgs []events.Message) error
}

// ObjectStore is the object-store surface the pipeline uses.
// *s3io.Client implements it.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, destPath string) (int64, error)
	Upload(ctx context.Context, in s3io.UploadInput) error
	Delete(ctx context.Context, bucket, key string) error
}

// Tags attached to delivered objects preserving origin metadata.
const (
	TagOriginalCreationTime = "OriginalCreationTime"
	TagOriginalETag         = "OriginalETag"
)

// Config carries the target pipeline settings.
type Config struct {
	// Region this instance serves. Entries with no target here are
	// skipped and counted.
	Region string

	WorkDir string

	// DeleteStagingArchive removes the staging copy of the archive
	// after all entries are delivered.
	DeleteStagingArchive bool
}

// Pipeline is one target-side worker loop.
type Pipeline struct {
	cfg     Config
	engine  *codec.Engine
	queue   Queue
	store   ObjectStore
	metrics *metrics.Set
}

func New(cfg Config, engine *codec.Engine, queue Queue, store ObjectStore, set *metrics.Set) *Pipeline {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Pipeline{cfg: cfg, engine: engine, queue: queue, store: store, metrics: set}
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

// Run consumes messages until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logctx.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("target pipeline stopping")
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

		for _, msg := range msgs {
			if err := p.ProcessMessage(ctx, msg); err != nil {
				log.Error().Err(err).Str("message", msg.ID).Msg("message failed, left for redelivery")
				continue
			}
			if err := p.queue.Ack(ctx, []events.Message{msg}); err != nil {
				log.Warn().Err(err).Str("message", msg.ID).Msg("ack failed")
			}
		}
	}
}

// ProcessMessage handles one archive-arrival notification end to end.
// A nil return means the message may be acknowledged; an error leaves it
// leased for redelivery.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg events.Message) error {
	log := logctx.FromContext(ctx)

	evs, err := events.ParseNotification(msg.Body)
	if errors.Is(err, events.ErrTestEvent) {
		log.Debug().Str("message", msg.ID).Msg("discarding test event")
		return nil
	}
	if errors.Is(err, events.ErrNoEvents) {
		log.Debug().Str("message", msg.ID).Msg("discarding notification with no creation events")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("message", msg.ID).Msg("discarding unparseable notification")
		return nil
	}

	for _, ev := range evs {
		if err := p.processArchive(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) processArchive(ctx context.Context, ev events.ObjectCreated) error {
	ctx = logctx.WithStr(ctx, "archive", ev.Key)
	log := logctx.FromContext(ctx)

	archivePath := filepath.Join(p.cfg.WorkDir, "archive-"+uuid.NewString()+".tar.zst")
	if _, err := p.store.Download(ctx, ev.Bucket, ev.Key, archivePath); err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer os.Remove(archivePath)

	start := time.Now()

	raw, err := p.engine.PeekManifest(archivePath)
	if err != nil {
		return fmt.Errorf("peek manifest: %w", err)
	}
	man, err := manifest.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrCorruptArchive, err)
	}

	local, remote := man.Partition(p.cfg.Region)
	key := settingsKeyOf(man)
	p.metrics.SkippedObjects.WithLabelValues(key).Add(float64(len(remote)))

	delivered, failed := 0, 0
	for _, entry := range local {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := metrics.Timed(p.metrics.ObjectSeconds, func() error {
			return p.deliverEntry(ctx, archivePath, ev, entry)
		})
		if err != nil {
			failed++
			p.metrics.FailedUploads.WithLabelValues(key).Inc()
			log.Warn().Err(err).Str("object", entry.ObjectName).Msg("entry delivery failed")
			continue
		}
		delivered++
		p.metrics.ObjectsProcessed.WithLabelValues(key).Inc()
	}

	p.metrics.DecompressionSeconds.Observe(time.Since(start).Seconds())

	if p.cfg.DeleteStagingArchive {
		if err := p.store.Delete(ctx, ev.Bucket, ev.Key); err != nil {
			log.Warn().Err(err).Msg("staging archive delete failed")
		}
	}

	log.Info().
		Int("delivered", delivered).
		Int("failed", failed).
		Int("skipped", len(remote)).
		Msg("archive processed")
	return nil
}

// deliverEntry extracts one member and uploads it to every matching
// target, then removes the extracted file. Backup targets receive the
// archive itself instead.
func (p *Pipeline) deliverEntry(ctx context.Context, archivePath string, ev events.ObjectCreated, entry manifest.Entry) error {
	for _, t := range entry.BackupTargetsInRegion(p.cfg.Region) {
		if err := p.store.Upload(ctx, s3io.UploadInput{
			Bucket:       t.Bucket,
			Key:          filepath.Base(ev.Key),
			Path:         archivePath,
			StorageClass: t.StorageClass,
			KMSKeyARN:    t.KMSKeyARN,
		}); err != nil {
			return fmt.Errorf("backup upload to %s: %w", t.Bucket, err)
		}
	}

	targets := entry.TargetsInRegion(p.cfg.Region)
	if len(targets) == 0 {
		return nil
	}

	extractPath := filepath.Join(p.cfg.WorkDir, "extract-"+uuid.NewString())
	if err := p.engine.ExtractMember(archivePath, entry.MemberName(), extractPath); err != nil {
		return err
	}
	defer os.Remove(extractPath)

	tags := append([]manifest.Tag{}, entry.Tags...)
	if entry.CreationTime != "" {
		tags = append(tags, manifest.Tag{Key: TagOriginalCreationTime, Value: entry.CreationTime})
	}
	if entry.ETag != "" {
		tags = append(tags, manifest.Tag{Key: TagOriginalETag, Value: entry.ETag})
	}

	for _, t := range targets {
		if err := p.store.Upload(ctx, s3io.UploadInput{
			Bucket:       t.Bucket,
			Key:          entry.DestinationKey(),
			Path:         extractPath,
			StorageClass: entry.EffectiveStorageClass(t),
			KMSKeyARN:    t.KMSKeyARN,
			Tags:         tags,
		}); err != nil {
			return fmt.Errorf("upload to %s: %w", t.Bucket, err)
		}
	}
	return nil
}

// settingsKeyOf labels metrics with the batch's bucket/prefix key.
func settingsKeyOf(m *manifest.Manifest) string {
	if len(m.Objects) == 0 {
		return "unknown"
	}
	e := m.Objects[0]
	if e.SourcePrefix == "" {
		return e.SourceBucket
	}
	return e.SourceBucket + "/" + e.SourcePrefix
}
