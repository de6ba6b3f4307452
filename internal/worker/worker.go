// Package worker implements the background MAP/REFRESH execution loop.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/database"
	"github.com/cortexmap/cortex/internal/orchestrator"
	"github.com/cortexmap/cortex/internal/progress"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// DomainLimiter paces MapJob admission per domain before a Worker drives the
// orchestrator. Satisfied by internal/policy/ratelimit.Limiter.
type DomainLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Orchestrator is the subset of orchestrator.Orchestrator a Worker drives.
type Orchestrator interface {
	Map(ctx context.Context, params orchestrator.MapParams, force bool) (*orchestrator.CacheEntry, func(), error)
	Refresh(ctx context.Context, key string, sel orchestrator.RefreshSelector) (orchestrator.RefreshResult, error)
}

// Worker consumes MapJobs off the queue and drives the orchestrator's
// Map/Refresh operations, persisting the resulting SiteMap and publishing
// completion events.
type Worker struct {
	queue        crawler.Queue
	jobStore     crawler.MapJobStore
	blobStore    crawler.BlobStore
	catalog      database.Provider
	publisher    crawler.Publisher
	hasher       crawler.Hasher
	clock        crawler.Clock
	orchestrator Orchestrator
	emitter      progress.Emitter
	limiter      DomainLimiter
	cfg          Config
	logger       *zap.Logger
}

// New constructs a Worker. emitter and limiter may both be nil to disable
// progress reporting and per-domain job pacing, respectively.
func New(
	queue crawler.Queue,
	jobStore crawler.MapJobStore,
	blobStore crawler.BlobStore,
	catalog database.Provider,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	orch Orchestrator,
	emitter progress.Emitter,
	limiter DomainLimiter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/vnd.cortex.ctx"
	}
	return &Worker{
		queue:        queue,
		jobStore:     jobStore,
		blobStore:    blobStore,
		catalog:      catalog,
		publisher:    publisher,
		hasher:       hasher,
		clock:        clock,
		orchestrator: orch,
		emitter:      emitter,
		limiter:      limiter,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run blocks, consuming MapJobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued map job", zap.String("domain", job.Domain), zap.Bool("refresh", job.Refresh))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job crawler.MapJob) {
	jobID := progress.UUIDToBytes(uuid.New())
	start := time.Now()
	w.emit(progress.Event{JobID: jobID, TS: w.clock.Now(), Stage: progress.StageJobStart, Site: job.Domain})

	if err := w.jobStore.RecordStart(ctx, job); err != nil {
		w.logger.Error("record job start failed", zap.String("domain", job.Domain), zap.Error(err))
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, "https://"+job.Domain); err != nil {
			w.logger.Warn("domain admission wait aborted", zap.String("domain", job.Domain), zap.Error(err))
			if err := w.jobStore.RecordDone(ctx, job, crawler.MapJobFailed, err.Error()); err != nil {
				w.logger.Error("record job done failed", zap.String("domain", job.Domain), zap.Error(err))
			}
			w.emit(progress.Event{JobID: jobID, TS: w.clock.Now(), Stage: progress.StageJobError, Site: job.Domain, Dur: time.Since(start), Note: err.Error()})
			return
		}
	}

	var (
		status  crawler.MapJobStatus
		errText string
	)
	if job.Refresh {
		status, errText = w.processRefresh(ctx, job)
	} else {
		status, errText = w.processMap(ctx, job)
	}

	if err := w.jobStore.RecordDone(ctx, job, status, errText); err != nil {
		w.logger.Error("record job done failed", zap.String("domain", job.Domain), zap.Error(err))
	}

	stage := progress.StageJobDone
	if status == crawler.MapJobFailed {
		stage = progress.StageJobError
	}
	w.emit(progress.Event{
		JobID: jobID,
		TS:    w.clock.Now(),
		Stage: stage,
		Site:  job.Domain,
		Dur:   time.Since(start),
		Note:  errText,
	})
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}

func (w *Worker) processMap(ctx context.Context, job crawler.MapJob) (crawler.MapJobStatus, string) {
	params := orchestrator.MapParams{Domain: job.Domain, EntryPoints: []string{job.Domain}}
	entry, release, err := w.orchestrator.Map(ctx, params, false)
	if err != nil {
		w.logger.Error("map build failed", zap.String("domain", job.Domain), zap.Error(err))
		return crawler.MapJobFailed, err.Error()
	}
	defer release()

	var (
		uri  string
		hash string
	)
	entry.WithReadLock(func(m *sitemap.SiteMap) {
		uri, hash, err = w.persistMap(ctx, job, m)
	})
	if err != nil {
		w.logger.Error("persist map failed", zap.String("domain", job.Domain), zap.Error(err))
		return crawler.MapJobFailed, err.Error()
	}

	if err := w.publishMapEvent(ctx, "map.completed", job, uri, hash); err != nil {
		w.logger.Warn("publish map.completed failed", zap.String("domain", job.Domain), zap.Error(err))
	}
	w.logger.Info("map built", zap.String("domain", job.Domain), zap.String("blob_uri", uri))
	return crawler.MapJobSucceeded, ""
}

func (w *Worker) processRefresh(ctx context.Context, job crawler.MapJob) (crawler.MapJobStatus, string) {
	key := job.CacheKey
	if key == "" {
		key = (orchestrator.MapParams{Domain: job.Domain, EntryPoints: []string{job.Domain}}).CacheKey()
	}

	result, err := w.orchestrator.Refresh(ctx, key, orchestrator.RefreshSelector{FreshnessBelow: 0.5})
	if err != nil {
		w.logger.Error("refresh failed", zap.String("domain", job.Domain), zap.Error(err))
		return crawler.MapJobFailed, err.Error()
	}

	if err := w.persistChanges(ctx, key, result); err != nil {
		w.logger.Error("persist refresh changes failed", zap.String("domain", job.Domain), zap.Error(err))
		return crawler.MapJobFailed, err.Error()
	}

	if err := w.publishMapEvent(ctx, "map.refreshed", job, "", ""); err != nil {
		w.logger.Warn("publish map.refreshed failed", zap.String("domain", job.Domain), zap.Error(err))
	}
	w.logger.Info("map refreshed", zap.String("domain", job.Domain), zap.Int("changes", len(result.Changes)))
	return crawler.MapJobSucceeded, ""
}

func (w *Worker) persistMap(ctx context.Context, job crawler.MapJob, m *sitemap.SiteMap) (string, string, error) {
	data, err := sitemap.Encode(m)
	if err != nil {
		return "", "", fmt.Errorf("encode ctx: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return "", "", fmt.Errorf("hash ctx: %w", err)
	}

	path := w.buildBlobPath(job.Domain, hash)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}

	if w.catalog != nil {
		rec := database.MapRecord{
			CacheKey:   (orchestrator.MapParams{Domain: job.Domain, EntryPoints: []string{job.Domain}}).CacheKey(),
			Domain:     job.Domain,
			NodeCount:  len(m.Nodes),
			EdgeCount:  len(m.Edges),
			CTXURI:     uri,
			ContentSHA: hash,
			BuiltAt:    w.clock.Now(),
		}
		if err := w.catalog.SaveMap(ctx, rec); err != nil {
			return "", "", fmt.Errorf("save map catalog row: %w", err)
		}
	}

	return uri, hash, nil
}

func (w *Worker) persistChanges(ctx context.Context, key string, result orchestrator.RefreshResult) error {
	if w.catalog == nil || len(result.Changes) == 0 {
		return nil
	}
	now := w.clock.Now()
	changes := make([]database.ChangeRecord, 0, len(result.Changes))
	for _, c := range result.Changes {
		changes = append(changes, database.ChangeRecord{
			CacheKey:    key,
			Node:        c.Node,
			Field:       c.Field,
			OldValue:    c.Old,
			NewValue:    c.New,
			RefreshedAt: now,
		})
	}
	if err := w.catalog.SaveChanges(ctx, changes); err != nil {
		return fmt.Errorf("save refresh changes: %w", err)
	}
	return nil
}

func (w *Worker) publishMapEvent(ctx context.Context, eventType string, job crawler.MapJob, uri, hash string) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"event":     eventType,
		"domain":    job.Domain,
		"cache_key": job.CacheKey,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if uri != "" {
		payload["ctx_uri"] = uri
	}
	if hash != "" {
		payload["content_sha"] = hash
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (w *Worker) buildBlobPath(domain, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.ctx", domain, hash)
	}
	return fmt.Sprintf("%s/%s/%s.ctx", prefix, domain, hash)
}
