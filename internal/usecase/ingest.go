package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"vndrag/internal/adapter/fs"
	"vndrag/internal/adapter/lock"
	"vndrag/internal/adapter/metrics"
	"vndrag/internal/domain"
	"vndrag/internal/port"
)

// IngestDeps are the collaborators of a reconciliation run.
type IngestDeps struct {
	Walker     port.FileWalker
	Extractor  port.ExtractorRegistry
	Chunker    port.Chunker
	Embedder   port.Embedder
	Index      port.VectorIndex
	Store      port.StateStore
	Locker     port.Locker // defaults to an in-process lock
	Collection domain.CollectionSpec
}

// DocResult is the outcome for one logical key.
type DocResult struct {
	Key      string
	Path     string // relative path of the chosen file; empty for purges
	State    domain.DocState
	Stage    domain.DocState // stage reached when State is failed
	Chunks   int
	Err      error
	Duration time.Duration
}

// RunReport summarises a reconciliation run.
type RunReport struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []DocResult // sorted by key
	Conflicts   []domain.Conflict
	Ignored     []string
	Interrupted bool
}

// Count returns the number of results in state s.
func (r *RunReport) Count(s domain.DocState) int {
	n := 0
	for _, res := range r.Results {
		if res.State == s {
			n++
		}
	}
	return n
}

// Failures returns the failed results.
func (r *RunReport) Failures() []DocResult {
	var out []DocResult
	for _, res := range r.Results {
		if res.State == domain.StateFailed {
			out = append(out, res)
		}
	}
	return out
}

// ProgressFunc is called after each document reaches a terminal state.
type ProgressFunc func(done, total int, res DocResult)

// IngestUseCase is the reconciliation driver: it brings the vector index
// into agreement with the corpus directory.
type IngestUseCase struct {
	deps       IngestDeps
	configHash string
	workers    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	progress   ProgressFunc
	now        func() time.Time
}

// IngestOption configures an IngestUseCase.
type IngestOption func(*IngestUseCase)

// WithConfigHash sets the hash stored in records. Records carrying a
// different hash are re-ingested.
func WithConfigHash(hash string) IngestOption {
	return func(u *IngestUseCase) { u.configHash = hash }
}

// WithWorkers bounds how many documents are processed concurrently.
func WithWorkers(n int) IngestOption {
	return func(u *IngestUseCase) {
		if n > 0 {
			u.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) IngestOption {
	return func(u *IngestUseCase) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) IngestOption {
	return func(u *IngestUseCase) { u.metrics = m }
}

func WithProgress(fn ProgressFunc) IngestOption {
	return func(u *IngestUseCase) { u.progress = fn }
}

func WithClock(now func() time.Time) IngestOption {
	return func(u *IngestUseCase) { u.now = now }
}

func NewIngestUseCase(deps IngestDeps, opts ...IngestOption) (*IngestUseCase, error) {
	switch {
	case deps.Walker == nil:
		return nil, ErrWalkerRequired
	case deps.Extractor == nil:
		return nil, ErrExtractorRequired
	case deps.Chunker == nil:
		return nil, ErrChunkerRequired
	case deps.Embedder == nil:
		return nil, ErrEmbedderRequired
	case deps.Index == nil:
		return nil, ErrIndexRequired
	case deps.Store == nil:
		return nil, ErrStoreRequired
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}

	u := &IngestUseCase{
		deps:    deps,
		workers: 4,
		logger:  slog.Default().With("component", "ingest"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Run performs one reconciliation pass over root. Per-document failures
// are reported in the RunReport and do not fail the run. The returned
// error is non-nil only for systemic failures (collection mismatch, an
// unusable state store, an unreadable corpus) or interruption; the
// report is returned in every case.
func (u *IngestUseCase) Run(ctx context.Context, root string) (*RunReport, error) {
	report := &RunReport{StartedAt: u.now()}
	err := u.run(ctx, root, report)

	report.FinishedAt = u.now()
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Key < report.Results[j].Key })

	for _, res := range report.Results {
		u.metrics.ObserveDocument(string(res.State))
	}
	u.metrics.ObserveRun(report.FinishedAt.Sub(report.StartedAt), err == nil)

	u.logger.Info("reconciliation finished",
		"committed", report.Count(domain.StateCommitted),
		"refreshed", report.Count(domain.StateRefreshed),
		"skipped", report.Count(domain.StateSkipped),
		"failed", report.Count(domain.StateFailed),
		"busy", report.Count(domain.StateBusy),
		"removed", report.Count(domain.StateRemoved),
		"conflicts", len(report.Conflicts),
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		"error", err,
	)
	return report, err
}

func (u *IngestUseCase) run(ctx context.Context, root string, report *RunReport) error {
	if err := u.deps.Index.EnsureCollection(ctx, u.deps.Collection); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	files, err := u.deps.Walker.Walk(root)
	if err != nil {
		return fmt.Errorf("failed to walk corpus %s: %w", root, err)
	}
	resolution := fs.Resolve(files)
	report.Conflicts = resolution.Conflicts
	report.Ignored = resolution.Ignored

	records, err := u.deps.Store.List()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	previous := make(map[string]domain.IngestRecord, len(records))
	for _, rec := range records {
		previous[rec.Key] = rec
	}

	for _, c := range resolution.Conflicts {
		u.logger.Warn("conflicting document variants", "key", c.Key, "format", c.Format, "paths", c.Paths)
		report.Results = append(report.Results, DocResult{Key: c.Key, State: domain.StateConflict, Err: c})
	}

	if err := u.reconcile(ctx, resolution.Documents, previous, report); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		return fmt.Errorf("run interrupted: %w", err)
	}

	onDisk := resolution.Keys()
	var orphans []domain.IngestRecord
	for _, rec := range records {
		if _, ok := onDisk[rec.Key]; !ok {
			orphans = append(orphans, rec)
		}
	}
	if err := u.purge(ctx, orphans, report); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

// reconcile fans documents out over a bounded pool. A systemic failure in
// any worker cancels the remaining work.
func (u *IngestUseCase) reconcile(ctx context.Context, docs []domain.Document, previous map[string]domain.IngestRecord, report *RunReport) error {
	if len(docs) == 0 {
		return nil
	}

	pool, err := ants.NewPool(u.workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	total := len(docs)

	record := func(res DocResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, res)
		done++
		if u.progress != nil {
			u.progress(done, total, res)
		}
	}

	for _, doc := range docs {
		if runCtx.Err() != nil {
			break
		}
		doc := doc
		prev, hasPrev := previous[doc.Key]

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			var p *domain.IngestRecord
			if hasPrev {
				p = &prev
			}
			res := u.process(runCtx, doc, p)
			if res.Err != nil && domain.IsSystemic(res.Err) {
				cancel(res.Err)
			}
			record(res)
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("submit %s: %w", doc.Key, err)
		}
	}
	wg.Wait()

	if cause := context.Cause(runCtx); cause != nil && domain.IsSystemic(cause) {
		return cause
	}
	return nil
}

// process runs one document through extract, chunk, embed and write.
// The state record is written last, so a failure at any earlier stage
// leaves the previous record (and therefore the next run's decision)
// untouched.
func (u *IngestUseCase) process(ctx context.Context, doc domain.Document, prev *domain.IngestRecord) (res DocResult) {
	start := u.now()
	res = DocResult{Key: doc.Key, Path: doc.RelPath, State: domain.StateUnseen}
	logger := u.logger.With("key", doc.Key, "file", doc.RelPath)

	stage := domain.StateUnseen
	fail := func(err error) DocResult {
		res.State = domain.StateFailed
		res.Stage = stage
		res.Err = err
		res.Duration = u.now().Sub(start)
		if errors.Is(err, context.Canceled) {
			logger.Debug("document interrupted", "stage", stage)
		} else {
			logger.Warn("document failed", "stage", stage, "error", err)
		}
		return res
	}
	finish := func(state domain.DocState) DocResult {
		res.State = state
		res.Duration = u.now().Sub(start)
		logger.Debug("document done", "state", state, "chunks", res.Chunks)
		return res
	}

	unlock, ok, err := u.deps.Locker.TryLock(ctx, doc.Key)
	if err != nil {
		return fail(fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		res.Err = domain.ErrLockHeld
		return finish(domain.StateBusy)
	}
	defer unlock()

	stage = domain.StateExtracting
	raw, err := fs.FileDigest(doc.Path)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", domain.ErrCorruptDocument, err))
	}
	if prev != nil && u.upToDate(*prev, doc) && prev.RawDigest == raw {
		res.Chunks = prev.ChunkCount
		return finish(domain.StateSkipped)
	}

	text, err := u.deps.Extractor.Extract(ctx, doc)
	if err != nil {
		return fail(err)
	}
	fingerprint := domain.Fingerprint(text)

	if prev != nil && u.upToDate(*prev, doc) && prev.Fingerprint == fingerprint {
		// re-saved without a text change: remember the new bytes only
		rec := *prev
		rec.RawDigest = raw
		rec.Size = doc.Size
		stage = domain.StateCommitting
		if err := u.deps.Store.Put(rec); err != nil {
			return fail(err)
		}
		res.Chunks = rec.ChunkCount
		return finish(domain.StateRefreshed)
	}

	stage = domain.StateChunking
	chunks := u.deps.Chunker.Chunk(doc.Key, text)
	if len(chunks) == 0 {
		return fail(fmt.Errorf("%w: %s", domain.ErrEmptyText, doc.RelPath))
	}
	res.Chunks = len(chunks)

	stage = domain.StateEmbedding
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := u.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return fail(err)
	}

	stage = domain.StateWriting
	points := make([]domain.IndexPoint, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		points[i] = domain.NewIndexPoint(doc, c, vectors[i])
		ids[i] = points[i].ID
	}
	if err := u.deps.Index.Upsert(ctx, points); err != nil {
		return fail(err)
	}
	u.metrics.AddPointsUpserted(len(points))

	if prev != nil {
		stale := staleIDs(prev.PointIDs, ids)
		if len(stale) > 0 {
			if err := u.deps.Index.Delete(ctx, stale); err != nil {
				return fail(err)
			}
			u.metrics.AddPointsDeleted(len(stale))
		}
	}

	stage = domain.StateCommitting
	rec := domain.IngestRecord{
		Key:         doc.Key,
		Fingerprint: fingerprint,
		RawDigest:   raw,
		ConfigHash:  u.configHash,
		Format:      doc.Format,
		SourceFile:  doc.RelPath,
		Size:        doc.Size,
		ChunkCount:  len(chunks),
		PointIDs:    ids,
		IngestedAt:  u.now().UTC(),
	}
	if err := u.deps.Store.Put(rec); err != nil {
		return fail(err)
	}
	return finish(domain.StateCommitted)
}

// upToDate reports whether prev was produced from the same file and with
// the same settings as doc would be now.
func (u *IngestUseCase) upToDate(prev domain.IngestRecord, doc domain.Document) bool {
	return prev.ConfigHash == u.configHash &&
		prev.SourceFile == doc.RelPath &&
		prev.Format == doc.Format
}

// purge removes the points and records of keys no longer on disk.
func (u *IngestUseCase) purge(ctx context.Context, orphans []domain.IngestRecord, report *RunReport) error {
	for _, rec := range orphans {
		if ctx.Err() != nil {
			return nil
		}
		res := u.purgeOne(ctx, rec)
		report.Results = append(report.Results, res)
		if res.Err != nil && domain.IsSystemic(res.Err) {
			return res.Err
		}
	}
	return nil
}

func (u *IngestUseCase) purgeOne(ctx context.Context, rec domain.IngestRecord) DocResult {
	start := u.now()
	res := DocResult{Key: rec.Key, State: domain.StatePurging}
	logger := u.logger.With("key", rec.Key)

	unlock, ok, err := u.deps.Locker.TryLock(ctx, rec.Key)
	if err != nil {
		res.State, res.Stage, res.Err = domain.StateFailed, domain.StatePurging, fmt.Errorf("acquire lock: %w", err)
		return res
	}
	if !ok {
		res.State, res.Err = domain.StateBusy, domain.ErrLockHeld
		return res
	}
	defer unlock()

	if err := u.deps.Index.Delete(ctx, rec.PointIDs); err != nil {
		logger.Warn("purge failed", "error", err)
		res.State, res.Stage, res.Err = domain.StateFailed, domain.StatePurging, err
		return res
	}
	u.metrics.AddPointsDeleted(len(rec.PointIDs))

	if err := u.deps.Store.Delete(rec.Key); err != nil {
		res.State, res.Stage, res.Err = domain.StateFailed, domain.StatePurging, err
		return res
	}

	logger.Info("document removed", "points", len(rec.PointIDs), "source", rec.SourceFile)
	res.State = domain.StateRemoved
	res.Duration = u.now().Sub(start)
	return res
}

// staleIDs returns the ids in old that are not in current.
func staleIDs(old, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, id := range old {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}
