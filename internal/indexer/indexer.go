// Package indexer drives the Walker → Parser → Store pipeline to bring
// the on-disk index to consistency with a maildir tree.
//
// The shape mirrors the teacher's delivery engine: one long-lived struct
// owning a cancel func and a WaitGroup, a pool of worker goroutines
// reading from a bounded channel, and atomic counters a caller can poll
// without synchronizing with the run.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indexd/gomu/internal/logging"
	"github.com/indexd/gomu/internal/metrics"
	"github.com/indexd/gomu/internal/parser"
	"github.com/indexd/gomu/internal/resilience"
	"github.com/indexd/gomu/internal/store"
	"github.com/indexd/gomu/internal/walker"
)

// State is one of the indexer's lifecycle states.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when a run is already underway.
var ErrAlreadyRunning = errors.New("indexer: already running")

// Config enumerates one run's behavior. The zero value is not usable;
// call DefaultConfig to get the documented defaults.
type Config struct {
	// Scan performs the add/update pass. Default true.
	Scan bool
	// Cleanup performs the removal pass after scanning. Default true.
	Cleanup bool
	// MaxThreads bounds parser worker parallelism. 0 selects
	// runtime.NumCPU().
	MaxThreads int
	// IgnoreNoupdate disables the walker's .noupdate optimization.
	IgnoreNoupdate bool
	// LazyCheck skips directories whose mtime hasn't advanced.
	LazyCheck bool
	// Force ignores stored mtimes and reparses every candidate.
	Force bool
	// DiscardOnCancel discards the pending batch on Stop instead of
	// committing it. Default false (commit).
	DiscardOnCancel bool
	// BodyMode controls how the parser extracts the plain-text body.
	BodyMode parser.BodyMode
}

// DefaultConfig returns spec-documented defaults: scan and cleanup on,
// auto thread count, no optimizations skipped, commit-on-cancel.
func DefaultConfig() Config {
	return Config{
		Scan:     true,
		Cleanup:  true,
		BodyMode: parser.FirstPlainText,
	}
}

func (c Config) threads() int {
	if c.MaxThreads > 0 {
		return c.MaxThreads
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// Progress is a point-in-time snapshot of a run's counters.
type Progress struct {
	Running   bool
	Processed int64
	Updated   int64
	Removed   int64
}

// Indexer composes a Store and a Maildir root into a cancellable run.
type Indexer struct {
	root  string
	store *store.Store
	log   *logging.Logger

	mu    sync.Mutex
	state State
	cfg   Config

	processed int64
	updated   int64
	removed   int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// lastScanKey is the Store metadata key holding the Unix timestamp of
// the last completed scan, used to drive LazyCheck.
const lastScanKey = "last_scan_at"

// New creates an Indexer over root, writing into s. log may be nil, in
// which case logging.Default() is used.
func New(root string, s *store.Store, log *logging.Logger) *Indexer {
	if log == nil {
		log = logging.Default()
	}
	return &Indexer{
		root:  root,
		store: s,
		log:   log.Indexer(),
		state: Idle,
	}
}

// State returns the indexer's current lifecycle state.
func (ix *Indexer) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Progress returns the current counters. Safe to call in any state.
func (ix *Indexer) Progress() Progress {
	ix.mu.Lock()
	running := ix.state == Running || ix.state == Stopping
	ix.mu.Unlock()
	return Progress{
		Running:   running,
		Processed: atomic.LoadInt64(&ix.processed),
		Updated:   atomic.LoadInt64(&ix.updated),
		Removed:   atomic.LoadInt64(&ix.removed),
	}
}

// Start begins a run with cfg. If a run is already underway it returns
// ErrAlreadyRunning without reconfiguring or resetting counters.
func (ix *Indexer) Start(ctx context.Context, cfg Config) error {
	ix.mu.Lock()
	if ix.state == Running || ix.state == Stopping {
		ix.mu.Unlock()
		return ErrAlreadyRunning
	}
	ix.state = Running
	ix.cfg = cfg
	ix.mu.Unlock()

	atomic.StoreInt64(&ix.processed, 0)
	atomic.StoreInt64(&ix.updated, 0)
	atomic.StoreInt64(&ix.removed, 0)

	runCtx, cancel := context.WithCancel(ctx)
	ix.cancel = cancel

	traceID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	runCtx = logging.WithTraceID(runCtx, traceID)

	metrics.IndexerRunning.Set(1)
	ix.log.InfoContext(runCtx, "indexer run starting",
		"scan", cfg.Scan, "cleanup", cfg.Cleanup, "max_threads", cfg.threads(), "force", cfg.Force)

	ix.wg.Add(1)
	go ix.run(runCtx)
	return nil
}

// Stop requests the current run to wind down. It is non-blocking: it
// transitions the state to Stopping and returns immediately. Callers
// wishing to wait for Done should poll State or Progress().Running.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if ix.state != Running {
		ix.mu.Unlock()
		return
	}
	ix.state = Stopping
	cancel := ix.cancel
	ix.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current (or most recently started) run reaches
// Done.
func (ix *Indexer) Wait() {
	ix.wg.Wait()
}

func (ix *Indexer) run(ctx context.Context) {
	defer ix.wg.Done()
	defer func() {
		metrics.IndexerRunning.Set(0)
		ix.mu.Lock()
		ix.state = Done
		ix.mu.Unlock()
		ix.log.InfoContext(ctx, "indexer run done",
			"processed", atomic.LoadInt64(&ix.processed),
			"updated", atomic.LoadInt64(&ix.updated),
			"removed", atomic.LoadInt64(&ix.removed))
	}()

	cfg := ix.cfg

	if cfg.Scan {
		if err := ix.scan(ctx, cfg); err != nil {
			ix.log.ErrorContext(ctx, "scan pass failed", err)
		}
	}

	if ctx.Err() == nil && cfg.Cleanup {
		if err := ix.cleanup(ctx); err != nil {
			ix.log.ErrorContext(ctx, "cleanup pass failed", err)
		}
	}

	if cfg.DiscardOnCancel && ctx.Err() != nil {
		return
	}
	if err := ix.store.Flush(); err != nil {
		ix.log.ErrorContext(ctx, "final flush failed", err)
	}
}

// scan runs the walker → parser pool → committer pipeline to completion
// or until ctx is canceled. LazyCheck compares directory mtimes against
// the timestamp of the last scan that completed without cancellation,
// read from the Store's metadata slot rather than tracked per directory:
// a single watermark is enough to skip subtrees untouched since then,
// and it survives process restarts.
func (ix *Indexer) scan(ctx context.Context, cfg Config) error {
	candidates := make(chan walker.Candidate, 256)
	records := make(chan *parser.Record, 256)

	lastScan := ix.lastScanTime()
	scanStarted := time.Now()

	policy := walker.Policy{
		IgnoreNoupdate: cfg.IgnoreNoupdate,
		LazyCheck:      cfg.LazyCheck,
		DirSeenMTime:   func(string) time.Time { return lastScan },
		InodeOrder:     true,
	}

	var walkErr error
	var walkWG sync.WaitGroup
	walkWG.Add(1)
	go func() {
		defer walkWG.Done()
		walkErr = walker.Walk(ix.root, policy, ix.log, candidates)
	}()

	var parseWG sync.WaitGroup
	p := parser.New(cfg.BodyMode)
	n := cfg.threads()
	for i := 0; i < n; i++ {
		parseWG.Add(1)
		go func(id int) {
			defer parseWG.Done()
			ix.parseWorker(ctx, id, p, cfg, candidates, records)
		}(i)
	}

	go func() {
		parseWG.Wait()
		close(records)
	}()

	ix.commit(ctx, records)
	// After cancellation the parse workers stop reading candidates; drain
	// what is left so the walker is never stuck on a full channel.
	for range candidates {
	}
	walkWG.Wait()

	if walkErr == nil && ctx.Err() == nil {
		if err := ix.store.SetMetadata(lastScanKey, fmt.Sprintf("%d", scanStarted.Unix())); err != nil {
			ix.log.WarnContext(ctx, "failed to persist lazy-check watermark", "error", err.Error())
		}
	}
	return walkErr
}

// lastScanTime reads the watermark left by the previous uncanceled scan.
// Absent or malformed metadata yields the zero Time, which disables
// LazyCheck's skip (every directory looks newer than never).
func (ix *Indexer) lastScanTime() time.Time {
	v, err := ix.store.Metadata(lastScanKey)
	if err != nil || v == "" {
		return time.Time{}
	}
	var unix int64
	if _, err := fmt.Sscanf(v, "%d", &unix); err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// parseWorker consumes candidates, skipping up-to-date files unless
// force is set, and emits a record for everything else it can parse.
func (ix *Indexer) parseWorker(ctx context.Context, id int, p *parser.Parser, cfg Config, in <-chan walker.Candidate, out chan<- *parser.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case cand, ok := <-in:
			if !ok {
				return
			}
			ix.handleCandidate(ctx, p, cfg, cand, out)
		}
	}
}

func (ix *Indexer) handleCandidate(ctx context.Context, p *parser.Parser, cfg Config, cand walker.Candidate, out chan<- *parser.Record) {
	defer atomic.AddInt64(&ix.processed, 1)
	defer metrics.MessagesProcessed.Inc()

	if !cfg.Force {
		if stored, found, err := ix.store.Mtime(cand.AbsPath); err == nil && found {
			if stored >= cand.MTime.Unix() {
				return // up-to-date, skip parsing
			}
		}
	}

	rec, err := p.Parse(cand.AbsPath, cand.RelMaildir, cand.InNewFolder)
	if err != nil {
		metrics.RecordParseError(parseErrorKind(err))
		pctx := logging.WithPath(logging.WithMaildir(ctx, cand.RelMaildir), cand.AbsPath)
		ix.log.WarnContext(pctx, "parse failed", "error", err.Error())
		return
	}

	select {
	case out <- rec:
	case <-ctx.Done():
	}
}

func parseErrorKind(err error) string {
	switch {
	case errors.Is(err, parser.ErrFileUnreadable):
		return "unreadable"
	case errors.Is(err, parser.ErrNotRegularFile):
		return "not-regular"
	case errors.Is(err, parser.ErrParseFailed):
		return "parse-failed"
	default:
		return "unknown"
	}
}

// commit is the single committer: it applies each record to the Store
// and retries a batch once, excluding whichever document failed to
// write, per spec's single-writer batch policy.
func (ix *Indexer) commit(ctx context.Context, records <-chan *parser.Record) {
	pending := make(map[string]*parser.Record)
	order := make([]string, 0, 256)

	flushBatch := func() {
		if len(order) == 0 {
			return
		}
		if ix.cfg.DiscardOnCancel && ctx.Err() != nil {
			pending = make(map[string]*parser.Record)
			order = order[:0]
			return
		}
		start := time.Now()
		stats := &resilience.Stats{}
		kept, err := resilience.BatchRetry(ctx, stats, order, func(_ context.Context, paths []string) (string, error) {
			for _, path := range paths {
				rec := pending[path]
				if rec == nil {
					continue
				}
				if werr := ix.store.AddOrUpdate(toDocument(rec)); werr != nil {
					return path, werr
				}
			}
			return "", nil
		})
		metrics.RecordBatchCommit(time.Since(start).Seconds(), stats.Retries > 0)
		if err != nil && !errors.Is(err, resilience.ErrExcluded) {
			ix.log.ErrorContext(ctx, "batch commit failed", err, "batch_size", len(order))
		} else {
			atomic.AddInt64(&ix.updated, int64(len(kept)))
			metrics.MessagesUpdated.Add(float64(len(kept)))
			if err := ix.store.Flush(); err != nil {
				ix.log.ErrorContext(ctx, "batch flush failed", err)
			}
		}
		pending = make(map[string]*parser.Record)
		order = order[:0]
	}

	for rec := range records {
		pending[rec.Path] = rec
		order = append(order, rec.Path)
		if len(order) >= commitBatchSize {
			flushBatch()
		}
	}
	flushBatch()
}

// commitBatchSize bounds how many records accumulate between retryable
// commit attempts. Independent of the Store's own internal batch-size/
// flush threshold, which internal/store manages itself.
const commitBatchSize = 500

// cleanup enumerates every stored path and removes documents whose
// backing file is gone.
func (ix *Indexer) cleanup(ctx context.Context) error {
	var stale []string
	err := ix.store.ForEachPath(func(path string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, path := range stale {
		if err := ix.store.Remove(path); err != nil {
			ix.log.ErrorContext(ctx, "cleanup remove failed", err, "path", path)
			continue
		}
		atomic.AddInt64(&ix.removed, 1)
		metrics.MessagesRemoved.Inc()
	}
	return ix.store.Flush()
}

// toDocument converts a parsed record into the Store's own document
// shape. Kept as a free function, not a method on either package, so
// neither parser nor store needs to know about the other.
func toDocument(rec *parser.Record) store.Document {
	return store.Document{
		Path:       rec.Path,
		RelMaildir: rec.RelMaildir,
		MTime:      rec.MTime,
		Size:       rec.Size,
		MessageID:  rec.MessageID,
		Subject:    rec.Subject,
		From:       store.Address(rec.From),
		To:         convertAddresses(rec.To),
		Cc:         convertAddresses(rec.Cc),
		Bcc:        convertAddresses(rec.Bcc),
		Date:       rec.Date,
		Priority:   rec.Priority,
		Flags:      rec.Flags,
		BodyText:   rec.BodyText,
		References: rec.References,
		Tags:       rec.Tags,
	}
}

func convertAddresses(in []parser.Address) []store.Address {
	if in == nil {
		return nil
	}
	out := make([]store.Address, len(in))
	for i, a := range in {
		out[i] = store.Address(a)
	}
	return out
}
