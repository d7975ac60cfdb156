// Package syncer drives the reconciliation of one knowledge space against
// the vector index: list remote pages, diff against the sync ledger, then
// apply per-page pipelines (fetch, chunk, embed, upsert, delete stale)
// under a bounded worker pool. Each page commits independently, so a run
// interrupted halfway resumes by re-processing only uncommitted pages.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-labs/wikidex/internal/chunker"
	"github.com/meridian-labs/wikidex/internal/confluence"
	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/ledger"
	"github.com/meridian-labs/wikidex/internal/vectorindex"
)

// Source lists and fetches wiki content.
type Source interface {
	ListPages(ctx context.Context, spaceKey string) ([]confluence.PageHeader, error)
	FetchPage(ctx context.Context, pageID string) (confluence.Page, error)
	ListAttachments(ctx context.Context, pageID string) ([]confluence.Attachment, error)
	DownloadAttachment(ctx context.Context, att confluence.Attachment) ([]byte, error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index receives chunk vectors and deletions.
type Index interface {
	Upsert(ctx context.Context, namespace string, records []vectorindex.Record) error
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Ledger persists per-page sync state.
type Ledger interface {
	Get(pageID string) (ledger.Entry, error)
	List(spaceKey string) ([]ledger.Entry, error)
	Put(e ledger.Entry) error
	Delete(pageID string) error
}

// Summary reports the outcome of one sync run.
type Summary struct {
	RunID          string        `json:"run_id"`
	SpaceKey       string        `json:"space_key"`
	Full           bool          `json:"full"`
	PagesProcessed int           `json:"pages_processed"`
	PagesFailed    []string      `json:"pages_failed,omitempty"`
	PagesSkipped   int           `json:"pages_skipped"`
	ChunksUpserted int           `json:"chunks_upserted"`
	ChunksDeleted  int           `json:"chunks_deleted"`
	Duration       time.Duration `json:"duration"`
}

// Deps bundles what a Coordinator needs.
type Deps struct {
	Source             Source
	Embedder           Embedder
	Index              Index
	Ledger             Ledger
	Splitter           *chunker.Splitter
	Locks              *ledger.Locks
	Workers            int
	IncludeAttachments bool
	Logger             *slog.Logger
}

// Coordinator reconciles spaces. Safe for concurrent use; concurrent runs
// on the same space are rejected.
type Coordinator struct {
	deps Deps
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{deps: deps}
}

// Run synchronizes one space. With full set, every remote page is
// re-verified against the ledger and re-applied; otherwise only pages whose
// remote version is newer than the ledger's are touched. Pages present in
// the ledger but absent remotely are removed from the index either way.
func (c *Coordinator) Run(ctx context.Context, spaceKey string, full bool) (Summary, error) {
	start := time.Now()

	release, ok := c.deps.Locks.TryAcquire(spaceKey)
	if !ok {
		return Summary{}, errkind.New(errkind.InvalidArgument, "sync "+spaceKey, "sync already running for this space")
	}
	defer release()

	runID := uuid.NewString()
	log := c.deps.Logger.With("run_id", runID, "space", spaceKey, "full", full)
	log.Info("sync started")

	// Listing.
	remote, err := c.deps.Source.ListPages(ctx, spaceKey)
	if err != nil {
		log.Error("listing pages failed", "error", err)
		return Summary{}, err
	}

	known, err := c.deps.Ledger.List(spaceKey)
	if err != nil {
		log.Error("reading ledger failed", "error", err)
		return Summary{}, err
	}

	// Diffing.
	knownByID := make(map[string]ledger.Entry, len(known))
	for _, e := range known {
		knownByID[e.PageID] = e
	}
	remoteIDs := make(map[string]bool, len(remote))

	var changed []confluence.PageHeader
	unchanged := 0
	for _, h := range remote {
		remoteIDs[h.ID] = true
		prev, exists := knownByID[h.ID]
		if full || !exists || h.Version > prev.Version {
			changed = append(changed, h)
		} else {
			unchanged++
		}
	}

	var orphans []ledger.Entry
	for _, e := range known {
		if !remoteIDs[e.PageID] {
			orphans = append(orphans, e)
		}
	}

	log.Info("diff computed",
		"remote", len(remote), "changed", len(changed),
		"unchanged", unchanged, "orphaned", len(orphans))

	// Applying.
	sum := Summary{RunID: runID, SpaceKey: spaceKey, Full: full}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.deps.Workers)

	for _, h := range changed {
		h := h
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := c.syncPage(gCtx, log, spaceKey, h)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("page sync failed", "page", h.ID, "error", err)
				sum.PagesFailed = append(sum.PagesFailed, h.ID)
				return nil
			}
			sum.ChunksUpserted += res.upserted
			sum.ChunksDeleted += res.deleted
			if res.skipped {
				sum.PagesSkipped++
			} else {
				sum.PagesProcessed++
			}
			return nil
		})
	}

	for _, e := range orphans {
		e := e
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			deleted, err := c.removePage(gCtx, spaceKey, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("page removal failed", "page", e.PageID, "error", err)
				sum.PagesFailed = append(sum.PagesFailed, e.PageID)
				return nil
			}
			sum.ChunksDeleted += deleted
			sum.PagesProcessed++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; page errors are absorbed
		// into the summary.
		return Summary{}, err
	}

	sum.PagesSkipped += unchanged
	sum.Duration = time.Since(start)
	log.Info("sync finished",
		"processed", sum.PagesProcessed, "failed", len(sum.PagesFailed),
		"skipped", sum.PagesSkipped, "upserted", sum.ChunksUpserted,
		"deleted", sum.ChunksDeleted, "duration", sum.Duration)
	return sum, nil
}

type pageResult struct {
	upserted int
	deleted  int
	skipped  bool
}

// syncPage runs the ordered pipeline for one changed page. The ledger entry
// advances only after every index write has succeeded.
func (c *Coordinator) syncPage(ctx context.Context, log *slog.Logger, spaceKey string, h confluence.PageHeader) (pageResult, error) {
	page, err := c.deps.Source.FetchPage(ctx, h.ID)
	if err != nil {
		// Deleted between listing and fetch: treat as an orphan removal.
		if errkind.KindOf(err) == errkind.NotFound {
			prev, lerr := c.deps.Ledger.Get(h.ID)
			if errors.Is(lerr, ledger.ErrNotFound) {
				return pageResult{skipped: true}, nil
			}
			if lerr != nil {
				return pageResult{}, lerr
			}
			deleted, rerr := c.removePage(ctx, spaceKey, prev)
			return pageResult{deleted: deleted}, rerr
		}
		return pageResult{}, err
	}

	body := page.Body
	if c.deps.IncludeAttachments {
		body = c.appendAttachments(ctx, log, page.ID, body)
	}

	prev, err := c.deps.Ledger.Get(page.ID)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return pageResult{}, err
	}

	chunks := c.deps.Splitter.Split(page.ID, spaceKey, page.Version, body)
	if len(chunks) == 0 {
		// Nothing retrievable; drop whatever an earlier version left behind.
		log.Info("skipping page with empty body", "page", page.ID, "title", page.Title)
		res := pageResult{skipped: true}
		if hasPrev {
			deleted, err := c.removePage(ctx, spaceKey, prev)
			if err != nil {
				return pageResult{}, err
			}
			res.deleted = deleted
		}
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return pageResult{}, err
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vectorindex.Record{
			ID:     ch.ID,
			Values: vectors[i],
			Metadata: vectorindex.Metadata{
				PageID:       page.ID,
				SpaceKey:     spaceKey,
				Title:        page.Title,
				URL:          page.URL,
				LastModified: page.LastModified.UTC().Format(time.RFC3339),
				Seq:          ch.Seq,
				Text:         ch.Text,
			},
		}
	}
	if err := c.deps.Index.Upsert(ctx, spaceKey, records); err != nil {
		return pageResult{}, err
	}

	stale := staleIDs(page.ID, prev, hasPrev, page.Version, len(chunks))
	if len(stale) > 0 {
		if err := c.deps.Index.Delete(ctx, spaceKey, stale); err != nil {
			return pageResult{}, err
		}
	}

	if err := c.deps.Ledger.Put(ledger.Entry{
		PageID:     page.ID,
		SpaceKey:   spaceKey,
		Version:    page.Version,
		ChunkCount: len(chunks),
		Title:      page.Title,
		URL:        page.URL,
		SyncedAt:   time.Now().UTC(),
	}); err != nil {
		return pageResult{}, err
	}

	return pageResult{upserted: len(records), deleted: len(stale)}, nil
}

// staleIDs computes the chunk ids the previous sync wrote that the new
// version no longer covers. A version bump invalidates all prior ids (ids
// hash the version); a same-version re-sync only invalidates ids past the
// new chunk count.
func staleIDs(pageID string, prev ledger.Entry, hasPrev bool, newVersion, newCount int) []string {
	if !hasPrev || prev.ChunkCount == 0 {
		return nil
	}
	if prev.Version != newVersion {
		return chunker.IDs(pageID, prev.Version, prev.ChunkCount)
	}
	if prev.ChunkCount <= newCount {
		return nil
	}
	all := chunker.IDs(pageID, prev.Version, prev.ChunkCount)
	return all[newCount:]
}

// removePage deletes a page's chunks from the index and drops its ledger
// entry, in that order.
func (c *Coordinator) removePage(ctx context.Context, spaceKey string, e ledger.Entry) (int, error) {
	ids := chunker.IDs(e.PageID, e.Version, e.ChunkCount)
	if len(ids) > 0 {
		if err := c.deps.Index.Delete(ctx, spaceKey, ids); err != nil {
			return 0, err
		}
	}
	if err := c.deps.Ledger.Delete(e.PageID); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// appendAttachments extracts text from the page's attachments and appends
// it to the body as extra paragraphs. Attachment trouble never fails the
// page; the failing attachment is logged and skipped.
func (c *Coordinator) appendAttachments(ctx context.Context, log *slog.Logger, pageID, body string) string {
	atts, err := c.deps.Source.ListAttachments(ctx, pageID)
	if err != nil {
		log.Warn("listing attachments failed", "page", pageID, "error", err)
		return body
	}
	for _, att := range atts {
		data, err := c.deps.Source.DownloadAttachment(ctx, att)
		if err != nil {
			log.Warn("attachment download failed", "page", pageID, "attachment", att.Title, "error", err)
			continue
		}
		text, ok, err := confluence.AttachmentText(att, data)
		if err != nil {
			log.Warn("attachment text extraction failed", "page", pageID, "attachment", att.Title, "error", err)
			continue
		}
		if !ok {
			log.Debug("skipping unsupported attachment", "page", pageID, "attachment", att.Title, "media_type", att.MediaType)
			continue
		}
		if text != "" {
			body = body + "\n\n" + text
		}
	}
	return body
}
