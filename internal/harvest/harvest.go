// Package harvest drives the end-to-end run: walk the listing pages from
// the persisted cursor, discover detail URLs, extract records, push them to
// the CMS, and checkpoint after every page. Single-threaded on purpose: one
// authenticated session fetching politely looks like one logged-in person.
package harvest

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talentsift/harvest-cli/internal/config"
	"github.com/talentsift/harvest-cli/internal/discovery"
	"github.com/talentsift/harvest-cli/internal/extract"
	"github.com/talentsift/harvest-cli/internal/fetcher"
	"github.com/talentsift/harvest-cli/internal/license"
	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/sanitize"
	"github.com/talentsift/harvest-cli/internal/state"
	"github.com/talentsift/harvest-cli/pkg/wordpress"
)

// delayRange is a jittered politeness pause. The bounds are fixed at
// construction, not per call: page fetches wait longer than detail fetches.
type delayRange struct {
	min, max time.Duration
}

func (r delayRange) pick() time.Duration {
	if r.max <= r.min {
		return r.min
	}
	return r.min + rand.N(r.max-r.min)
}

// Harvester runs one harvest from the persisted checkpoint to a terminal
// state. All collaborators are handed in at construction; Run never builds
// network clients of its own beyond the extractor, which needs the tier the
// license check decides.
type Harvester struct {
	cfg     *config.Config
	session *fetcher.Session
	store   state.Store
	checker license.Checker
	syncer  wordpress.Client

	pageDelay   delayRange
	detailDelay delayRange
}

// New wires a harvester. The config value is read, never written.
func New(cfg *config.Config, session *fetcher.Session, store state.Store, checker license.Checker, syncer wordpress.Client) *Harvester {
	return &Harvester{
		cfg:         cfg,
		session:     session,
		store:       store,
		checker:     checker,
		syncer:      syncer,
		pageDelay:   delayRange{2 * time.Second, 5 * time.Second},
		detailDelay: delayRange{1 * time.Second, 3 * time.Second},
	}
}

// Run executes the harvest state machine and returns the run summary. A nil
// error covers every clean terminal state, including the login wall and an
// operator interrupt; only an unreadable store, a run-history write failure
// or an unrecoverable page fetch is an error.
func (h *Harvester) Run(ctx context.Context) (*model.RunSummary, error) {
	log := zap.L().With(zap.String("component", "harvest"))

	cp, err := h.store.LoadCheckpoint(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: load checkpoint")
	}

	tier, identity := h.startupProbes(ctx)
	switch identity {
	case fetcher.IdentityExpired:
		log.Warn("session cookies look expired, expect a login wall")
	case fetcher.IdentityAuthenticated:
		log.Info("session verified as signed in")
	default:
		log.Debug("identity probe inconclusive")
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		Keyword:   h.cfg.Site.Keyword,
		Locale:    h.cfg.Site.Locale,
		Tier:      tier,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "harvest: record run start")
	}

	log.Info("starting harvest",
		zap.String("run_id", run.ID),
		zap.String("keyword", run.Keyword),
		zap.String("locale", run.Locale),
		zap.String("tier", string(tier)),
		zap.Uint("start_page", cp.NextPage),
		zap.Int("processed_ids", len(cp.ProcessedIDs)),
	)

	ex := extract.New(h.session, tier)
	summary := &model.RunSummary{}
	page := cp.NextPage
	emptyStreak := 0
	status := model.RunStatusRunning
	var runErr error

walk:
	for {
		if h.cfg.Harvest.MaxPages > 0 && summary.Pages >= h.cfg.Harvest.MaxPages {
			log.Info("page limit reached", zap.Int("max_pages", h.cfg.Harvest.MaxPages))
			status = model.RunStatusPageLimit
			break
		}

		if err := sleep(ctx, h.pageDelay.pick()); err != nil {
			status = model.RunStatusInterrupted
			break
		}

		pageURL := h.pageURL(page)
		resp, err := h.session.Get(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				status = model.RunStatusInterrupted
				break
			}
			status = model.RunStatusFailed
			runErr = eris.Wrapf(err, "harvest: fetch listing page %d", page)
			break
		}

		if walled, kind := fetcher.DetectWall(resp.FinalURL, resp.Body); walled {
			log.Warn("listing page landed on a wall, session is invalid",
				zap.Uint("page", page),
				zap.String("wall", string(kind)),
			)
			status = model.RunStatusLoginWall
			break
		}

		summary.Pages++

		candidates := h.discoverPage(resp, log, page)
		if len(candidates) == 0 {
			summary.EmptyPages++
			emptyStreak++
			log.Info("empty listing page",
				zap.Uint("page", page),
				zap.Int("streak", emptyStreak),
			)
			if emptyStreak >= h.cfg.Harvest.EmptyPageThreshold {
				status = model.RunStatusExhausted
			}
		} else {
			emptyStreak = 0
			summary.Discovered += len(candidates)

			for _, jobURL := range candidates {
				if err := sleep(ctx, h.detailDelay.pick()); err != nil {
					status = model.RunStatusInterrupted
					break walk
				}
				if walled := h.processRecord(ctx, ex, jobURL, summary, log); walled {
					status = model.RunStatusLoginWall
					break walk
				}
			}
		}

		// The page is finished even when it decided the run is over, so the
		// cursor still moves past it. Wall and interrupt breaks above leave
		// the cursor on the unfinished page instead.
		page++
		h.store.SaveCursor(page)
		if err := h.store.Flush(ctx); err != nil {
			// Synced records stay synced; a lost digest only costs an
			// idempotent re-upsert next run.
			log.Error("checkpoint flush failed", zap.Error(err))
		}
		log.Info("page complete",
			zap.Uint("page", page-1),
			zap.Int("synced", summary.Synced),
			zap.Int("skipped", summary.Skipped),
		)

		if status != model.RunStatusRunning {
			break
		}
	}

	h.finish(ctx, run, status, summary, runErr, log)
	return summary, runErr
}

// startupProbes runs the identity probe and the license check concurrently.
// Neither can fail the run: the probe is a hint and a failed license check
// degrades to the restricted tier.
func (h *Harvester) startupProbes(ctx context.Context) (model.ExtractionTier, fetcher.IdentityStatus) {
	tier := model.TierRestricted
	identity := fetcher.IdentityInconclusive

	g, probeCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		identity = h.session.VerifyIdentity(probeCtx, discovery.ProbePath)
		return nil
	})
	g.Go(func() error {
		t, err := h.checker.Verify(probeCtx)
		if err != nil {
			zap.L().Warn("license check failed, continuing restricted", zap.Error(err))
		}
		tier = t
		return nil
	})
	_ = g.Wait()

	return tier, identity
}

// pageURL builds the guest search URL for one listing page. The cursor is a
// page index; the site paginates by record offset, so the start parameter is
// page times the page size.
func (h *Harvester) pageURL(page uint) string {
	u := *h.session.Origin()
	u.Path = discovery.SearchPath

	q := url.Values{}
	if kw := h.cfg.Site.Keyword; kw != "" {
		q.Set("keywords", kw)
	}
	if loc := h.cfg.Site.Locale; loc != "" {
		q.Set("locale", loc)
	}
	q.Set("start", strconv.FormatUint(uint64(page)*uint64(h.cfg.Harvest.PerPageCap), 10))
	u.RawQuery = q.Encode()

	return u.String()
}

// discoverPage parses a listing response and returns detail candidates. Any
// page that cannot yield candidates counts as empty; emptiness is how the
// walk learns the listing is over, so parse failures and odd statuses feed
// the same streak instead of aborting.
func (h *Harvester) discoverPage(resp *fetcher.Response, log *zap.Logger, page uint) []string {
	if !resp.OK() {
		log.Warn("listing page returned a non-OK status",
			zap.Uint("page", page),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("listing page did not parse", zap.Uint("page", page), zap.Error(err))
		return nil
	}

	return discovery.Discover(doc, h.session.Origin(), h.cfg.Harvest.PerPageCap)
}

// processRecord extracts, dedups and syncs one detail URL. Every failure
// mode is counted and absorbed except a wall landing, which is returned so
// the walk can terminate: the session is dead and every further fetch would
// hit the same wall.
func (h *Harvester) processRecord(ctx context.Context, ex *extract.Extractor, jobURL string, summary *model.RunSummary, log *zap.Logger) bool {
	rec, err := ex.Job(ctx, jobURL)
	if err != nil {
		var exErr *extract.ExtractionError
		if errors.As(err, &exErr) && exErr.Wall != fetcher.WallNone {
			log.Warn("detail page landed on a wall, session is invalid",
				zap.String("url", jobURL),
				zap.String("wall", string(exErr.Wall)),
			)
			return true
		}
		summary.ExtractionFailures++
		log.Warn("extraction failed", zap.String("url", jobURL), zap.Error(err))
		return false
	}
	summary.Extracted++

	rec.Digest = sanitize.Identity(rec.Title, rec.CompanyName)
	if h.store.Processed(rec.Digest) {
		summary.Skipped++
		log.Debug("record already processed",
			zap.String("digest", rec.Digest),
			zap.String("title", rec.Title),
		)
		return false
	}

	if err := h.syncRecord(ctx, rec); err != nil {
		summary.SyncFailures++
		log.Warn("sync failed, record will be retried next run",
			zap.String("url", jobURL),
			zap.String("digest", rec.Digest),
			zap.Error(err),
		)
		return false
	}

	summary.Synced++
	h.store.MarkProcessed(rec.Digest)
	return false
}

// syncRecord pushes the company first so the job can link to it. A record
// with no company name still syncs as a bare job.
func (h *Harvester) syncRecord(ctx context.Context, rec *model.JobRecord) error {
	var companyID int64
	if rec.CompanyName != "" {
		res, err := h.syncer.UpsertCompany(ctx, rec)
		if err != nil {
			return eris.Wrap(err, "company upsert")
		}
		companyID = res.ID
	}

	res, err := h.syncer.UpsertJob(ctx, rec, companyID)
	if err != nil {
		return eris.Wrap(err, "job upsert")
	}

	zap.L().Info("record synced",
		zap.String("digest", rec.Digest),
		zap.String("title", rec.Title),
		zap.String("company", rec.CompanyName),
		zap.Int64("remote_id", res.ID),
		zap.String("result", res.Status),
	)
	return nil
}

// finish flushes pending state and completes the run record. It runs on a
// detached context so an interrupt cannot cancel its own bookkeeping.
func (h *Harvester) finish(ctx context.Context, run *model.Run, status model.RunStatus, summary *model.RunSummary, runErr error, log *zap.Logger) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := h.store.Flush(finishCtx); err != nil {
		log.Error("final checkpoint flush failed", zap.Error(err))
	}

	now := time.Now().UTC()
	run.Status = status
	run.Summary = *summary
	run.FinishedAt = &now
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := h.store.CompleteRun(finishCtx, run); err != nil {
		log.Error("could not record run completion", zap.Error(err))
	}

	log.Info("harvest finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("pages", summary.Pages),
		zap.Int("discovered", summary.Discovered),
		zap.Int("extracted", summary.Extracted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("synced", summary.Synced),
		zap.Int("sync_failures", summary.SyncFailures),
		zap.Int("extraction_failures", summary.ExtractionFailures),
	)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
