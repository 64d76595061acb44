// Package pipeline implements the run driver: the five sequential stages
// that turn one subscription into zero or more chat notifications
// (expansion, collection, normalization, matching, notification), wired
// against the queue manager, the scraper and LLM clients, the matcher, the
// tracker, and the notification emitter.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/dedup"
	"github.com/nthiel/jobwatch/pkg/kvstore"
	"github.com/nthiel/jobwatch/pkg/llm"
	"github.com/nthiel/jobwatch/pkg/matcher"
	"github.com/nthiel/jobwatch/pkg/notify"
	"github.com/nthiel/jobwatch/pkg/orcherrors"
	"github.com/nthiel/jobwatch/pkg/queue"
	"github.com/nthiel/jobwatch/pkg/scraper"
	"github.com/nthiel/jobwatch/pkg/store"
	"github.com/nthiel/jobwatch/pkg/tracker"
)

// lockRefreshTTL is how long each stage transition's lock refresh extends
// the per-subscription lock for.
const lockRefreshTTL = 5 * time.Minute

// checkpointInterval is how often (in matched jobs) stage 4 updates the
// run's checkpoint with a processed-index marker.
const checkpointInterval = 50

// maxExpandedMultiplier and maxResumeSuggested bound the Query-Expansion
// agent's output.
const (
	maxExpandedMultiplier = 2
	maxResumeSuggested    = 5
)

// expansionCacheTTL and resultsCacheTTL bound how long cached expansions
// and scrape results are reused.
const (
	expansionCacheTTL = 6 * time.Hour
	resultsCacheTTL   = 30 * time.Minute
)

// requestDedupTTL bounds how long an in-flight or completed collection
// request is shared with concurrent callers carrying the same parameters.
const requestDedupTTL = 5 * time.Minute

// Result is what Run returns on success (including a cancelled run).
type Result struct {
	MatchesFound      int
	NotificationsSent int
	JobsProcessed     int
	Status            string
}

// Driver executes the pipeline for one subscription at a time.
type Driver struct {
	store   *store.Store
	tracker *tracker.Tracker
	kv      *kvstore.Client
	queue   *queue.Manager
	scraper *scraper.Client
	llm     *llm.Client
	matcher *matcher.Processor
	notify  *notify.Emitter

	reqCache *dedup.Cache[scraper.Posting]

	notifyCfg config.NotifyConfig
	podID     string
	logger    *slog.Logger
}

// New builds a Driver from its collaborators.
func New(st *store.Store, trk *tracker.Tracker, kv *kvstore.Client, qm *queue.Manager, scrapeClient *scraper.Client, llmClient *llm.Client, matchProcessor *matcher.Processor, emitter *notify.Emitter, notifyCfg config.NotifyConfig, podID string) *Driver {
	return &Driver{
		store:     st,
		tracker:   trk,
		kv:        kv,
		queue:     qm,
		scraper:   scrapeClient,
		llm:       llmClient,
		matcher:   matchProcessor,
		notify:    emitter,
		reqCache:  dedup.New[scraper.Posting](requestDedupTTL),
		notifyCfg: notifyCfg,
		podID:     podID,
		logger:    slog.Default().With("component", "pipeline-driver"),
	}
}

// Run executes one full pipeline pass for sub under runID — the id the
// caller locked the subscription with via kvstore.Client.TryAcquire — and
// returns the aggregate outcome. A cancelled run is reported via
// Result.Status, not an error; only stage failures that the caller (the
// scheduler) should log as a failed run are returned as errors.
func (d *Driver) Run(ctx context.Context, runID string, sub *store.Subscription, triggerType string) (*Result, error) {
	if _, err := d.tracker.StartRun(ctx, runID, sub.ID, triggerType, d.podID); err != nil {
		return nil, fmt.Errorf("pipeline: start run: %w", err)
	}

	if cancelled, err := d.checkpointTransition(ctx, runID, sub.ID, store.StageExpansion, 0, "starting"); err != nil {
		return nil, err
	} else if cancelled {
		return &Result{Status: store.RunStatusCancelled}, nil
	}

	titles, err := d.expand(ctx, runID, sub)
	if err != nil {
		return d.fail(ctx, runID, sub.ID, store.StageExpansion, err, map[string]any{"titles": sub.JobTitles.Value})
	}

	if cancelled, err := d.checkpointTransition(ctx, runID, sub.ID, store.StageCollection, 5, "collecting postings"); err != nil {
		return nil, err
	} else if cancelled {
		return &Result{Status: store.RunStatusCancelled}, nil
	}

	postings, err := d.collect(ctx, runID, sub, titles)
	if err != nil {
		return d.fail(ctx, runID, sub.ID, store.StageCollection, err, map[string]any{"titles": titles})
	}
	if err := d.tracker.AddCounter(ctx, runID, "jobs_collected", len(postings)); err != nil {
		d.logger.Warn("pipeline: add_counter jobs_collected failed", "run_id", runID, "error", err)
	}

	if cancelled, err := d.checkpointTransition(ctx, runID, sub.ID, store.StageNormalization, 55, "normalizing postings"); err != nil {
		return nil, err
	} else if cancelled {
		return &Result{Status: store.RunStatusCancelled}, nil
	}

	norm := normalize(postings, sub, "scraper")
	jobs, err := d.persistJobs(ctx, norm.Jobs)
	if err != nil {
		return d.fail(ctx, runID, sub.ID, store.StageNormalization, err, map[string]any{"raw_count": norm.RawCount})
	}
	if err := d.tracker.AddCounter(ctx, runID, "jobs_after_dedup", len(jobs)); err != nil {
		d.logger.Warn("pipeline: add_counter jobs_after_dedup failed", "run_id", runID, "error", err)
	}
	if err := d.tracker.SaveCheckpoint(ctx, runID, map[string]any{
		"stage": "post-collection", "raw_count": norm.RawCount, "unique_count": norm.UniqueCount,
	}); err != nil {
		d.logger.Warn("pipeline: save_checkpoint post-collection failed", "run_id", runID, "error", err)
	}

	if cancelled, err := d.checkpointTransition(ctx, runID, sub.ID, store.StageMatching, 60, "scoring matches"); err != nil {
		return nil, err
	} else if cancelled {
		return &Result{Status: store.RunStatusCancelled}, nil
	}

	matches, err := d.match(ctx, runID, sub, jobs)
	if err != nil {
		return d.fail(ctx, runID, sub.ID, store.StageMatching, err, map[string]any{"jobs_total": len(jobs)})
	}
	retained := retainMatches(matches, sub.MinScore)
	if err := d.tracker.AddCounter(ctx, runID, "jobs_matched", len(retained)); err != nil {
		d.logger.Warn("pipeline: add_counter jobs_matched failed", "run_id", runID, "error", err)
	}

	if cancelled, err := d.checkpointTransition(ctx, runID, sub.ID, store.StageNotification, 90, "notifying"); err != nil {
		return nil, err
	} else if cancelled {
		return &Result{Status: store.RunStatusCancelled}, nil
	}

	sent, err := d.notifyMatches(ctx, runID, sub, retained)
	if err != nil {
		return d.fail(ctx, runID, sub.ID, store.StageNotification, err, map[string]any{"retained": len(retained)})
	}
	if err := d.tracker.AddCounter(ctx, runID, "notifications_sent", sent); err != nil {
		d.logger.Warn("pipeline: add_counter notifications_sent failed", "run_id", runID, "error", err)
	}

	if err := d.tracker.SetStage(ctx, runID, sub.ID, store.StageNotification, 100, "done"); err != nil {
		d.logger.Warn("pipeline: set_stage final failed", "run_id", runID, "error", err)
	}
	if err := d.tracker.Complete(ctx, runID, sub.ID); err != nil {
		return nil, fmt.Errorf("pipeline: complete run: %w", err)
	}

	return &Result{
		MatchesFound:      len(retained),
		NotificationsSent: sent,
		JobsProcessed:     len(jobs),
		Status:            store.RunStatusCompleted,
	}, nil
}

// checkpointTransition implements the driver's stage-boundary contract:
// check run_cancelled, refresh the lock, call set_stage.
func (d *Driver) checkpointTransition(ctx context.Context, runID, subscriptionID, stage string, progressPercent int, detail string) (cancelled bool, err error) {
	if d.kv != nil {
		cancelled, err := d.kv.IsCancelled(ctx, runID)
		if err != nil {
			return false, fmt.Errorf("pipeline: check cancelled: %w", err)
		}
		if cancelled {
			if err := d.tracker.Cancel(ctx, runID, subscriptionID); err != nil {
				return false, fmt.Errorf("pipeline: cancel run: %w", err)
			}
			return true, nil
		}
		if err := d.kv.Refresh(ctx, subscriptionID, runID, lockRefreshTTL); err != nil {
			d.logger.Warn("pipeline: lock refresh failed", "run_id", runID, "error", err)
		}
	}
	if err := d.tracker.SetStage(ctx, runID, subscriptionID, stage, progressPercent, detail); err != nil {
		return false, fmt.Errorf("pipeline: set_stage %s: %w", stage, err)
	}
	return false, nil
}

// fail records a stage failure and releases the lock, returning the
// original error for the scheduler to swallow.
func (d *Driver) fail(ctx context.Context, runID, subscriptionID, stage string, cause error, errContext map[string]any) (*Result, error) {
	if errContext == nil {
		errContext = map[string]any{}
	}
	if failErr := d.tracker.Fail(ctx, runID, subscriptionID, stage, cause.Error(), errContext); failErr != nil {
		d.logger.Error("pipeline: failed to record run failure", "run_id", runID, "stage", stage, "error", failErr)
	}
	if d.kv != nil {
		if err := d.kv.Release(ctx, subscriptionID, runID); err != nil {
			d.logger.Warn("pipeline: lock release on failure failed", "run_id", runID, "error", err)
		}
	}
	return nil, cause
}

// expandCacheKey derives the QueryExpansionCache key from the title set and
// a prefix of the resume text, so subscriptions sharing titles and a resume
// reuse the same expansion.
func expandCacheKey(titles []string, resumeText string) string {
	prefix := resumeText
	if len(prefix) > 200 {
		prefix = prefix[:200]
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%v|%s", titles, prefix)))
	return hex.EncodeToString(h[:])
}

// expand implements stage 1: look up the expansion cache, otherwise call
// the LLM, store the result, and return the deduped effective title set.
func (d *Driver) expand(ctx context.Context, runID string, sub *store.Subscription) ([]string, error) {
	titles := sub.JobTitles.Value
	if len(titles) == 0 {
		return nil, orcherrors.New(orcherrors.InvalidInput, "pipeline.expand", fmt.Errorf("subscription has no job titles"))
	}

	key := expandCacheKey(titles, sub.ResumeText)
	if cached, ok, err := d.store.QueryCache.GetExpansion(ctx, key); err == nil && ok {
		return dedupPreserveOrder(append(append([]string{}, titles...), cached...)), nil
	}

	expansion, err := d.llm.ExpandTitles(ctx, titles, sub.ResumeText)
	if err != nil {
		return nil, fmt.Errorf("pipeline.expand: %w", err)
	}

	expanded := clampSlice(expansion.ExpandedTitles, len(titles)*maxExpandedMultiplier)
	suggested := clampSlice(expansion.ResumeSuggestedTitles, maxResumeSuggested)
	all := dedupPreserveOrder(append(append(append([]string{}, titles...), expanded...), suggested...))

	if err := d.store.QueryCache.PutExpansion(ctx, key, all, expansionCacheTTL); err != nil {
		d.logger.Warn("pipeline: put_expansion cache write failed", "run_id", runID, "error", err)
	}
	return all, nil
}

func clampSlice(s []string, max int) []string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func dedupPreserveOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// collectionCountry derives the country to pass to the scraper: if all of
// the subscription's remote locations share one country, that country;
// otherwise omitted.
func collectionCountry(locs []store.Location) string {
	country := ""
	for _, l := range locs {
		if l.Type != "remote" {
			continue
		}
		if l.Country == "" {
			return ""
		}
		if country == "" {
			country = l.Country
		} else if country != l.Country {
			return ""
		}
	}
	return country
}

// collect implements stage 2: enqueue one collection job per effective
// title x eligible location variant, aggregating raw postings, checking
// run_cancelled before every batch.
func (d *Driver) collect(ctx context.Context, runID string, sub *store.Subscription, titles []string) ([]scraper.Posting, error) {
	country := collectionCountry(sub.NormalizedLocations.Value)
	locations := collectionLocationVariants(sub.NormalizedLocations.Value)
	if len(locations) == 0 {
		locations = []string{""}
	}

	var isRemote *bool
	for _, l := range sub.NormalizedLocations.Value {
		if l.Type == "remote" {
			v := true
			isRemote = &v
			break
		}
	}

	var all []scraper.Posting
	for _, title := range titles {
		if d.kv != nil {
			if cancelled, err := d.kv.IsCancelled(ctx, runID); err == nil && cancelled {
				return all, nil
			}
		}
		for _, loc := range locations {
			req := scraper.Request{
				SearchTerm:    title,
				Location:      loc,
				Country:       country,
				ResultsWanted: 20,
				IsRemote:      isRemote,
				DatePosted:    sub.DatePosted,
			}
			for _, jt := range sub.JobTypes.Value {
				req.JobType = jt
				postings, err := d.enqueueCollection(ctx, runID, sub.ID, req)
				if err != nil {
					return nil, err
				}
				all = append(all, postings...)
			}
			if len(sub.JobTypes.Value) == 0 {
				postings, err := d.enqueueCollection(ctx, runID, sub.ID, req)
				if err != nil {
					return nil, err
				}
				all = append(all, postings...)
			}
		}
	}
	return all, nil
}

func collectionLocationVariants(locs []store.Location) []string {
	var out []string
	for _, l := range locs {
		if l.Type == "remote" {
			continue
		}
		if l.Display != "" {
			out = append(out, l.Display)
		} else if l.City != "" {
			out = append(out, l.City)
		}
	}
	return out
}

// requestCacheKey derives C2's cache_key from the collection request's
// effective parameters.
func requestCacheKey(req scraper.Request) string {
	isRemote := ""
	if req.IsRemote != nil {
		isRemote = fmt.Sprintf("%v", *req.IsRemote)
	}
	return dedup.Key(map[string]string{
		"search_term": req.SearchTerm,
		"location":    req.Location,
		"country":     req.Country,
		"job_type":    req.JobType,
		"date_posted": req.DatePosted,
		"is_remote":   isRemote,
	})
}

// enqueueCollection implements C2's contract over the queue layer: coalesce
// concurrent callers sharing a cache_key via the in-process dedup cache,
// falling back to the longer-lived relational result cache on a cold miss
// before actually enqueueing the scrape.
func (d *Driver) enqueueCollection(ctx context.Context, runID, subscriptionID string, req scraper.Request) ([]scraper.Posting, error) {
	cacheKey := requestCacheKey(req)

	return d.reqCache.Do(cacheKey, false, func() ([]scraper.Posting, error) {
		if cached, ok, err := d.store.QueryCache.GetResults(ctx, cacheKey); err == nil && ok {
			var postings []scraper.Posting
			if err := json.Unmarshal(cached, &postings); err == nil {
				return postings, nil
			}
		}

		payload, err := json.Marshal(req)
		if err != nil {
			return nil, orcherrors.New(orcherrors.Fatal, "pipeline.collect", fmt.Errorf("marshal request: %w", err))
		}

		priority := queue.PriorityScheduled
		out, err := d.queue.Enqueue(ctx, queue.Collection, payload, priority, runID, subscriptionID, func(ctx context.Context) (json.RawMessage, error) {
			postings, err := d.scraper.ScrapeIntersected(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(postings)
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline.collect: enqueue: %w", err)
		}

		var postings []scraper.Posting
		if err := json.Unmarshal(out, &postings); err != nil {
			return nil, orcherrors.New(orcherrors.InvalidInput, "pipeline.collect", fmt.Errorf("decode collection result: %w", err))
		}
		if err := d.store.QueryCache.PutResults(ctx, cacheKey, "scraper", out, resultsCacheTTL); err != nil {
			d.logger.Warn("pipeline: put_results cache write failed", "run_id", runID, "error", err)
		}
		return postings, nil
	})
}

// HandleCollection is the collection queue's worker handler: scrape one
// request and return its postings. Registered once at process startup via
// queue.Manager.StartWorkers, it is what actually runs a job claimed off
// the collection queue — the closure passed to queue.Manager.Enqueue only
// runs on the in-process fallback path when Redis is unreachable.
func (d *Driver) HandleCollection(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var req scraper.Request
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, orcherrors.New(orcherrors.Fatal, "pipeline.collect", fmt.Errorf("decode job payload: %w", err))
	}

	postings, err := d.scraper.ScrapeIntersected(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(postings)
}

// SweepRequestCache drops expired in-process dedup entries; intended to run
// on a periodic ticker owned by the process entrypoint.
func (d *Driver) SweepRequestCache() {
	d.reqCache.Sweep()
}

// RequestCacheSize reports the in-process dedup cache's current entry
// count, surfaced by the admin diagnostics endpoint.
func (d *Driver) RequestCacheSize() int {
	return d.reqCache.Len()
}

// persistJobs upserts normalized jobs into the relational store, returning
// the stored rows (which carry first_seen_at from any prior sighting).
func (d *Driver) persistJobs(ctx context.Context, jobs []*store.Job) ([]*store.Job, error) {
	out := make([]*store.Job, 0, len(jobs))
	for _, j := range jobs {
		if err := d.store.Jobs.Upsert(ctx, j); err != nil {
			return nil, fmt.Errorf("pipeline.normalize: upsert job %s: %w", j.ContentHash, err)
		}
		stored, err := d.store.Jobs.GetByContentHash(ctx, j.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("pipeline.normalize: reload job %s: %w", j.ContentHash, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

// match implements stage 4: invoke the adaptive batch processor, wiring its
// progress callback to the 60-90% band and the every-50-jobs checkpoint.
func (d *Driver) match(ctx context.Context, runID string, sub *store.Subscription, jobs []*store.Job) ([]*store.JobMatch, error) {
	lastCheckpoint := 0
	onProgress := func(processed, total int) {
		percent := 60
		if total > 0 {
			percent = 60 + (30 * processed / total)
		}
		if err := d.tracker.SetStage(ctx, runID, sub.ID, store.StageMatching, percent, fmt.Sprintf("%d/%d scored", processed, total)); err != nil {
			d.logger.Warn("pipeline: set_stage matching progress failed", "run_id", runID, "error", err)
		}
		if processed/checkpointInterval > lastCheckpoint/checkpointInterval {
			lastCheckpoint = processed
			if err := d.tracker.SaveCheckpoint(ctx, runID, map[string]any{"stage": "matching", "processed": processed, "total": total}); err != nil {
				d.logger.Warn("pipeline: save_checkpoint matching failed", "run_id", runID, "error", err)
			}
		}
	}

	matches, errs := d.matcher.ProcessBatch(ctx, runID, sub.ID, sub.ResumeText, sub.ResumeHash, jobs, onProgress)
	if len(errs) > 0 {
		d.logger.Warn("pipeline: match stage completed with partial errors", "run_id", runID, "error_count", len(errs))
	}
	return matches, nil
}

func retainMatches(matches []*store.JobMatch, minScore int) []*store.JobMatch {
	out := make([]*store.JobMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out
}

// notifyMatches implements stage 5: dedup against SentNotification, cap and
// sort, emit, and ledger every successful send.
func (d *Driver) notifyMatches(ctx context.Context, runID string, sub *store.Subscription, retained []*store.JobMatch) (int, error) {
	if len(retained) == 0 {
		return 0, nil
	}

	alreadySent, err := d.store.Notifications.AlreadySentForSubscription(ctx, sub.ID)
	if err != nil {
		return 0, fmt.Errorf("pipeline.notify: already_sent lookup: %w", err)
	}

	user, err := d.store.Users.GetByID(ctx, sub.UserID)
	if err != nil {
		return 0, fmt.Errorf("pipeline.notify: load user: %w", err)
	}
	var crossSubSent map[string]bool
	if user.SkipCrossSubDuplicates {
		crossSubSent, err = d.store.Notifications.AlreadySentForUser(ctx, sub.UserID)
		if err != nil {
			return 0, fmt.Errorf("pipeline.notify: cross-sub already_sent lookup: %w", err)
		}
	}

	var fresh []*store.JobMatch
	for _, m := range retained {
		if alreadySent[m.ID] {
			continue
		}
		if crossSubSent != nil && crossSubSent[m.ID] {
			continue
		}
		fresh = append(fresh, m)
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Score > fresh[j].Score })
	maxMatches := d.notifyCfg.MaxMatchesPerRun
	if maxMatches > 0 && len(fresh) > maxMatches {
		fresh = fresh[:maxMatches]
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	summaries := make([]notify.MatchSummary, 0, len(fresh))
	for _, m := range fresh {
		job, err := d.store.Jobs.GetByContentHash(ctx, m.JobID)
		if err != nil {
			return 0, fmt.Errorf("pipeline.notify: load job %s: %w", m.JobID, err)
		}
		currency := ""
		if job.SalaryCurrency != nil {
			currency = *job.SalaryCurrency
		}
		summaries = append(summaries, notify.MatchSummary{
			JobMatchID:     m.ID,
			Title:          job.Title,
			Company:        job.Company,
			Score:          m.Score,
			Location:       job.Location,
			SalaryMin:      job.SalaryMin,
			SalaryMax:      job.SalaryMax,
			SalaryCurrency: currency,
			ApplicationURL: job.ApplicationURL,
			MatchedSkills:  m.MatchedSkills.Value,
		})
	}

	results := d.notify.Send(ctx, "", summaries)
	sent := 0
	for _, r := range results {
		if !r.Success {
			d.logger.Warn("pipeline: notification send failed", "run_id", runID, "job_match_id", r.JobMatchID, "error", r.Err)
			continue
		}
		ok, err := d.store.Notifications.TryRecord(ctx, sub.ID, r.JobMatchID)
		if err != nil {
			d.logger.Error("pipeline: notification ledger write failed", "run_id", runID, "job_match_id", r.JobMatchID, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}
