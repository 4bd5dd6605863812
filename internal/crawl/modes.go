package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"magharvest/internal/faults"
	"magharvest/internal/fetch"
	"magharvest/internal/forum"
	"magharvest/internal/progress"
	"magharvest/internal/storage"
	"magharvest/internal/task"
)

// sectionDiscovery is the outcome of refreshing one section's known set.
type sectionDiscovery struct {
	// state is the section state after the union, or the pre-existing state
	// when the refresh failed partway.
	state      storage.SectionState
	discovered int
	added      int
	pages      int
	pagesOK    int
}

// sectionPlan pairs a section with the thread IDs to fetch this run, sorted
// descending so the watermark candidate is dispatched first.
type sectionPlan struct {
	sec forum.Section
	ids []forum.ThreadID
}

// runDiscover refreshes every enabled section's known thread set without
// fetching thread content.
func (o *Orchestrator) runDiscover(ctx context.Context, t *task.Task) (task.Result, error) {
	sections := enabledSections(o.cfg.Sections)
	if len(sections) == 0 {
		return task.Result{}, faults.New(faults.KindConfig, "no enabled sections configured")
	}

	var res task.Result
	failed := 0
	var firstErr error
	for i, sec := range sections {
		if t.Stopping() {
			return res, errStopped
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.setProgress(t, i*100/len(sections), fmt.Sprintf("discovering section %s", sec.ID()))
		disc, err := o.discoverSection(ctx, t, sec)
		if errors.Is(err, errStopped) {
			return res, errStopped
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Warn("section discovery failed",
				zap.String("section", sec.ID()), zap.Error(err))
			continue
		}
		res.Sections++
		res.Threads += int64(disc.added)
		o.logger.Info("section discovered",
			zap.String("section", sec.ID()),
			zap.Int("pages", disc.pages),
			zap.Int("found", disc.discovered),
			zap.Int("new", disc.added))
	}
	if failed == len(sections) {
		return res, fmt.Errorf("discovery failed for all %d sections: %w", failed, firstErr)
	}
	o.setProgress(t, 100, "discovery complete")
	return res, nil
}

// runSubmitAll fetches and submits every known thread across the enabled
// sections, regardless of the watermark.
func (o *Orchestrator) runSubmitAll(ctx context.Context, t *task.Task) (task.Result, error) {
	sections := enabledSections(o.cfg.Sections)
	if len(sections) == 0 {
		return task.Result{}, faults.New(faults.KindConfig, "no enabled sections configured")
	}

	var res task.Result
	var plan []sectionPlan
	total := 0
	loadFailed := 0
	var firstErr error
	for i, sec := range sections {
		if t.Stopping() {
			return res, errStopped
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.setProgress(t, i*50/len(sections), fmt.Sprintf("loading known threads for %s", sec.ID()))
		st, err := o.state.SectionState(ctx, sec.ID())
		if err != nil {
			loadFailed++
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Warn("section state load failed",
				zap.String("section", sec.ID()), zap.Error(err))
			continue
		}
		if len(st.KnownIDs) == 0 {
			o.logger.Info("section has no known threads", zap.String("section", sec.ID()))
			continue
		}
		ids := make([]forum.ThreadID, len(st.KnownIDs))
		copy(ids, st.KnownIDs)
		forum.SortDescending(ids)
		plan = append(plan, sectionPlan{sec: sec, ids: ids})
		total += len(ids)
		res.Sections++
	}
	if loadFailed == len(sections) {
		return res, fmt.Errorf("state load failed for all %d sections: %w", loadFailed, firstErr)
	}
	if total == 0 {
		o.setProgress(t, 100, "no known threads to fetch")
		return res, nil
	}

	records, marks, err := o.fetchPlanned(ctx, t, plan, total)
	if err != nil {
		return res, err
	}
	return o.finishRun(ctx, t, res, records, marks)
}

// runIncremental discovers, diffs against each section's watermark and
// processes only threads above it.
func (o *Orchestrator) runIncremental(ctx context.Context, t *task.Task) (task.Result, error) {
	sections := enabledSections(o.cfg.Sections)
	if len(sections) == 0 {
		return task.Result{}, faults.New(faults.KindConfig, "no enabled sections configured")
	}

	var res task.Result

	// Phase 1: best-effort discovery refresh. A section whose refresh fails
	// keeps its previously persisted known set and still takes part in the
	// diff, so one bad section never aborts the run.
	states := make(map[string]storage.SectionState, len(sections))
	for i, sec := range sections {
		if t.Stopping() {
			return res, errStopped
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.setProgress(t, i*25/len(sections), fmt.Sprintf("discovering section %s", sec.ID()))
		disc, err := o.discoverSection(ctx, t, sec)
		if errors.Is(err, errStopped) {
			return res, errStopped
		}
		if err != nil && ctx.Err() != nil {
			return res, err
		}
		if err != nil {
			o.logger.Warn("section discovery failed, diffing previous known set",
				zap.String("section", sec.ID()), zap.Error(err))
		} else {
			res.Sections++
		}
		states[sec.ID()] = disc.state
	}

	// Phase 2: diff each refreshed set against its watermark. Descending
	// dispatch order puts the watermark candidate first.
	var plan []sectionPlan
	total := 0
	for i, sec := range sections {
		if t.Stopping() {
			return res, errStopped
		}
		st := states[sec.ID()]
		o.setProgress(t, 25+i*25/len(sections), fmt.Sprintf("diffing section %s", sec.ID()))
		newIDs := forum.NewerThan(st.KnownIDs, st.Watermark)
		if len(newIDs) == 0 {
			o.logger.Info("no new threads",
				zap.String("section", sec.ID()),
				zap.String("watermark", string(st.Watermark)))
			continue
		}
		forum.SortDescending(newIDs)
		plan = append(plan, sectionPlan{sec: sec, ids: newIDs})
		total += len(newIDs)
	}
	if total == 0 {
		o.setProgress(t, 100, "no new threads found")
		return res, nil
	}

	// Phase 3: fetch, submit, persist.
	records, marks, err := o.fetchPlanned(ctx, t, plan, total)
	if err != nil {
		return res, err
	}
	return o.finishRun(ctx, t, res, records, marks)
}

// discoverSection fetches the section's next listing window and unions the
// extracted thread IDs into its persisted known set. The resume page advances
// only when at least one page fetch succeeded, so a fully failed window is
// retried on the next run.
func (o *Orchestrator) discoverSection(ctx context.Context, t *task.Task, sec forum.Section) (sectionDiscovery, error) {
	var disc sectionDiscovery
	st, err := o.state.SectionState(ctx, sec.ID())
	if err != nil {
		return disc, fmt.Errorf("load section state: %w", err)
	}
	disc.state = st

	effStart := sec.StartPage
	if st.LastPage > 0 {
		effStart = st.LastPage + 1
	}
	effEnd := sec.EndPage
	if effEnd-effStart+1 > o.cfg.MaxPagesPerRun {
		effEnd = effStart + o.cfg.MaxPagesPerRun - 1
	}
	if effStart > effEnd {
		o.logger.Info("section listing range exhausted",
			zap.String("section", sec.ID()),
			zap.Int("last_page", st.LastPage))
		return disc, nil
	}

	keys := make([]string, 0, effEnd-effStart+1)
	for page := effStart; page <= effEnd; page++ {
		keys = append(keys, strconv.Itoa(page))
	}

	var mu sync.Mutex
	var found []forum.ThreadID
	records := o.discovery.FetchAll(ctx, t.Stopping, keys, func(ctx context.Context, key string) forum.Record {
		page, _ := strconv.Atoi(key)
		pageURL := forum.SectionPageURL(o.cfg.BaseURL, sec, page)
		started := o.clock.Now()
		rec := forum.Record{SectionID: sec.ID(), URL: pageURL, CrawledAt: started}
		resp, err := o.fetcher.Fetch(ctx, fetch.Request{URL: pageURL})
		if err != nil {
			rec.Message = err.Error()
			o.logger.Warn("listing page fetch failed",
				zap.String("section", sec.ID()),
				zap.Int("page", page),
				zap.Error(err))
			return rec
		}
		ids := forum.ExtractThreadIDs(string(resp.Body))
		mu.Lock()
		found = append(found, ids...)
		mu.Unlock()
		rec.Success = true
		rec.Message = fmt.Sprintf("%d thread ids", len(ids))
		o.events.Emit(progress.Event{
			TaskID:  t.ID(),
			TS:      o.clock.Now(),
			Stage:   progress.StagePageDone,
			Mode:    string(t.Mode()),
			Section: sec.ID(),
			Threads: int64(len(ids)),
			Message: fmt.Sprintf("page %d", page),
			Dur:     o.clock.Now().Sub(started),
		})
		return rec
	})

	if t.Stopping() {
		return disc, errStopped
	}
	if err := ctx.Err(); err != nil {
		return disc, err
	}

	disc.pages = len(records)
	for _, rec := range records {
		if rec.Success {
			disc.pagesOK++
		}
	}
	if disc.pagesOK == 0 {
		return disc, fmt.Errorf("all %d listing pages failed", disc.pages)
	}

	disc.discovered = len(found)
	merged, added := unionIDs(st.KnownIDs, found)
	disc.added = added
	st.KnownIDs = merged
	st.LastPage = effEnd
	if err := o.state.PutSectionState(ctx, sec.ID(), st); err != nil {
		return disc, fmt.Errorf("persist section state: %w", err)
	}
	disc.state = st
	return disc, nil
}

// fetchPlanned fetches every planned thread section by section, reporting
// progress in the 50-100 band scaled over the combined total. It returns the
// completed records plus each section's watermark candidate, the largest
// thread ID whose page fetch succeeded.
func (o *Orchestrator) fetchPlanned(ctx context.Context, t *task.Task, plan []sectionPlan, total int) ([]forum.Record, map[string]forum.Watermark, error) {
	var all []forum.Record
	marks := make(map[string]forum.Watermark, len(plan))
	var done atomic.Int64
	for _, p := range plan {
		if t.Stopping() {
			return nil, nil, errStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		sec := p.sec
		keys := make([]string, len(p.ids))
		for i, id := range p.ids {
			keys[i] = string(id)
		}
		records := o.threads.FetchAll(ctx, t.Stopping, keys, func(ctx context.Context, key string) forum.Record {
			rec := o.fetchThread(ctx, t, sec, forum.ThreadID(key))
			n := done.Add(1)
			o.setProgress(t, 50+int(n*50/int64(total)), fmt.Sprintf("fetched %d/%d threads", n, total))
			return rec
		})
		if t.Stopping() {
			return nil, nil, errStopped
		}
		for _, rec := range records {
			if IsCancelled(rec) {
				continue
			}
			all = append(all, rec)
			if rec.Success && forum.Compare(rec.ThreadID, marks[sec.ID()]) > 0 {
				marks[sec.ID()] = rec.ThreadID
			}
		}
	}
	return all, marks, nil
}

// fetchThread fetches one thread page and extracts its magnets. Fetch errors
// come back inside the record so one bad thread never aborts the pool; a
// fetched page with no magnets still counts as a success so its ID can pass
// the watermark and is not refetched forever.
func (o *Orchestrator) fetchThread(ctx context.Context, t *task.Task, sec forum.Section, tid forum.ThreadID) forum.Record {
	started := o.clock.Now()
	rec := forum.Record{
		SectionID: sec.ID(),
		ThreadID:  tid,
		URL:       forum.ThreadURL(o.cfg.BaseURL, tid),
		CrawledAt: started,
	}
	resp, err := o.fetcher.Fetch(ctx, fetch.Request{URL: rec.URL})
	if err != nil {
		rec.Message = err.Error()
		o.logger.Warn("thread fetch failed",
			zap.String("section", sec.ID()),
			zap.String("tid", string(tid)),
			zap.Error(err))
		o.emitThread(t, sec.ID(), 0, 1, o.clock.Now().Sub(started))
		return rec
	}

	body := string(resp.Body)
	rec.Title = forum.ExtractTitle(body)
	if rec.Title == "" {
		rec.Title = "TID_" + string(tid)
	}
	rec.Magnets = forum.ExtractMagnets(body)
	rec.Success = true
	if len(rec.Magnets) == 0 {
		rec.Message = "no magnets found"
	} else {
		rec.Message = fmt.Sprintf("%d magnets", len(rec.Magnets))
	}
	o.emitThread(t, sec.ID(), int64(len(rec.Magnets)), 0, o.clock.Now().Sub(started))
	return rec
}

func (o *Orchestrator) emitThread(t *task.Task, sectionID string, magnets, failed int64, dur time.Duration) {
	o.events.Emit(progress.Event{
		TaskID:  t.ID(),
		TS:      o.clock.Now(),
		Stage:   progress.StageThreadDone,
		Mode:    string(t.Mode()),
		Section: sectionID,
		Threads: 1,
		Magnets: magnets,
		Failed:  failed,
		Dur:     dur,
	})
}

// finishRun submits the fetched magnets, writes the run artifact and advances
// the per-section watermarks. Reached only after fetching completed without a
// stop; a submission abort or sink error fails the run before any watermark
// moves.
func (o *Orchestrator) finishRun(ctx context.Context, t *task.Task, res task.Result, records []forum.Record, marks map[string]forum.Watermark) (task.Result, error) {
	res.Threads = int64(len(records))
	var magnets []string
	for _, rec := range records {
		res.Magnets += int64(len(rec.Magnets))
		if !rec.Success {
			res.Failed++
			continue
		}
		magnets = append(magnets, rec.Magnets...)
	}

	if t.Stopping() {
		return res, errStopped
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if o.submitter != nil && len(magnets) > 0 {
		o.setProgress(t, 100, fmt.Sprintf("submitting %d magnets", len(magnets)))
		start := o.clock.Now()
		outcome, err := o.submitter.Submit(ctx, magnets)
		res.Submitted = int64(outcome.Succeeded)
		res.Duplicates = int64(outcome.Duplicates)
		res.Failed += int64(outcome.Failed)
		o.events.Emit(progress.Event{
			TaskID:  t.ID(),
			TS:      o.clock.Now(),
			Stage:   progress.StageSubmitDone,
			Mode:    string(t.Mode()),
			Magnets: int64(outcome.Succeeded),
			Failed:  int64(outcome.Failed),
			Message: fmt.Sprintf("submitted %d of %d", outcome.Succeeded, outcome.Total),
			Dur:     o.clock.Now().Sub(start),
		})
		if err != nil {
			return res, fmt.Errorf("submission aborted: %w", err)
		}
	}

	if o.results != nil && len(records) > 0 {
		if t.Stopping() {
			return res, errStopped
		}
		artifact, err := o.results.WriteRun(ctx, string(t.Mode()), records)
		if err != nil {
			return res, fmt.Errorf("write run results: %w", err)
		}
		res.ResultFile = artifact.Path
		res.ArchiveRef = artifact.ArchiveURI
	}

	if err := o.persistWatermarks(ctx, marks); err != nil {
		return res, err
	}
	return res, nil
}

// persistWatermarks advances each section's watermark to its candidate. Runs
// only at the end of a successful pass; candidates at or below the stored
// watermark are ignored so it never regresses.
func (o *Orchestrator) persistWatermarks(ctx context.Context, marks map[string]forum.Watermark) error {
	for sectionID, mark := range marks {
		if mark.IsZero() {
			continue
		}
		st, err := o.state.SectionState(ctx, sectionID)
		if err != nil {
			return fmt.Errorf("load state for %s: %w", sectionID, err)
		}
		if forum.Compare(mark, st.Watermark) <= 0 {
			continue
		}
		st.Watermark = mark
		if err := o.state.PutSectionState(ctx, sectionID, st); err != nil {
			return fmt.Errorf("persist watermark for %s: %w", sectionID, err)
		}
		o.logger.Info("watermark advanced",
			zap.String("section", sectionID),
			zap.String("watermark", string(mark)))
	}
	return nil
}

func enabledSections(sections []forum.Section) []forum.Section {
	var out []forum.Section
	for _, s := range sections {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// unionIDs merges newly discovered IDs into the known set, returning the
// merged set sorted descending plus the count of genuinely new IDs.
func unionIDs(known, found []forum.ThreadID) ([]forum.ThreadID, int) {
	seen := make(map[forum.ThreadID]struct{}, len(known)+len(found))
	merged := make([]forum.ThreadID, 0, len(known)+len(found))
	for _, id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	added := 0
	for _, id := range found {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
		added++
	}
	forum.SortDescending(merged)
	return merged, added
}
