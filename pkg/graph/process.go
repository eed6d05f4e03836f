package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hansard-kg/engine/internal/timing"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// RunOptions control a single extraction run.
type RunOptions struct {
	// RunID is stamped on every edge. A new one is generated when empty.
	RunID  string
	Budget timing.Budget
	// Debug retains every window through the failure sink, not only failed ones.
	Debug bool
}

// ExtractLockKey is the lease key guarding extraction of one sitting.
func ExtractLockKey(videoID string) string {
	return "kg_extract:" + videoID
}

// ProcessVideo extracts the sitting videoID into the graph. Concept windows
// run first, then discourse windows, strictly in order.
//
// Provider failures and windows that never validate are counted and
// skipped. A *StoreError aborts the run and is returned together with the
// stats gathered so far. The budget and ctx are only checked between
// windows; a window that has started is applied completely or not at all.
func (g *GraphClient) ProcessVideo(ctx context.Context, videoID string, opts RunOptions) (RunStats, error) {
	if opts.RunID == "" {
		opts.RunID = util.NewRunID()
	}
	stats := RunStats{RunID: opts.RunID, VideoID: videoID}

	run := func(ctx context.Context) error {
		var err error
		stats, err = g.processVideo(ctx, videoID, opts)
		return err
	}
	if g.locker == nil {
		err := run(ctx)
		return stats, err
	}
	err := g.locker.WithLease(ctx, ExtractLockKey(videoID), run)
	return stats, err
}

func (g *GraphClient) processVideo(ctx context.Context, videoID string, opts RunOptions) (stats RunStats, err error) {
	stats = RunStats{RunID: opts.RunID, VideoID: videoID}
	tracker := timing.NewTracker(opts.Budget)
	defer func() { stats.Elapsed = tracker.Elapsed() }()

	var utterances []common.Utterance
	utterances, err = util.RetryWithPolicy(ctx, g.storeRetry, func(ctx context.Context) ([]common.Utterance, error) {
		return g.store.GetUtterances(ctx, videoID)
	})
	if err != nil {
		return stats, storeErr("get utterances", err)
	}
	total := len(utterances)
	if g.filterShort {
		utterances = FilterShortUtterances(utterances, g.minUtterance)
	}
	log := logger.With("video_id", videoID, "run_id", opts.RunID)
	log.Info("[Graph] Processing video", "utterances", len(utterances), "filtered", total-len(utterances))
	if len(utterances) == 0 {
		return stats, nil
	}

	meta := DeltaMeta{RunID: opts.RunID, ExtractorModel: g.extractor.ModelName()}
	for _, windows := range g.windowSets(utterances) {
		for w := range windows {
			if ok, reason := tracker.Allow(ctx); !ok {
				stats.StopReason = reason
				stats.StoppedByBudget = reason != timing.StopCancelled
				log.Info("[Graph] Stopping run", "reason", reason, "windows", tracker.Used())
				return stats, nil
			}
			err = g.processWindow(context.WithoutCancel(ctx), w, meta, opts, &stats)
			tracker.Consume()
			if err != nil {
				return stats, err
			}
		}
	}

	log.Info("[Graph] Finished video",
		"windows", stats.WindowsProcessed,
		"failed", stats.WindowsFailed,
		"nodes_new", stats.NodesNew,
		"edges_new", stats.EdgesNew,
		"link_rate", fmt.Sprintf("%.2f", stats.LinkRate()),
	)
	return stats, nil
}

func (g *GraphClient) windowSets(utterances []common.Utterance) []iter.Seq[common.Window] {
	sets := []iter.Seq[common.Window]{ConceptWindows(utterances, g.windowSize, g.stride)}
	if g.discourse {
		sets = append(sets, DiscourseWindows(utterances, g.contextSize))
	}
	return sets
}

// processWindow runs one window end to end. Only store failures are
// returned; everything else is folded into stats.
func (g *GraphClient) processWindow(ctx context.Context, w common.Window, meta DeltaMeta, opts RunOptions, stats *RunStats) error {
	start := time.Now()

	candidates, err := g.candidates.Retrieve(ctx, w)
	if err != nil {
		return g.windowError(ctx, w, Result{Window: w.Index}, err, opts, stats, false)
	}

	res, scope, err := g.extractor.Extract(ctx, w, candidates)
	if err != nil {
		return g.windowError(ctx, w, res, err, opts, stats, false)
	}
	stats.recordResult(res)
	if !res.OK() {
		logger.Warn("[Extract] Window failed", "video_id", w.VideoID, "window", w.Index, "kind", w.Kind, "outcome", res.Kind, "issues", len(res.Issues))
		g.saveFailure(ctx, newFailureRecord(meta.RunID, w, res, nil))
		return nil
	}

	delta, ds, err := g.canonicalizer.Canonicalize(ctx, scope, res.Delta, meta)
	if err != nil {
		return g.windowError(ctx, w, res, err, opts, stats, true)
	}

	ar, err := util.RetryWithPolicy(ctx, g.storeRetry, func(ctx context.Context) (common.ApplyResult, error) {
		return g.store.ApplyDelta(ctx, delta)
	})
	if err != nil {
		return storeErr("apply delta", err)
	}
	stats.recordDelta(ds, ar)

	logger.Debug("[Graph] Applied window",
		"video_id", w.VideoID,
		"window", w.Index,
		"kind", w.Kind,
		"branch", res.Branch,
		"nodes", ar.NodesInserted,
		"edges", ar.EdgesInserted,
		"duplicates", ar.EdgesDuplicate,
		"took", time.Since(start).Round(time.Millisecond),
	)
	if opts.Debug {
		g.saveFailure(ctx, newFailureRecord(meta.RunID, w, res, nil))
	}
	return nil
}

// windowError classifies a window level error. Store errors abort the run.
// Anything else fails the window. counted is set when the window was
// already recorded as a success.
func (g *GraphClient) windowError(ctx context.Context, w common.Window, res Result, err error, opts RunOptions, stats *RunStats, counted bool) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if counted {
		stats.WindowsSucceeded--
		stats.WindowsProcessed--
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		stats.recordProviderFailure()
	} else {
		stats.WindowsProcessed++
		stats.WindowsFailed++
	}
	logger.Warn("[Graph] Window failed", "video_id", w.VideoID, "window", w.Index, "kind", w.Kind, "err", err)
	g.saveFailure(ctx, newFailureRecord(opts.RunID, w, res, err))
	return nil
}

func (g *GraphClient) saveFailure(ctx context.Context, rec FailureRecord) {
	if g.failures == nil {
		return
	}
	if err := g.failures.SaveFailure(ctx, rec); err != nil {
		logger.Warn("[Graph] Could not save window record", "key", rec.Key(), "err", err)
	}
}

// ProcessVideos runs ProcessVideo for every video, at most ParallelVideos at
// a time. The returned stats add up all finished runs. The first store
// error cancels the remaining videos and is returned.
func (g *GraphClient) ProcessVideos(ctx context.Context, videoIDs []string, opts RunOptions) (RunStats, error) {
	if opts.RunID == "" {
		opts.RunID = util.NewRunID()
	}
	total := RunStats{RunID: opts.RunID}
	var mu sync.Mutex
	progress := util.NewProgress(len(videoIDs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelVideos)
	for _, videoID := range videoIDs {
		eg.Go(func() error {
			stats, err := g.ProcessVideo(egCtx, videoID, opts)

			mu.Lock()
			total.Add(stats)
			progress.Step()
			logger.Info("[Graph] Progress", "video_id", videoID, "progress", progress.String(), "eta", util.FormatDuration(progress.Remaining()))
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("video %s: %w", videoID, err)
			}
			return nil
		})
	}
	err := eg.Wait()
	return total, err
}
