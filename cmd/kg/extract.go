package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hansard-kg/engine/internal/app"
	"github.com/hansard-kg/engine/internal/queue"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"

	flag "github.com/spf13/pflag"
)

func runExtract(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	videos := fs.StringSlice("video", nil, "Sitting (YouTube video) id, repeatable; all sittings when omitted")
	windowSize := fs.Int("window-size", util.GetEnvInt("KG_WINDOW_SIZE", graph.DefaultWindowSize), "Utterances per concept window")
	stride := fs.Int("stride", util.GetEnvInt("KG_STRIDE", graph.DefaultStride), "Concept window stride")
	contextSize := fs.Int("context-size", util.GetEnvInt("KG_CONTEXT_SIZE", graph.DefaultContextSize), "Context utterances before each window")
	topK := fs.Int("top-k", util.GetEnvInt("KG_TOP_K", graph.DefaultTopK), "Vector candidates per window")
	parallel := fs.Int("parallel", util.GetEnvInt("KG_PARALLEL_VIDEOS", 1), "Sittings processed concurrently")
	budget := app.Budget()
	maxWindows := fs.Int("max-windows", budget.MaxWindows, "Stop each sitting after this many windows (0 = unlimited)")
	maxDuration := fs.Duration("max-duration", budget.MaxDuration, "Stop each sitting after this long (0 = unlimited)")
	runID := fs.String("run-id", "", "Run id (generated when empty)")
	noFilterShort := fs.Bool("no-filter-short", !util.GetEnvBool("KG_FILTER_SHORT", true), "Keep very short utterances")
	noDiscourse := fs.Bool("no-discourse", false, "Skip discourse windows")
	debug := fs.Bool("debug", false, "Retain prompts and raw responses of every window")
	failureDir := fs.String("failure-dir", "", "Directory for failure records when no bucket is configured")
	asJSON := fs.Bool("json", false, "Print run stats as JSON")
	enqueue := fs.Bool("enqueue", false, "Publish the job to extract_queue instead of running it")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kg extract [options]

Description:
  Slides concept and discourse windows over each sitting transcript, asks the
  model for a graph delta per window and writes the canonicalized result.
  Re-running a sitting is idempotent.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  kg extract --video Syc7hdV8QvE --max-windows 20
  kg extract --parallel 4 --debug --failure-dir ./failures
  kg extract --video Syc7hdV8QvE --enqueue

`)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	if *enqueue {
		msg := queue.ExtractJobMsg{
			VideoIDs:   *videos,
			RunID:      *runID,
			MaxWindows: *maxWindows,
			Debug:      *debug,
		}
		if *maxDuration > 0 {
			msg.MaxDuration = maxDuration.String()
		}
		return publishJob(queue.ExtractQueue, msg)
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()

	failures, err := app.NewFailureSink(ctx, *failureDir)
	if err != nil {
		logger.Error("Could not create failure sink", "err", err)
		return ExitConfig
	}

	params := clients.GraphParams()
	params.WindowSize = *windowSize
	params.Stride = *stride
	params.ContextSize = *contextSize
	params.TopK = *topK
	params.ParallelVideos = *parallel
	params.FilterShort = !*noFilterShort
	params.SkipDiscourse = *noDiscourse
	params.Locker = clients.NewLocker()
	params.Failures = failures

	gc, err := graph.NewGraphClient(params)
	if err != nil {
		logger.Error("Could not create graph client", "err", err)
		return ExitConfig
	}

	ids := *videos
	if len(ids) == 0 {
		ids, err = clients.Store.ListVideos(ctx)
		if err != nil {
			logger.Error("Could not list sittings", "err", err)
			return ExitDatabase
		}
	}
	if len(ids) == 0 {
		logger.Warn("No sittings with transcript rows")
		return ExitOK
	}

	opts := graph.RunOptions{RunID: *runID, Debug: *debug}
	opts.Budget.MaxWindows = *maxWindows
	opts.Budget.MaxDuration = *maxDuration

	stats, runErr := gc.ProcessVideos(ctx, ids, opts)
	app.LogAIMetrics(clients.AI)

	if *asJSON {
		_ = printJSON(stats)
	} else {
		fmt.Printf("run %s: %d windows (%d ok, %d failed, %d repaired), nodes +%d ~%d, edges +%d =%d, link rate %.2f, %s\n",
			stats.RunID,
			stats.WindowsProcessed, stats.WindowsSucceeded, stats.WindowsFailed, stats.WindowsRepaired,
			stats.NodesNew, stats.NodesMerged, stats.EdgesNew, stats.EdgesDuplicate,
			stats.LinkRate(), util.FormatDuration(stats.Elapsed))
		if stats.StoppedByBudget {
			fmt.Printf("stopped by budget: %s\n", stats.StopReason)
		}
	}
	if runErr != nil {
		logger.Error("Extraction failed", "run_id", stats.RunID, "err", runErr)
		return ExitRun
	}
	return ExitOK
}
