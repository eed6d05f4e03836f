package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hansard-kg/engine/internal/queue"
	"github.com/hansard-kg/engine/internal/storage"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/mirror"
	pgstore "github.com/hansard-kg/engine/pkg/store/pgx"

	flag "github.com/spf13/pflag"
)

func runSync(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	video := fs.String("video", "", "Only mirror edges of this sitting")
	runID := fs.String("run", "", "Only mirror edges written by this run")
	skipNodes := fs.Bool("skip-nodes", false, "Do not mirror nodes")
	skipEdges := fs.Bool("skip-edges", false, "Do not mirror edges")
	enqueue := fs.Bool("enqueue", false, "Publish the job to sync_queue instead of running it")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if *video != "" && *runID != "" {
		fmt.Fprintf(os.Stderr, "Error: --video and --run are mutually exclusive\n")
		return ExitUsage
	}
	opts := mirror.Options{
		VideoID:   *video,
		RunID:     *runID,
		SkipNodes: *skipNodes,
		SkipEdges: *skipEdges,
	}
	if *enqueue {
		return publishJob(queue.SyncQueue, queue.SyncJobMsg{Options: opts})
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()

	syncer, closeSyncer, err := clients.NewSyncer(ctx)
	if err != nil {
		logger.Error("Could not connect graph mirror", "err", err)
		return ExitConfig
	}
	defer closeSyncer()
	if syncer == nil {
		fmt.Fprintf(os.Stderr, "Error: NEO4J_URI is not set\n")
		return ExitConfig
	}

	stats, err := syncer.Sync(ctx, opts)
	fmt.Printf("mirrored %d nodes, %d edges\n", stats.Nodes, stats.Edges)
	if err != nil {
		logger.Error("Sync failed", "err", err)
		return ExitRun
	}
	return ExitOK
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Bool("down", false, "Roll back every migration")
	version := fs.Bool("version", false, "Print the applied schema version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	dsn := util.GetEnv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintf(os.Stderr, "Error: DATABASE_URL is not set\n")
		return ExitConfig
	}

	switch {
	case *version:
		v, dirty, err := pgstore.MigrationVersion(dsn)
		if err != nil {
			logger.Error("Could not read schema version", "err", err)
			return ExitDatabase
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
	case *down:
		if err := pgstore.MigrateDown(dsn); err != nil {
			logger.Error("Migration rollback failed", "err", err)
			return ExitDatabase
		}
		fmt.Println("schema rolled back")
	default:
		if err := pgstore.Migrate(dsn); err != nil {
			logger.Error("Migration failed", "err", err)
			return ExitDatabase
		}
		fmt.Println("schema up to date")
	}
	return ExitOK
}

func runFailures(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("failures", flag.ContinueOnError)
	runID := fs.String("run", "", "Restrict to one run")
	show := fs.String("show", "", "Print the record stored under this key")
	del := fs.Bool("delete", false, "Delete every record of --run")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kg failures [--run ID] [--show KEY | --delete]

Description:
  Inspects failure records kept in AWS_BUCKET. Records written to a local
  --failure-dir are plain JSON files and need no tooling.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		fmt.Fprintf(os.Stderr, "Error: AWS_BUCKET is not set\n")
		return ExitConfig
	}
	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Error("Could not create S3 client", "err", err)
		return ExitConfig
	}
	fstore, err := storage.NewFailureStore(client, bucket)
	if err != nil {
		logger.Error("Could not create failure store", "err", err)
		return ExitConfig
	}

	switch {
	case *show != "":
		rec, err := fstore.GetFailure(ctx, *show)
		if err != nil {
			logger.Error("Could not read failure record", "key", *show, "err", err)
			return ExitRun
		}
		_ = printJSON(rec)
	case *del:
		if *runID == "" {
			fmt.Fprintf(os.Stderr, "Error: --delete requires --run\n")
			return ExitUsage
		}
		n, err := fstore.DeleteRun(ctx, *runID)
		fmt.Printf("deleted %d records\n", n)
		if err != nil {
			logger.Error("Could not delete failure records", "run_id", *runID, "err", err)
			return ExitRun
		}
	default:
		keys, err := fstore.ListFailures(ctx, *runID)
		if err != nil {
			logger.Error("Could not list failure records", "err", err)
			return ExitRun
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	}
	return ExitOK
}
