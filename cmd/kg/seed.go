package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hansard-kg/engine/internal/app"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"

	flag "github.com/spf13/pflag"
)

// newGraphClient builds a graph client for the maintenance commands.
func newGraphClient(clients *app.Clients) (*graph.GraphClient, int) {
	gc, err := graph.NewGraphClient(clients.GraphParams())
	if err != nil {
		logger.Error("Could not create graph client", "err", err)
		return nil, ExitConfig
	}
	return gc, ExitOK
}

func runSeed(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	speakers := fs.Bool("speakers", false, "Seed a node for every row of the speakers table")
	file := fs.String("file", "", "YAML seed file")
	sitting := fs.String("sitting", "", "Attach the file's nodes to this sitting (overrides the file)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kg seed [--speakers] [--file seeds.yaml [--sitting ID]]

Seed file format:
  sitting: Syc7hdV8QvE
  nodes:
    - type: schema:Organization
      label: Barbados Water Authority
      aliases: [BWA]

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
	if !*speakers && *file == "" {
		fmt.Fprintf(os.Stderr, "Error: nothing to seed, pass --speakers and/or --file\n")
		return ExitUsage
	}

	var seedFile graph.SeedFile
	if *file != "" {
		f, err := graph.LoadSeedFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitUsage
		}
		if *sitting != "" {
			f.Sitting = *sitting
		}
		seedFile = f
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()
	gc, code := newGraphClient(clients)
	if code != ExitOK {
		return code
	}

	if *speakers {
		res, err := gc.SeedSpeakers(ctx)
		if err != nil {
			logger.Error("Seeding speakers failed", "err", err)
			return ExitDatabase
		}
		fmt.Printf("speakers: %d nodes new, %d merged, %d aliases\n", res.NodesInserted, res.NodesMerged, res.AliasesInserted)
	}
	if *file != "" {
		res, err := gc.SeedNodes(ctx, seedFile)
		if err != nil {
			logger.Error("Seeding nodes failed", "file", *file, "err", err)
			return ExitDatabase
		}
		fmt.Printf("%s: %d nodes new, %d merged, %d aliases\n", *file, res.NodesInserted, res.NodesMerged, res.AliasesInserted)
	}
	return ExitOK
}

func runEmbed(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	batch := fs.Int("batch-size", graph.DefaultEmbedBatchSize, "Nodes per embedding request")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()
	gc, code := newGraphClient(clients)
	if code != ExitOK {
		return code
	}

	n, err := gc.EmbedMissing(ctx, *batch)
	fmt.Printf("embedded %d nodes\n", n)
	if err != nil {
		logger.Error("Embedding backfill failed", "err", err)
		return ExitRun
	}
	app.LogAIMetrics(clients.AI)
	return ExitOK
}

func runClear(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	confirm := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	if !*confirm {
		fmt.Fprint(os.Stderr, "This deletes every node, alias and edge of the graph. Type 'yes' to continue: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return ExitUsage
		}
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()
	gc, code := newGraphClient(clients)
	if code != ExitOK {
		return code
	}

	res, err := gc.Clear(ctx)
	if err != nil {
		logger.Error("Clear failed", "err", err)
		return ExitDatabase
	}
	fmt.Printf("deleted %d edges, %d aliases, %d nodes, %d sitting seeds\n", res.Edges, res.Aliases, res.Nodes, res.SittingSeeds)
	return ExitOK
}
