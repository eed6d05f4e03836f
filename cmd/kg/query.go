package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/query"

	flag "github.com/spf13/pflag"
)

func runQuery(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	d := query.DefaultParams()
	seedK := fs.Int("seed-k", d.SeedK, "Seed nodes")
	hops := fs.Int("hops", d.Hops, "Expansion hops")
	maxEdges := fs.Int("max-edges", d.MaxEdges, "Edge cap over all hops")
	maxCitations := fs.Int("max-citations", d.MaxCitations, "Cited utterances")
	alpha := fs.Float64("alpha", util.GetEnvFloat("KG_QUERY_ALPHA", d.Alpha), "Weight of the seed similarity against edge confidence")
	trace := fs.Bool("trace", false, "Print the ids touched at every stage to stderr")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kg query "<question>" [options]

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
	q := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if q == "" {
		fmt.Fprintf(os.Stderr, "Error: question argument required\n")
		return ExitUsage
	}

	clients, code := wire(ctx)
	if code != ExitOK {
		return code
	}
	defer clients.Close()

	retriever, err := clients.NewRetriever()
	if err != nil {
		logger.Error("Could not create retriever", "err", err)
		return ExitConfig
	}

	p := query.Params{SeedK: *seedK, Hops: *hops, MaxEdges: *maxEdges, MaxCitations: *maxCitations, Alpha: *alpha}
	var opts []query.RetrieveOption
	tr := query.NewQueryTrace()
	if *trace {
		opts = append(opts, query.WithTracer(tr))
	}

	res, err := retriever.Retrieve(ctx, q, p, opts...)
	if err != nil {
		logger.Error("Query failed", "err", err)
		return ExitDatabase
	}
	if *trace {
		snap := tr.Snapshot()
		fmt.Fprintf(os.Stderr, "seeds=%v\nexpanded=%v\nedges=%v\ncited=%v\nmax_hop=%d\n",
			snap.SeedNodeIDs, snap.ExpandedNodeIDs, snap.EdgeIDs, snap.CitedUtteranceIDs, snap.MaxHop)
		for src, msg := range snap.FailedSeedSources {
			fmt.Fprintf(os.Stderr, "seed source %s failed: %s\n", src, msg)
		}
	}

	if *asJSON {
		if err := printJSON(res); err != nil {
			return ExitRun
		}
		return ExitOK
	}
	printResult(res)
	return ExitOK
}

func printResult(res query.Result) {
	if len(res.Edges) == 0 {
		fmt.Printf("No graph evidence for %q (%s)\n", res.Query, res.Debug.Reason)
		return
	}
	labels := make(map[string]string, len(res.Nodes))
	for _, n := range res.Nodes {
		labels[n.ID] = n.Label
	}
	fmt.Println("Seeds:")
	for _, s := range res.Seeds {
		fmt.Printf("  %-40s %.3f %s\n", s.Label, s.Score, s.MatchReason)
	}
	fmt.Println("Edges:")
	for _, e := range res.Edges {
		fmt.Printf("  [%.3f] %s -%s-> %s\n", e.Score, labels[e.SourceID], e.Predicate, labels[e.TargetID])
	}
	fmt.Println("Citations:")
	for _, c := range res.Citations {
		fmt.Printf("  %s %s: %s\n    %s\n", c.TimestampStr, c.SpeakerName, c.Text, c.URL)
	}
}
