// Command kg builds and queries the transcript knowledge graph.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hansard-kg/engine/internal/app"
	"github.com/hansard-kg/engine/internal/queue"
	"github.com/hansard-kg/engine/pkg/logger"
)

const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitConfig   = 2
	ExitDatabase = 3
	ExitRun      = 4
)

const usage = `Usage: kg <command> [options]

Commands:
  extract    Extract graph deltas from sitting transcripts
  query      Answer a question from the graph with citations
  seed       Seed speaker nodes and nodes from a YAML file
  embed      Fill missing node embeddings
  clear      Delete every node, alias and edge
  sync       Mirror the graph into Neo4j or Memgraph
  migrate    Apply or roll back the database schema
  failures   List or delete retained failure records

Run 'kg <command> --help' for command options.
`

func main() {
	app.InitLogger("kg")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "extract":
		code = runExtract(ctx, args)
	case "query":
		code = runQuery(ctx, args)
	case "seed":
		code = runSeed(ctx, args)
	case "embed":
		code = runEmbed(ctx, args)
	case "clear":
		code = runClear(ctx, args)
	case "sync":
		code = runSync(ctx, args)
	case "migrate":
		code = runMigrate(args)
	case "failures":
		code = runFailures(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n%s", cmd, usage)
		code = ExitUsage
	}
	stop()
	os.Exit(code)
}

// wire connects the shared clients or reports why it could not.
func wire(ctx context.Context) (*app.Clients, int) {
	clients, err := app.WireClients(ctx)
	if err != nil {
		logger.Error("Could not wire clients", "err", err)
		return nil, ExitConfig
	}
	return clients, ExitOK
}

// publishJob hands a job to the workers.
func publishJob(queueName string, msg any) int {
	conn, err := queue.Init(queue.URLFromEnv())
	if err != nil {
		logger.Error("Could not connect to RabbitMQ", "err", err)
		return ExitConfig
	}
	defer conn.Close()
	if err := queue.Enqueue(conn, queueName, msg); err != nil {
		logger.Error("Could not publish job", "queue", queueName, "err", err)
		return ExitRun
	}
	fmt.Printf("queued job on %s\n", queueName)
	return ExitOK
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
