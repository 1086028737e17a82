package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/dispatch"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "dispatch":
		runDispatch(args)
	case "sweep":
		runSweep(args)
	case "version":
		fmt.Println("costopt " + version)
	default:
		fmt.Fprintf(os.Stderr, "Usage: costopt [serve|dispatch|sweep|version]\n")
		os.Exit(2)
	}
}

// runServe starts the MCP stdio server with the retention sweeper running in
// the background. This is the default command.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, loadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.sweeper.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = a.sweeper.Stop() }()

	a.logger.Info("costopt serving MCP on stdio")
	if err := a.server.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runDispatch initializes a session and runs the analysis pipeline through
// the invoker against the in-process runtime, blocking until it finishes.
func runDispatch(args []string) {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	sessionID := fs.String("session", "", "session id (generated if empty)")
	prompt := fs.String("prompt", "", "user prompt for the analysis")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}
	if *prompt == "" {
		*prompt = dispatch.DefaultPrompt
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, loadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx = logging.WithSessionID(ctx, *sessionID)
	if err := a.dispatcher.InitializeSession(ctx, *sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := a.invoker.InvokeAgent(ctx, *sessionID, *prompt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]string{
		"session_id": *sessionID,
		"status":     "completed",
	}, "", "  ")
	fmt.Println(string(out))
}

// runSweep runs one retention purge and one stale-session reconciliation.
func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, loadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.sweeper.RunPurge(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: purge: %v\n", err)
		os.Exit(1)
	}
	if err := a.sweeper.RunReconcile(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: reconcile: %v\n", err)
		os.Exit(1)
	}
}
