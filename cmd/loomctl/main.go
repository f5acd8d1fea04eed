// Command loomctl is the operator CLI for a running loomd instance: health
// checks, monitor check-in pings, and read-only inspection of the query
// bridge's recent trace history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaultAddr := getenv("LOOM_ADDR", "http://localhost:8080")
	defaultToken := os.Getenv("LOOM_ADMIN_TOKEN")

	root := flag.NewFlagSet("loomctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	addrFlag := root.String("addr", defaultAddr, "loomd base URL (env LOOM_ADDR, default http://localhost:8080)")
	tokenFlag := root.String("token", defaultToken, "operator user id sent as the X-User-ID header (env LOOM_ADMIN_TOKEN)")
	roleFlag := root.String("role", getenv("LOOM_ADMIN_ROLE", "admin"), "operator role presented to admin routes")
	timeoutFlag := root.Duration("timeout", 15*time.Second, "HTTP request timeout")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	httpClient := &http.Client{Timeout: *timeoutFlag}
	client := &apiClient{
		baseURL: strings.TrimRight(*addrFlag, "/"),
		userID:  strings.TrimSpace(*tokenFlag),
		role:    strings.TrimSpace(*roleFlag),
		http:    httpClient,
	}

	switch remaining[0] {
	case "health":
		return handleHealth(ctx, client)
	case "ping":
		return handlePing(ctx, client, remaining[1:])
	case "traces":
		return handleTraces(ctx, client, remaining[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`loomctl: Loom operator CLI

Usage:
  loomctl [global flags] <command> [subcommand] [flags]

Global Flags:
  --addr     loomd base URL (env LOOM_ADDR, default http://localhost:8080)
  --token    operator user id sent to admin routes (env LOOM_ADMIN_TOKEN)
  --role     operator role sent to admin routes (env LOOM_ADMIN_ROLE, default admin)
  --timeout  HTTP timeout (default 15s)

Commands:
  health              Check loomd's liveness (GET /health)
  ping <ping_key>      Record a monitor check-in (POST /ping/:ping_key)
  traces list          List recent query-bridge traces
  traces stats         Summarize recent query-bridge traces`)
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
