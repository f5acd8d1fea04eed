package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

func handleTraces(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  loomctl traces list [--session <id>] [--min-duration-ms <n>]
  loomctl traces stats`)
		return nil
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("traces list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		var sessionID string
		var minDurationMs int64
		fs.StringVar(&sessionID, "session", "", "filter by session id")
		fs.Int64Var(&minDurationMs, "min-duration-ms", 0, "only include traces at or above this duration")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		params := url.Values{}
		if sessionID != "" {
			params.Set("session_id", sessionID)
		}
		if minDurationMs > 0 {
			params.Set("min_duration_ms", fmt.Sprintf("%d", minDurationMs))
		}
		path := "/admin/queries/traces"
		if len(params) > 0 {
			path += "?" + params.Encode()
		}
		data, err := client.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	case "stats":
		data, err := client.request(ctx, http.MethodGet, "/admin/queries/traces/stats", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
	default:
		fmt.Println(`Usage:
  loomctl traces list [--session <id>] [--min-duration-ms <n>]
  loomctl traces stats`)
		return fmt.Errorf("unknown traces subcommand %q", args[0])
	}
	return nil
}
