package main

import (
	"context"
	"net/http"
)

func handleHealth(ctx context.Context, client *apiClient) error {
	data, err := client.request(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}
