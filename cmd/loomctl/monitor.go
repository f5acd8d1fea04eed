package main

import (
	"context"
	"errors"
	"net/http"
)

func handlePing(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: loomctl ping <ping_key>")
	}
	pingKey := args[0]
	data, err := client.request(ctx, http.MethodPost, "/ping/"+pingKey, nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}
