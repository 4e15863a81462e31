package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"VaultKeeper-Claude/sdk/go/vaultkeeper"
)

func main() {
	baseURL := os.Getenv("VAULTKEEPER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	client := vaultkeeper.NewClient(baseURL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("gateway %s (claude api %s, up %s)\n", health.Status, health.ClaudeAPI, health.Uptime)

	result, err := client.Collaborate(ctx, vaultkeeper.TaskRequest{
		TaskType: vaultkeeper.String("prior_art_search"),
		Content: map[string]any{
			"invention": "liquid-cooled battery enclosure",
			"claims":    []string{"thermal interface", "modular housing"},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "collaborate: %v\n", err)
		os.Exit(1)
	}
	if !result.Completed() {
		fmt.Fprintf(os.Stderr, "task %s failed [%s]: %s\n", result.TaskID, result.ErrorCode, result.Error)
		os.Exit(1)
	}
	fmt.Printf("task %s used %d tokens\n%s\n", result.TaskID, result.TokensUsed, result.Analysis)
}
