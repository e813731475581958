// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthJSONOutput bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Display the guidance service health report",
	Long: `Fetches the /health endpoint and prints component state:
provider breaker states, cache counters, and verification throughput.

Examples:
  guidectl health          # Human-readable report
  guidectl health --json   # Raw JSON for scripting`,
	RunE: runHealthCommand,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")
}

func runHealthCommand(_ *cobra.Command, _ []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d: %s", resp.StatusCode, body)
	}

	if healthJSONOutput {
		fmt.Println(string(body))
		return nil
	}

	var report map[string]interface{}
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}

	fmt.Printf("Status:  %v\n", report["status"])
	fmt.Printf("Version: %v\n", report["version"])
	fmt.Printf("Uptime:  %v\n", report["uptime"])
	if providers, ok := report["providers"].(map[string]interface{}); ok {
		fmt.Printf("Providers: %v\n", providers["order"])
		if breakers, ok := providers["breakers"].(map[string]interface{}); ok {
			for name, state := range breakers {
				fmt.Printf("  %-12s %v\n", name, state)
			}
		}
	}
	if cacheStats, ok := report["cache"].(map[string]interface{}); ok {
		fmt.Printf("Cache: %v entries, %v hits, %v misses\n",
			cacheStats["entryCount"], cacheStats["hits"], cacheStats["misses"])
	}
	return nil
}
