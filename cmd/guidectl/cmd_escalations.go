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

var (
	escalationsLimit      int
	escalationsJSONOutput bool
)

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List responses queued for human review",
	RunE:  runEscalationsCommand,
}

func init() {
	escalationsCmd.Flags().IntVar(&escalationsLimit, "limit", 20,
		"Maximum number of records to list")
	escalationsCmd.Flags().BoolVar(&escalationsJSONOutput, "json", false,
		"Output the raw response JSON")
}

func runEscalationsCommand(_ *cobra.Command, _ []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/v1/escalations?limit=%d", serverURL, escalationsLimit)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, body)
	}

	if escalationsJSONOutput {
		fmt.Println(string(body))
		return nil
	}

	var parsed struct {
		Count       int `json:"count"`
		Escalations []struct {
			ID        string    `json:"id"`
			CreatedAt time.Time `json:"createdAt"`
			Query     string    `json:"query"`
			Reason    string    `json:"reason"`
		} `json:"escalations"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Count == 0 {
		fmt.Println("The review queue is empty.")
		return nil
	}
	for _, record := range parsed.Escalations {
		fmt.Printf("%s  %-18s %s\n    %s\n",
			record.CreatedAt.Format(time.RFC3339), record.Reason, record.ID, record.Query)
	}
	return nil
}
