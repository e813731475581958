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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	askProfilePath string // JSON file holding the learner profile
	askMarks       []string
	askProvince    string
	askInterests   []string
	askJSONOutput  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Send a guidance question to the service",
	Long: `Sends one guidance question through the full pipeline. Consent is
recorded as given at the time of the call, which makes this suitable for
smoke testing, not for production traffic on behalf of a learner.

Profile input is either a JSON file (--profile) or inline flags:

  guidectl ask "Can I get into engineering at UP?" \
      --mark "Mathematics=78" --mark "Physical Sciences=72" \
      --town Soweto --interest engineering`,
	Args: cobra.ExactArgs(1),
	RunE: runAskCommand,
}

func init() {
	askCmd.Flags().StringVar(&askProfilePath, "profile", "",
		"Path to a JSON file with the learner profile")
	askCmd.Flags().StringArrayVar(&askMarks, "mark", nil,
		`Subject mark as "Subject=NN" (repeatable)`)
	askCmd.Flags().StringVar(&askProvince, "town", "",
		"Learner's town (generalized to province server-side)")
	askCmd.Flags().StringArrayVar(&askInterests, "interest", nil,
		"Field of interest (repeatable)")
	askCmd.Flags().BoolVar(&askJSONOutput, "json", false,
		"Output the raw response JSON")
}

func buildAskProfile() (map[string]interface{}, error) {
	if askProfilePath != "" {
		raw, err := os.ReadFile(askProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile file: %w", err)
		}
		var profile map[string]interface{}
		if err := json.Unmarshal(raw, &profile); err != nil {
			return nil, fmt.Errorf("failed to parse profile file: %w", err)
		}
		return profile, nil
	}

	marks := make(map[string]float64, len(askMarks))
	for _, pair := range askMarks {
		subject, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --mark %q, expected \"Subject=NN\"", pair)
		}
		mark, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mark in %q: %w", pair, err)
		}
		marks[strings.TrimSpace(subject)] = mark
	}
	if len(marks) == 0 {
		return nil, fmt.Errorf("at least one --mark is required without --profile")
	}

	return map[string]interface{}{
		"town":      askProvince,
		"marks":     marks,
		"interests": askInterests,
	}, nil
}

func runAskCommand(_ *cobra.Command, args []string) error {
	profile, err := buildAskProfile()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":   args[0],
		"profile": profile,
		"session": map[string]interface{}{
			"consentGiven":     true,
			"consentTimestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(serverURL+"/v1/guidance", "application/json",
		bytes.NewReader(payload))
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

	if askJSONOutput {
		fmt.Println(string(body))
		return nil
	}

	var parsed struct {
		Response string `json:"response"`
		Source   string `json:"source"`
		CAG      *struct {
			Decision       string  `json:"decision"`
			Confidence     float64 `json:"confidence"`
			IssuesDetected int     `json:"issuesDetected"`
			RequiresHuman  bool    `json:"requiresHuman"`
		} `json:"cag"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Println(parsed.Response)
	fmt.Printf("\n[source: %s", parsed.Source)
	if parsed.CAG != nil {
		fmt.Printf(", decision: %s, confidence: %.2f, issues: %d",
			parsed.CAG.Decision, parsed.CAG.Confidence, parsed.CAG.IssuesDetected)
	}
	fmt.Println("]")
	return nil
}
