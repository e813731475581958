// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// guidectl is the operator CLI for the guidance service: health inspection,
// ad hoc questions, and review-queue listing.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "guidectl",
	Short: "Operator CLI for the Khanya guidance service",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:12310", "Base URL of the guidance service")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(escalationsCmd)
}
