// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cag

import "github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"

// score computes the confidence for a draft: start at 1.0, deduct the
// configured weight per issue by severity, deduct the skipped-stage penalty
// per stage that could not run, clamp to [0,1].
func (v *Verifier) score(issues []datatypes.Issue, skippedStages int) float64 {
	confidence := 1.0
	for _, issue := range issues {
		confidence -= v.weightFor(issue.Severity)
	}
	confidence -= float64(skippedStages) * v.cfg.SkippedStagePenalty

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func (v *Verifier) weightFor(severity datatypes.Severity) float64 {
	switch severity {
	case datatypes.SeverityCritical:
		return v.cfg.Weights.Critical
	case datatypes.SeverityMajor:
		return v.cfg.Weights.Major
	default:
		return v.cfg.Weights.Minor
	}
}
