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

import (
	"strings"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
)

// BuildRevisionPrompt turns a Revise decision into the correction prompt
// for the single allowed regeneration attempt. The issues are fed back as
// explicit instructions; the draft itself is included so the model revises
// rather than starting over.
func BuildRevisionPrompt(originalPrompt, draft string, issues []datatypes.Issue) string {
	var b strings.Builder
	b.WriteString(originalPrompt)
	b.WriteString("\n\nA previous draft of this answer contained problems. Rewrite it, correcting every problem listed below. Keep everything that was not flagged.\n")
	b.WriteString("\nProblems:\n")
	for _, issue := range issues {
		b.WriteString("- ")
		b.WriteString(issue.Detail)
		b.WriteString("\n")
	}
	b.WriteString("\nPrevious draft:\n")
	b.WriteString(draft)
	return b.String()
}
