// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package privacy

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// PIIPatternFile is the parsed form of the embedded pii_patterns.yaml.
type PIIPatternFile struct {
	Classifications []PIIClass `yaml:"classifications"`
}

// PIIClass groups related patterns under one classification name.
type PIIClass struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Patterns         []PIIPattern     `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

// PIIPattern is a single residual-PII regex.
type PIIPattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

// ProvinceFile is the parsed form of the embedded za_provinces.yaml.
type ProvinceFile struct {
	Provinces []ProvinceEntry `yaml:"provinces"`
}

// ProvinceEntry maps one province to its known towns and suburbs.
type ProvinceEntry struct {
	Name  string   `yaml:"name"`
	Towns []string `yaml:"towns"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

// CompileRegexes compiles every pattern in the file, failing fast on any
// invalid regex so a bad embedded table cannot ship silently.
func (p *PIIPatternFile) CompileRegexes() error {
	for i := range p.Classifications {
		for j := range p.Classifications[i].Patterns {
			pattern := &p.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			p.Classifications[i].CompiledPatterns = append(p.Classifications[i].
				CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

// SortByPriority orders classifications from highest to lowest priority.
func (p *PIIPatternFile) SortByPriority() {
	sort.Slice(p.Classifications, func(i, j int) bool {
		return p.Classifications[i].Priority > p.Classifications[j].Priority
	})
}

// ScanFinding records one residual-PII match inside generated text.
type ScanFinding struct {
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
