// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mistakes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meridianops/meridian/services/assistant/resilience"
)

// defaultLessonLimit is how many lessons PromptLessons renders by default.
const defaultLessonLimit = 10

// advicePreviewLen caps error previews in rendered advice.
const advicePreviewLen = 100

// Advisor renders stored mistakes into natural-language guidance.
//
// Read-only facade over the Store; it holds no state of its own and is
// safe for concurrent use.
type Advisor struct {
	store *Store
}

// NewAdvisor creates an advisor over the given store.
func NewAdvisor(store *Store) *Advisor {
	return &Advisor{store: store}
}

// ToolAdvice renders guidance for one dependency key.
//
// Description:
//
//	Corrected mistakes render as actionable correction lines; uncorrected
//	ones render as AVOID warnings. Returns the empty string when nothing
//	is recorded for the tool, so callers can append the advice to a prompt
//	unconditionally.
//
// Inputs:
//
//	toolName - Dependency key to advise on.
//
// Outputs:
//
//	string - Newline-joined advice lines, or "".
func (a *Advisor) ToolAdvice(toolName string) string {
	records := a.store.MistakesForTool(toolName, 5)
	if len(records) == 0 {
		return ""
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Corrected() {
			lines = append(lines, fmt.Sprintf("%s (%s, seen %dx): %s",
				rec.ToolName, rec.Category, rec.OccurrenceCount, rec.Correction))
		} else {
			lines = append(lines, "AVOID: "+resilience.TruncateValue(rec.ErrorMessage, advicePreviewLen))
		}
	}
	return strings.Join(lines, "\n")
}

// PromptLessons renders a "Learned Lessons" block for prompt injection.
//
// Description:
//
//	Corrected mistakes are the most valuable lessons and come first; the
//	remainder is filled with the most frequent uncorrected mistakes,
//	excluding fingerprints already included. Returns the empty string when
//	nothing is recorded.
//
// Inputs:
//
//	limit - Maximum lessons to render; <= 0 means the default of 10.
//
// Outputs:
//
//	string - Bulleted lessons block, or "".
func (a *Advisor) PromptLessons(limit int) string {
	if limit <= 0 {
		limit = defaultLessonLimit
	}

	corrected := a.store.CorrectedMistakes(limit)
	seen := make(map[string]struct{}, len(corrected))

	var lines []string
	for _, rec := range corrected {
		seen[rec.Fingerprint] = struct{}{}
		lines = append(lines, fmt.Sprintf("- %s: %s (seen %dx)",
			rec.ToolName, rec.Correction, rec.OccurrenceCount))
	}

	if len(lines) < limit {
		for _, rec := range a.store.TopMistakes(limit * 2) {
			if len(lines) >= limit {
				break
			}
			if _, ok := seen[rec.Fingerprint]; ok {
				continue
			}
			seen[rec.Fingerprint] = struct{}{}
			lines = append(lines, fmt.Sprintf("- %s: AVOID %s (%s, seen %dx)",
				rec.ToolName, resilience.TruncateValue(rec.ErrorMessage, advicePreviewLen),
				rec.Category, rec.OccurrenceCount))
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return "Learned Lessons (from this session):\n" + strings.Join(lines, "\n")
}

// ToolMistakeCount pairs a dependency key with its mistake tally.
type ToolMistakeCount struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
}

// MistakeSummary aggregates store statistics for diagnostics surfaces.
type MistakeSummary struct {
	// TotalMistakes is the number of unique mistakes recorded.
	TotalMistakes int `json:"total_mistakes"`

	// TopTools lists the dependencies with the most unique mistakes.
	TopTools []ToolMistakeCount `json:"top_tools,omitempty"`

	// CorrectedCount is how many mistakes have a correction attached.
	CorrectedCount int `json:"corrected_count"`

	// CorrectionRate is CorrectedCount / TotalMistakes, 0 when empty.
	CorrectionRate float64 `json:"correction_rate"`
}

// Summary computes aggregate statistics over all recorded mistakes.
func (a *Advisor) Summary() MistakeSummary {
	records := a.store.TopMistakes(0)

	summary := MistakeSummary{TotalMistakes: len(records)}
	if len(records) == 0 {
		return summary
	}

	perTool := make(map[string]int)
	for _, rec := range records {
		perTool[rec.ToolName]++
		if rec.Corrected() {
			summary.CorrectedCount++
		}
	}

	for tool, count := range perTool {
		summary.TopTools = append(summary.TopTools, ToolMistakeCount{ToolName: tool, Count: count})
	}
	sort.Slice(summary.TopTools, func(i, j int) bool {
		if summary.TopTools[i].Count != summary.TopTools[j].Count {
			return summary.TopTools[i].Count > summary.TopTools[j].Count
		}
		return summary.TopTools[i].ToolName < summary.TopTools[j].ToolName
	})
	if len(summary.TopTools) > 5 {
		summary.TopTools = summary.TopTools[:5]
	}

	summary.CorrectionRate = float64(summary.CorrectedCount) / float64(summary.TotalMistakes)
	return summary
}
