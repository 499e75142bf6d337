package vector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/scoutline/scoutline/pkg/models"
)

// FlattenReport turns a structured report draft into plain text with
// blank-line paragraph boundaries, ready for chunking. Detail sections
// are emitted in sorted key order so the output is deterministic.
// Unstructured drafts flatten to their raw content.
func FlattenReport(report json.RawMessage) string {
	var draft models.ReportDraft
	if err := json.Unmarshal(report, &draft); err == nil && draft.Summary != "" {
		var b strings.Builder
		fmt.Fprintf(&b, "Summary:\n%s\n\n", draft.Summary)

		if len(draft.KeyFindings) > 0 {
			b.WriteString("Key Findings:\n")
			for _, f := range draft.KeyFindings {
				fmt.Fprintf(&b, "- %s\n", f)
			}
			b.WriteString("\n")
		}

		sections := make([]string, 0, len(draft.Details))
		for k := range draft.Details {
			sections = append(sections, k)
		}
		sort.Strings(sections)
		for _, section := range sections {
			fmt.Fprintf(&b, "Section: %s\n%s\n\n", section, detailText(draft.Details[section]))
		}
		return strings.TrimSpace(b.String())
	}

	var plain models.PlainTextReport
	if err := json.Unmarshal(report, &plain); err == nil && plain.Content != "" {
		return plain.Content
	}

	var raw string
	if err := json.Unmarshal(report, &raw); err == nil {
		return raw
	}
	return string(report)
}

// detailText renders a detail value: strings verbatim, everything else as
// compact JSON.
func detailText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
