package llm

import (
	"regexp"
	"strings"
)

// Header keywords per field, matched case-insensitively as substrings.
var (
	correctedHeaders   = []string{"corrected text", "korrigierter text"}
	summaryHeaders     = []string{"summary", "zusammenfassung"}
	bulletHeaders      = []string{"key points", "bullet points", "stichpunkte", "punkte"}
	keyPointHeaders    = []string{"key points", "wichtige punkte"}
	actionItemHeaders  = []string{"action items", "aufgaben", "aktionen"}
	numberedItem       = regexp.MustCompile(`^\d+\.`)
	bulletMarker       = regexp.MustCompile(`^[-*]\s*`)
	numberedItemMarker = regexp.MustCompile(`^\d+\.\s*`)
)

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func matchesAny(line string, names []string) bool {
	for _, n := range names {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}

// ExtractSectionLines collects the trimmed lines following the first header
// that contains one of names. Collection stops at a line naming any of
// stopNames or at the end of text. Blank lines inside the section are kept.
func ExtractSectionLines(text string, names, stopNames []string) []string {
	var lines []string
	inSection := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)

		if matchesAny(lower, names) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if matchesAny(lower, stopNames) {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

// ExtractSection joins the non-empty lines of a section with single spaces.
func ExtractSection(text string, names, stopNames []string) string {
	var parts []string
	for _, l := range ExtractSectionLines(text, names, stopNames) {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

// ExtractBulletPoints keeps lines starting with "-", "*" or "N." and strips
// the marker.
func ExtractBulletPoints(lines []string) []string {
	var points []string
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if !strings.HasPrefix(t, "-") && !strings.HasPrefix(t, "*") && !numberedItem.MatchString(t) {
			continue
		}
		t = bulletMarker.ReplaceAllString(t, "")
		t = numberedItemMarker.ReplaceAllString(t, "")
		points = append(points, t)
	}
	return points
}

// ParseOutput recovers structured fields from a model reply according to the
// preset type. Unknown types yield only the raw reply.
func ParseOutput(output, presetType string) EnrichedResult {
	res := EnrichedResult{Original: output}

	switch presetType {
	case TypeQuickNotes:
		stop := concat(correctedHeaders, summaryHeaders, bulletHeaders)
		corrected := ExtractSection(output, correctedHeaders, stop)
		if corrected == "" {
			corrected = output
		}
		res.Structured = Structured{
			CorrectedText: corrected,
			Summary:       ExtractSection(output, summaryHeaders, stop),
			BulletPoints:  ExtractBulletPoints(ExtractSectionLines(output, bulletHeaders, stop)),
		}
	case TypeMeetingSummary:
		stop := concat(summaryHeaders, keyPointHeaders, actionItemHeaders)
		res.Structured = Structured{
			Summary:     ExtractSection(output, summaryHeaders, stop),
			KeyPoints:   ExtractBulletPoints(ExtractSectionLines(output, keyPointHeaders, stop)),
			ActionItems: ExtractBulletPoints(ExtractSectionLines(output, actionItemHeaders, stop)),
		}
	}
	return res
}
