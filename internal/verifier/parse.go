package verifier

import (
	"regexp"
	"strconv"
	"strings"
)

// findingPattern matches one classifier verdict. The response may bury the
// verdicts in prose; only text matching this shape is significant.
var findingPattern = regexp.MustCompile(`(?i)ID(\d+)\s*:\s*(yes|no)`)

// Finding is one parsed classifier verdict.
type Finding struct {
	TrackID   int64
	Violation bool
}

// ParseFindings extracts every ID<digits>:yes/no verdict from the classifier
// response, first occurrence per identifier wins. An empty result means the
// response carried no usable verdict.
func ParseFindings(response string) []Finding {
	var findings []Finding
	seen := make(map[int64]bool)

	for _, match := range findingPattern.FindAllStringSubmatch(response, -1) {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		findings = append(findings, Finding{
			TrackID:   id,
			Violation: strings.EqualFold(match[2], "yes"),
		})
	}
	return findings
}
