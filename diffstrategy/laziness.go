package diffstrategy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EditTools are the tools whose output is model-written file content.
var EditTools = map[string]bool{
	"apply_diff":    true,
	"write_to_file": true,
}

// LowTemperatureCutoff is the temperature at or below which edit failures
// are never attributed to sampling.
const LowTemperatureCutoff = 0.2

var commentPrefix = regexp.MustCompile(`^\s*(//|#|/\*|\*|<!--|--|;)\s*`)

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(rest|remainder) of (the )?(code|file|implementation|function|method|class|module)`),
	regexp.MustCompile(`(?i)\b(existing|previous|original|remaining|other) (code|implementation|logic|methods|functions)\b.*\b(here|unchanged|remains?|as before|omitted|same)\b`),
	regexp.MustCompile(`(?i)\b(omitted for brevity|code omitted|unchanged code)\b`),
	regexp.MustCompile(`^(\.{3}|…)`),
}

// truncationMarkers are phrases a failed edit's error text carries when the
// content looked truncated.
var truncationMarkers = []string{
	"truncated",
	"rest of code unchanged",
	"rest of the code",
	"existing code",
	"previous code",
	"code omitted",
	"placeholder",
}

// IsPlaceholderLine reports whether line is a comment standing in for
// omitted code, such as "// ... rest of code unchanged".
func IsPlaceholderLine(line string) bool {
	loc := commentPrefix.FindStringIndex(line)
	if loc == nil {
		return false
	}
	body := strings.TrimSpace(line[loc[1]:])
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(body, "*/"), "-->"))
	if body == "" {
		return false
	}
	for _, p := range placeholderPatterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

// DetectCodeOmission returns the first placeholder comment line present in
// updated but absent from original.
func DetectCodeOmission(original, updated string) (string, bool) {
	existing := make(map[string]bool)
	for _, l := range strings.Split(original, "\n") {
		if IsPlaceholderLine(l) {
			existing[strings.TrimSpace(l)] = true
		}
	}
	for _, l := range strings.Split(updated, "\n") {
		if !IsPlaceholderLine(l) {
			continue
		}
		marker := strings.TrimSpace(l)
		if !existing[marker] {
			return marker, true
		}
	}
	return "", false
}

// OmissionError reports model-written content that was cut short or that
// stands in a placeholder comment for code it should contain.
type OmissionError struct {
	Marker string // placeholder comment, if one was found
	Detail string // truncation evidence otherwise
}

func (e *OmissionError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("content contains the placeholder comment %q", e.Marker)
	}
	return "content appears truncated: " + e.Detail
}

// IsTemperatureFailure reports whether err from an edit tool was caused by
// lazy output, judged from an *OmissionError in its chain. The error text
// is not inspected, so paths and quoted file content cannot trigger it.
func IsTemperatureFailure(toolName string, err error, temperature float64) bool {
	var oe *OmissionError
	return temperatureSensitive(toolName, temperature) && errors.As(err, &oe)
}

// temperatureSensitive holds for edit tools at a temperature the user
// deliberately set above the low cutoff; 0 and 1 are untouched defaults.
func temperatureSensitive(toolName string, temperature float64) bool {
	if !EditTools[toolName] {
		return false
	}
	return temperature > LowTemperatureCutoff && temperature != 1
}

// IsTemperatureError guesses from error text alone whether an edit tool
// failed because the model sampled lazily. Callers holding the error value
// should prefer IsTemperatureFailure.
func IsTemperatureError(toolName, errText string, temperature float64) bool {
	if !temperatureSensitive(toolName, temperature) {
		return false
	}
	lower := strings.ToLower(errText)
	for _, m := range truncationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	for _, l := range strings.Split(errText, "\n") {
		if IsPlaceholderLine(l) {
			return true
		}
	}
	return false
}
