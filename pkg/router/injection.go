package router

import "regexp"

// Phrases that try to override the system prompt. They are logged, not blocked.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)<\s*assistant\s*>`),
}

// suspiciousPatterns returns the injection patterns found in message.
func suspiciousPatterns(message string) []string {
	var found []string
	for _, re := range injectionPatterns {
		if re.MatchString(message) {
			found = append(found, re.String())
		}
	}
	return found
}
