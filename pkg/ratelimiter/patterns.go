package ratelimiter

import "regexp"

// rateLimitPattern matches the common rate-limit error-message vocabulary:
// rate.?limit | 429 | too.?many.?requests | quota | throttl | capacity.
var rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|429|too.?many.?requests|quota|throttl|capacity`)

// IsRateLimitError reports whether an error or response message looks like
// a rate-limit rejection from an external scraper or LLM provider.
func IsRateLimitError(message string) bool {
	return rateLimitPattern.MatchString(message)
}
