package validator

import (
	"regexp"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// disallowedPatterns approximates §4.C7's sanitization rule: "shell
// metacharacters outside of string literals in the scripting language,
// attempts to escape the sandbox directory". A best-effort guard, not a
// proof of safety, matches the spec's own framing — these patterns flag
// command substitution, chained shell invocations, and path traversal
// rather than rejecting every occurrence of a shell metacharacter (which
// would reject nearly all realistic PoC code).
var disallowedPatterns = []*regexp.Regexp{
	regexp.MustCompile("\\$\\("),             // $(...) command substitution
	regexp.MustCompile("`[^`]*`"),             // backtick command substitution
	regexp.MustCompile(`\.\./\.\./\.\./`),     // sandbox-directory escape attempt
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),    // destructive filesystem wipe
	regexp.MustCompile(`(?i)\b(curl|wget)\s+[^\n]*\|\s*(sh|bash)\b`), // download-and-execute
	regexp.MustCompile(`(?i)/etc/(passwd|shadow)`),
}

// Sanitize scans poc for the disallowed patterns and returns an
// errs.UnsafeInput error if any match.
func Sanitize(poc string) error {
	for _, p := range disallowedPatterns {
		if p.MatchString(poc) {
			return errs.New(errs.UnsafeInput, "unsafe poc")
		}
	}
	return nil
}
