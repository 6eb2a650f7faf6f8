// Package redact strips credentials, connection details and other sensitive
// fragments from strings before they are logged or returned to API clients.
// Broker, cache and database errors routinely embed connection URLs, so every
// error that crosses the HTTP boundary passes through Error first.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// Userinfo in postgres, amqp, redis, s3 and http URLs. The scheme is kept.
	credentialURLRegex = regexp.MustCompile(
		`(?i)\b(postgres(?:ql)?|amqps?|rediss?|s3|https?)://[^\s/@]+@`,
	)

	passwordRegex = regexp.MustCompile(
		`(?i)\b(password|passwd|pwd)\s*[=:]\s*['"]?[^'"&\s]+['"]?`,
	)
	apiKeyRegex = regexp.MustCompile(
		`(?i)\b(api[_-]?key|access[_-]?key|secret[_-]?key|jwt[_-]?secret|token|secret)\s*[=:]\s*['"]?[A-Za-z0-9_\-.~+/]{8,}['"]?`,
	)
	awsKeyRegex   = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	stackTraceRegex = regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`)

	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)
	winPathRegex  = regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`)

	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	sqlRegex = regexp.MustCompile(
		`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[\s\w,*()."$=']+?\b(FROM|INTO|SET)\b[\s\w,*()."$=']*`,
	)

	// Host names are only treated as sensitive with an explicit port, so
	// dataset file names such as "sales.csv" survive.
	hostPortRegex = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)*[a-zA-Z][a-zA-Z0-9-]*:\d{2,5}\b`)
	ipv4Regex     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`)

	// Applied in order: credentials before hosts, stack traces before paths.
	rules = []rule{
		{credentialURLRegex, "${1}://" + RedactedCredentialPlaceholder + "@"},
		{jwtTokenRegex, "[REDACTED_JWT]"},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{awsKeyRegex, RedactedKeyPlaceholder},
		{stackTraceRegex, "[STACK_TRACE_REDACTED]"},
		{emailRegex, "[REDACTED_EMAIL]"},
		{sqlRegex, "[REDACTED_SQL]"},
		{ipv4Regex, RedactedHostPlaceholder},
		{hostPortRegex, RedactedHostPlaceholder},
		{unixPathRegex, RedactedPathPlaceholder},
		{winPathRegex, RedactedPathPlaceholder},
	}
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
