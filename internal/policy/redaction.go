package policy

import (
	"regexp"
	"strings"
)

var keyParamPattern = regexp.MustCompile(`([?&](?:key|api_key|access_token)=)[^&\s"']+`)

const redactedMarker = "[REDACTED]"

// RedactSecrets masks credential query parameters and any literal occurrence
// of the given secrets.
func RedactSecrets(input string, secrets ...string) (redacted string, changed bool) {
	out := keyParamPattern.ReplaceAllString(input, "${1}"+redactedMarker)
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		out = strings.ReplaceAll(out, secret, redactedMarker)
	}
	return out, out != input
}
