package credential

import (
	"strings"
	"unicode"
)

// Credential is the normalized access token used to open upstream connections.
type Credential string

// Resolve normalizes raw and reports whether a usable credential remains.
// Every whitespace rune and every single or double quote is removed,
// wherever it appears.
func Resolve(raw string) (Credential, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '"' || r == '\'' {
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", false
	}
	return Credential(cleaned), true
}

// Resolver holds the credential resolved once at construction.
type Resolver struct {
	cred    Credential
	present bool
}

// NewResolver resolves raw immediately. The result never changes afterwards.
func NewResolver(raw string) *Resolver {
	cred, ok := Resolve(raw)
	return &Resolver{cred: cred, present: ok}
}

// Resolve returns the credential, or false when none is configured.
func (r *Resolver) Resolve() (Credential, bool) {
	if r == nil {
		return "", false
	}
	return r.cred, r.present
}

// Value returns the raw token for use in the upstream URL.
func (c Credential) Value() string { return string(c) }

// String masks the token so it can be logged safely.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	if len(c) <= 4 {
		return "****"
	}
	return string(c[:4]) + "****"
}
