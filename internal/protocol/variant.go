package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// Casing selects how JSON field names are spelled on the upstream wire.
type Casing string

const (
	CasingSnake Casing = "snake_case"
	CasingCamel Casing = "camelCase"
)

var ErrUnknownVariant = errors.New("unknown protocol variant")

// Variant describes one revision of the upstream bidirectional protocol.
type Variant struct {
	Name string
	// PathTemplate may reference the model as {model}.
	PathTemplate string
	Casing       Casing
	// Kickstart reports whether the upstream waits silently for a user turn
	// before speaking.
	Kickstart bool
}

const (
	VariantV1BetaSnake  = "v1beta-snake"
	VariantV1AlphaCamel = "v1alpha-camel"
)

var variants = map[string]Variant{
	VariantV1BetaSnake: {
		Name:         VariantV1BetaSnake,
		PathTemplate: "/v1beta/{model}:bidiWrite",
		Casing:       CasingSnake,
		Kickstart:    false,
	},
	VariantV1AlphaCamel: {
		Name:         VariantV1AlphaCamel,
		PathTemplate: "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent",
		Casing:       CasingCamel,
		Kickstart:    true,
	},
}

// Lookup returns the named variant.
func Lookup(name string) (Variant, error) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (expected %s)", ErrUnknownVariant, name, strings.Join(VariantNames(), "|"))
	}
	return v, nil
}

// VariantNames lists the built-in variants in stable order.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path renders the endpoint path for model.
func (v Variant) Path(model string) string {
	return strings.ReplaceAll(v.PathTemplate, "{model}", model)
}

// URL builds the upstream websocket address. The credential travels as the
// key query parameter.
func (v Variant) URL(host, model, key string) string {
	u := url.URL{
		Scheme: "wss",
		Host:   host,
		Path:   v.Path(model),
	}
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		if parsed, err := url.Parse(host); err == nil {
			u.Scheme = parsed.Scheme
			u.Host = parsed.Host
		}
	}
	q := url.Values{}
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String()
}

// field spells a dotted camelCase path in the variant's casing.
func (v Variant) field(path string) string {
	if v.Casing != CasingSnake {
		return path
	}
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		segs[i] = toSnake(seg)
	}
	return strings.Join(segs, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
