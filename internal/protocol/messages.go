package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/tidwall/sjson"
)

// Setup carries the per-process session configuration sent to the upstream
// once per session.
type Setup struct {
	Model              string
	ResponseModalities []string
	VoiceName          string
	SystemInstruction  string
}

// BuildSetup renders the handshake payload in the variant's field casing.
func BuildSetup(v Variant, s Setup) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{"setup.model", s.Model},
		{"setup.generationConfig.responseModalities", s.ResponseModalities},
		{"setup.generationConfig.speechConfig.voiceConfig.prebuiltVoiceConfig.voiceName", s.VoiceName},
		{"setup.systemInstruction.parts.0.text", s.SystemInstruction},
	}
	return setAll(v, fields)
}

// BuildKickstart renders a synthetic user turn that prompts the upstream to
// speak first.
func BuildKickstart(v Variant, text string) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{"clientContent.turns.0.role", "user"},
		{"clientContent.turns.0.parts.0.text", text},
		{"clientContent.turnComplete", true},
	}
	return setAll(v, fields)
}

func setAll(v Variant, fields []struct {
	path  string
	value any
}) ([]byte, error) {
	raw := []byte("{}")
	var err error
	for _, f := range fields {
		raw, err = sjson.SetBytes(raw, v.field(f.path), f.value)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", f.path, err)
		}
	}
	return raw, nil
}

// Notice is the JSON object sent to the client when a session fails or the
// upstream goes away.
type Notice struct {
	Error  string `json:"error"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EncodeNotice marshals n for a text frame.
func EncodeNotice(n Notice) ([]byte, error) {
	return sonic.Marshal(n)
}
