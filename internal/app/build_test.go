package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antoniostano/jarvis/internal/config"
	"github.com/antoniostano/jarvis/internal/protocol"
	"github.com/antoniostano/jarvis/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		BindAddr:             ":0",
		MetricsNamespace:     "jarvis_test",
		GeminiAPIKey:         "'key'",
		UpstreamHost:         "generativelanguage.googleapis.com",
		UpstreamProtocol:     protocol.VariantV1AlphaCamel,
		Model:                "models/gemini-2.0-flash-exp",
		Voice:                "Kore",
		ResponseModalities:   []string{"AUDIO"},
		SystemInstruction:    config.DefaultSystemInstruction,
		KickstartText:        "Hello",
		JournalRetention:     10,
		WSReadLimit:          1 << 20,
		SessionFailureLinger: 0,
	}
}

func TestBuildWiresComponents(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, protocol.VariantV1AlphaCamel, res.Variant.Name)
	cred, ok := res.Credentials.Resolve()
	require.True(t, ok)
	assert.Equal(t, "key", cred.Value())
	assert.NotNil(t, res.API.Router())
	assert.Equal(t, 0, res.Sessions.ActiveCount())
}

func TestBuildRejectsUnknownVariant(t *testing.T) {
	cfg := testConfig()
	cfg.UpstreamProtocol = "v0"
	_, err := Build(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	assert.ErrorIs(t, err, protocol.ErrUnknownVariant)
}

func TestBuildEndHookRefreshesActiveGauge(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer res.Cleanup()

	first := res.Sessions.Create("10.0.0.1:1", protocol.VariantV1AlphaCamel)
	res.Sessions.Create("10.0.0.2:1", protocol.VariantV1AlphaCamel)
	res.Metrics.ActiveSessions.Set(2)

	_, err = res.Sessions.End(first.ID, session.Counters{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(res.Metrics.ActiveSessions))
}
