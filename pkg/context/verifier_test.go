package context

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/artifacts"
	"github.com/vaultguard/sentinel/pkg/proof"
)

func newTestVerifier(t *testing.T, components ...string) *Verifier {
	t.Helper()
	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	var bindings []proof.Binding
	builders := make(map[string]ComponentBuilder, len(components))
	for _, c := range components {
		backend := proof.NewMockBackend(c, "1.0.0")
		bindings = append(bindings, proof.Binding{CircuitID: c, CircuitVersion: "1.0.0", Backend: backend, PoolSize: 4})
		builders[c] = buildGenericPreimageComponent(c)
	}

	orchestrator, err := proof.NewOrchestrator(bindings, store, slog.Default())
	require.NoError(t, err)

	return New(Config{
		Orchestrator:        orchestrator,
		Builders:            builders,
		ComponentConfidence: DefaultComponentConfidence(),
		PerComponentTimeout: time.Second,
	})
}

func TestVerifyAllComponentsSucceed(t *testing.T) {
	v := newTestVerifier(t, "timestamp", "location")

	report := v.Verify(context.Background(), Request{
		RequestID:          "r1",
		RequiredComponents: []string{"timestamp", "location"},
		Claims: map[string]map[string]any{
			"timestamp": {"t": "2026-07-30T00:00:00Z"},
			"location":  {"lat": 1.0, "lng": 2.0},
		},
	})

	assert.True(t, report.Verified)
	assert.InDelta(t, 1.0, report.AggregateConfidence, 1e-9)
	assert.True(t, report.Components["timestamp"].Verified)
	assert.True(t, report.Components["location"].Verified)
}

func TestVerifyNoComponentsRequiredReturnsBaseline(t *testing.T) {
	v := newTestVerifier(t)
	report := v.Verify(context.Background(), Request{RequestID: "r2"})
	assert.False(t, report.Verified)
	assert.InDelta(t, 0.2, report.AggregateConfidence, 1e-9)
}

func TestVerifyMissingBuilderDoesNotAbortOthers(t *testing.T) {
	v := newTestVerifier(t, "timestamp")

	report := v.Verify(context.Background(), Request{
		RequestID:          "r3",
		RequiredComponents: []string{"timestamp", "unregistered"},
		Claims: map[string]map[string]any{
			"timestamp": {"t": "now"},
		},
	})

	assert.False(t, report.Verified)
	assert.True(t, report.Components["timestamp"].Verified)
	assert.False(t, report.Components["unregistered"].Verified)
	assert.Error(t, report.Components["unregistered"].Err)
}

func TestNormalizeDeviceClaimIsOrderIndependent(t *testing.T) {
	a, err := NormalizeDeviceClaim(map[string]any{"os": "linux", "screen": "1920x1080"})
	require.NoError(t, err)
	b, err := NormalizeDeviceClaim(map[string]any{"screen": "1920x1080", "os": "linux"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeDeviceClaimIgnoresJWTField(t *testing.T) {
	a, err := NormalizeDeviceClaim(map[string]any{"os": "linux"})
	require.NoError(t, err)
	b, err := NormalizeDeviceClaim(map[string]any{"os": "linux", "device_jwt": "some.jwt.token"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
