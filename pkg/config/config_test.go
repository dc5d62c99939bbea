package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMemory)

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.RunAddress)
	assert.Equal(t, "WS-001", cfg.DeviceID)
	assert.Equal(t, 1.0, cfg.DefaultVolume)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5000"}, cfg.AllowedOrigins)
	assert.Equal(t, "IDR", cfg.Invoice.Currency)
	assert.Equal(t, []string{"QRIS"}, cfg.Invoice.PaymentMethods)
	assert.Equal(t, 86400, cfg.Invoice.DurationSeconds)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.Step)
	assert.True(t, cfg.Device.IdempotencyCheck)
	assert.False(t, cfg.ProviderConfigured())
}

func TestParse_RTDB(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendRTDB)
	t.Setenv("STORE_URL", "")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_URL")

	t.Setenv("STORE_URL", "https://station.example.com/")
	t.Setenv("PROVIDER_BASE_URL", "https://api.example.com/")
	t.Setenv("PROVIDER_SECRET_KEY", "xnd_test")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "https://station.example.com", cfg.StoreURL)
	assert.Equal(t, "https://api.example.com", cfg.ProviderBaseURL)
	assert.True(t, cfg.ProviderConfigured())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"unknown backend", "STORE_BACKEND", "redis", "unknown STORE_BACKEND"},
		{"zero volume", "DEFAULT_VOLUME", "0", "DEFAULT_VOLUME"},
		{"negative timeout", "UPSTREAM_TIMEOUT", "-1s", "UPSTREAM_TIMEOUT"},
		{"zero step", "DEVICE_STEP", "0s", "DEVICE_STEP"},
		{"unparsable volume", "DEFAULT_VOLUME", "lots", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_BACKEND", BackendMemory)
			t.Setenv(tt.key, tt.value)

			_, err := Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDB_DSN(t *testing.T) {
	db := DB{User: "root", Password: "secret", Host: "db", Port: "3307", Name: "station"}
	assert.Equal(t, "root:secret@tcp(db:3307)/station?parseTime=true", db.DSN())
}
