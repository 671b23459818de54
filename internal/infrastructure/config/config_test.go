package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultsOnly(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultsOnly(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 3, cfg.Knowledge.TopK)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.EqualValues(t, 300, cfg.Pipeline.DedupeTTL.Seconds())
	assert.Equal(t, "command", cfg.Sessions.HandoffPolicy)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap >= size", func(c *Config) { c.Knowledge.ChunkOverlap = c.Knowledge.ChunkSize }},
		{"zero top k", func(c *Config) { c.Knowledge.TopK = 0 }},
		{"no workers", func(c *Config) { c.Pipeline.AnswerWorkers = 0 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"unknown handoff policy", func(c *Config) { c.Sessions.HandoffPolicy = "magic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultsOnly(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnectorSeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connectors.yaml")

	empty, err := LoadConnectorSeeds(path)
	require.NoError(t, err)
	assert.Empty(t, empty.Connectors)

	content := `connectors:
  - id: loja
    name: loja
    phone_number: "5511911111111"
    authorized_numbers: ["5511900000000"]
    ignore_own_messages: true
  - id: filial
    name: filial
    tenant_id: acme
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	f, err := LoadConnectorSeeds(path)
	require.NoError(t, err)
	require.Len(t, f.Connectors, 2)
	assert.Equal(t, "default", f.Connectors[0].TenantID)
	assert.True(t, f.Connectors[0].IsActive())
	assert.Equal(t, []string{"5511900000000"}, f.Connectors[0].AuthorizedNumbers)
	assert.False(t, f.Connectors[1].IsActive())

	require.NoError(t, SaveConnectorSeeds(path, f))
	again, err := LoadConnectorSeeds(path)
	require.NoError(t, err)
	assert.Equal(t, f.Connectors[1].TenantID, again.Connectors[1].TenantID)

	require.NoError(t, os.WriteFile(path, []byte("connectors:\n  - name: x\n"), 0600))
	_, err = LoadConnectorSeeds(path)
	assert.Error(t, err)
}
