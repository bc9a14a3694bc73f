package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "graceful", cfg.Index.Mode)
	assert.Equal(t, "lru", cfg.Cache.Type)
	assert.True(t, cfg.Similarity.Enabled)
}

func TestLoadServerConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  readTimeout: 5s
index:
  mode: strict
policies:
  dir: /etc/prp/policies
  watch: false
cache:
  type: redis
  ttl: 1m
  redis:
    host: redis.internal
    port: 6380
variables:
  tenant: acme
`), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "strict", cfg.Index.Mode)
	assert.Equal(t, "/etc/prp/policies", cfg.Policies.Dir)
	assert.False(t, cfg.Policies.Watch)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "redis.internal", cfg.Cache.Redis.Host)
	assert.Equal(t, 6380, cfg.Cache.Redis.Port)
	assert.Equal(t, "acme", cfg.Variables["tenant"])
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"bad mode":       "index:\n  mode: lenient\n",
		"bad cache":      "cache:\n  type: memcached\n",
		"bad port":       "server:\n  port: -1\n",
		"db without dsn": "database:\n  enabled: true\n",
		"auth unsecured": "auth:\n  enabled: true\n",
		"malformed yaml": "server: [\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadServerConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadServerConfig_MissingFile(t *testing.T) {
	_, err := LoadServerConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}
