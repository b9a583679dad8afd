package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, c.Storage.Driver)
	assert.Equal(t, DefaultSQLiteDSN, c.Storage.DSN)
	assert.Equal(t, BackendStorage, c.Nonces.Backend)
	assert.Equal(t, 5*time.Minute, c.Nonces.Skew.Std())
	assert.Equal(t, time.Hour, c.Associations.Grace.Std())
	assert.Equal(t, 10*time.Minute, c.State.TTL.Std())
	assert.Equal(t, "socialauth:", c.Redis.Prefix)
	assert.Equal(t, c, Default())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "socialauth.yaml", `
storage:
  driver: postgres
  dsn: postgres://localhost/socialauth
redis:
  url: redis://localhost:6379/0
linker:
  timeout: 2s
  single_provider_link: true
nonces:
  backend: redis
  skew: 90s
associations:
  grace: 30m
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, c.Storage.Driver)
	assert.Equal(t, "postgres://localhost/socialauth", c.Storage.DSN)
	assert.Equal(t, 2*time.Second, c.Linker.Timeout.Std())
	assert.True(t, c.Linker.SingleProviderLink)
	assert.Equal(t, BackendRedis, c.Nonces.Backend)
	assert.Equal(t, 90*time.Second, c.Nonces.Skew.Std())
	assert.Equal(t, 30*time.Minute, c.Associations.Grace.Std())
	assert.Len(t, c.LinkerOptions(), 2)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeFile(t, "socialauth.yaml", "nonces:\n  skew: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "socialauth.yaml", "storage:\n  driver: postgres\n  dsn: postgres://yaml\n")

	t.Setenv("SOCIALAUTH_STORAGE_DSN", "postgres://env")
	t.Setenv("SOCIALAUTH_NONCES_SKEW", "1m")
	t.Setenv("SOCIALAUTH_LINKER_SINGLE_PROVIDER_LINK", "true")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", c.Storage.DSN)
	assert.Equal(t, time.Minute, c.Nonces.Skew.Std())
	assert.True(t, c.Linker.SingleProviderLink)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("SOCIALAUTH_LINKER_TIMEOUT", "fast")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	env := writeFile(t, ".env", "SOCIALAUTH_STORAGE_DRIVER=memory\n")
	t.Cleanup(func() { os.Unsetenv("SOCIALAUTH_STORAGE_DRIVER") })

	c, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, c.Storage.Driver)
	assert.Empty(t, c.Storage.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver, c.Storage.DSN = DriverPostgres, "" }},
		{"mongo without uri", func(c *Config) { c.Storage.Driver = DriverMongo }},
		{"redis without url", func(c *Config) { c.Associations.Backend = BackendRedis }},
		{"unknown nonce backend", func(c *Config) { c.Nonces.Backend = "etcd" }},
		{"negative skew", func(c *Config) { c.Nonces.Skew = Duration(-time.Second) }},
		{"half state keys", func(c *Config) { c.State.HMACKey = "secret" }},
		{"bad key size", func(c *Config) { c.State.EncryptionKey, c.State.HMACKey = "short", "secret" }},
	}

	assert.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestStateManager(t *testing.T) {
	c := Default()
	sm, err := c.StateManager()
	require.NoError(t, err)
	assert.Nil(t, sm)

	c.State.EncryptionKey = "0123456789abcdef0123456789abcdef"
	c.State.HMACKey = "hmac-secret"
	sm, err = c.StateManager()
	require.NoError(t, err)
	require.NotNil(t, sm)
}
