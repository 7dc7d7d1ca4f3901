package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultHostedZone, cfg.HostedZone)
	assert.Equal(t, "devtest.abr.d.kodehyve.com", cfg.AppDomain)
	assert.Equal(t, "dev", cfg.Stage)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "consentstack.db", cfg.DB)
	assert.Equal(t, ZoneSourceStatic, cfg.ZoneSource)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, []string{DefaultHostedZone}, cfg.Zones())
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		EnvHostedZone:  "example.com",
		EnvStage:       "prod",
		EnvZoneSource:  "Route53",
		EnvStaticZones: "example.com, other.org ,",
		EnvParallelism: "8",
	}))
	require.NoError(t, err)

	assert.Equal(t, "devtest.example.com", cfg.AppDomain, "app domain follows the hosted zone")
	assert.Equal(t, ZoneSourceRoute53, cfg.ZoneSource)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, []string{"example.com", "other.org"}, cfg.Zones())
	assert.Equal(t, map[string]string{
		"hostedZone": "example.com",
		"appDomain":  "devtest.example.com",
		"stage":      "prod",
	}, cfg.Params())
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"bad parallelism", map[string]string{EnvParallelism: "many"}, EnvParallelism},
		{"zero parallelism", map[string]string{EnvParallelism: "0"}, "at least 1"},
		{"unknown zone source", map[string]string{EnvZoneSource: "dns"}, "unknown zone source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CONSENTSTACK_STAGE=qa\n"), 0o644))

	t.Setenv(EnvStage, "")
	require.NoError(t, os.Unsetenv(EnvStage))
	t.Setenv(EnvDB, "from-process.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qa", cfg.Stage)
	assert.Equal(t, "from-process.db", cfg.DB, "process environment wins over the file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
