// Package config loads consentstack settings from the environment.
//
// An optional .env file is read first; variables already present in the
// process environment win over the file. CLI flags override both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvHostedZone  = "CONSENTSTACK_HOSTED_ZONE"
	EnvAppDomain   = "CONSENTSTACK_APP_DOMAIN"
	EnvStage       = "CONSENTSTACK_STAGE"
	EnvRegion      = "AWS_REGION"
	EnvDB          = "CONSENTSTACK_DB"
	EnvZoneSource  = "CONSENTSTACK_ZONE_SOURCE"
	EnvStaticZones = "CONSENTSTACK_STATIC_ZONES"
	EnvParallelism = "CONSENTSTACK_PARALLELISM"
)

// Defaults.
const (
	DefaultHostedZone  = "abr.d.kodehyve.com"
	DefaultStage       = "dev"
	DefaultRegion      = "eu-west-1"
	DefaultDB          = "consentstack.db"
	DefaultParallelism = 4
)

// Zone sources.
const (
	ZoneSourceStatic  = "static"
	ZoneSourceRoute53 = "route53"
)

// Config holds the resolved settings.
type Config struct {
	HostedZone  string
	AppDomain   string
	Stage       string
	Region      string
	DB          string
	ZoneSource  string
	StaticZones string
	Parallelism int
}

// Load reads envFile (if it exists) and then the process environment.
// An empty envFile means ".env". A missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		HostedZone:  orDefault(getenv(EnvHostedZone), DefaultHostedZone),
		Stage:       orDefault(getenv(EnvStage), DefaultStage),
		Region:      orDefault(getenv(EnvRegion), DefaultRegion),
		DB:          orDefault(getenv(EnvDB), DefaultDB),
		ZoneSource:  strings.ToLower(orDefault(getenv(EnvZoneSource), ZoneSourceStatic)),
		StaticZones: getenv(EnvStaticZones),
		Parallelism: DefaultParallelism,
	}
	cfg.AppDomain = orDefault(getenv(EnvAppDomain), "devtest."+cfg.HostedZone)

	if v := getenv(EnvParallelism); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvParallelism, err)
		}
		cfg.Parallelism = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.ZoneSource {
	case ZoneSourceStatic, ZoneSourceRoute53:
	default:
		return fmt.Errorf("%s: unknown zone source %q (want %s or %s)",
			EnvZoneSource, c.ZoneSource, ZoneSourceStatic, ZoneSourceRoute53)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("%s: parallelism must be at least 1, got %d", EnvParallelism, c.Parallelism)
	}
	return nil
}

// Params returns the stack parameters injected into the topology.
func (c *Config) Params() map[string]string {
	return map[string]string{
		"hostedZone": c.HostedZone,
		"appDomain":  c.AppDomain,
		"stage":      c.Stage,
	}
}

// Zones returns the names served by the static zone source. With no
// explicit list the configured hosted zone is the only one.
func (c *Config) Zones() []string {
	var out []string
	for _, z := range strings.Split(c.StaticZones, ",") {
		if z = strings.TrimSpace(z); z != "" {
			out = append(out, z)
		}
	}
	if len(out) == 0 {
		out = []string{c.HostedZone}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
