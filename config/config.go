package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Database struct {
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DB_DSN" envDefault:"uptimesync.sqlite"`
	}

	Regions struct {
		Channel         string `env:"REGION_CHANNEL" envDefault:"log"`
		Assignments     string `env:"UPTIME_REGIONS" envDefault:"default:active"`
		Endpoints       string `env:"REGION_ENDPOINTS"`
		PushTimeoutSecs int    `env:"REGION_PUSH_TIMEOUT_SECS" envDefault:"10"`
	}

	PubSub struct {
		ProjectID     string `env:"PUBSUB_PROJECT_ID"`
		ConfigTopic   string `env:"UPTIME_CONFIG_TOPIC" envDefault:"uptime-configs"`
		RemovalTopic  string `env:"UPTIME_REMOVAL_TOPIC" envDefault:"uptime-config-removals"`
		CredsJSONPath string `env:"PUBSUB_CREDENTIALS_FILE"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
	}

	Tasks struct {
		Workers    int `env:"TASK_WORKERS" envDefault:"4"`
		BufferSize int `env:"TASK_BUFFER_SIZE" envDefault:"256"`
	}

	Scans struct {
		RepairSchedule string `env:"REPAIR_SCHEDULE" envDefault:"@every 1m"`
		BrokenSchedule string `env:"BROKEN_SCHEDULE" envDefault:"@every 1h"`
		BatchSize      int    `env:"SCAN_BATCH_SIZE" envDefault:"100"`
	}

	log       *zap.Logger
	creds     map[string]string
	regions   []RegionAssignment
	endpoints map[string]string
}

// RegionAssignment is one entry of UPTIME_REGIONS.
type RegionAssignment struct {
	Slug string
	Mode string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	// A missing .env file is fine, the process environment wins anyway.
	_ = godotenv.Load()

	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Panic(err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "development" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	if cfg.regions, err = ParseRegionAssignments(cfg.Regions.Assignments); err != nil {
		cfg.log.Sugar().Panic(err)
	}
	if cfg.endpoints, err = ParseRegionEndpoints(cfg.Regions.Endpoints); err != nil {
		cfg.log.Sugar().Panic(err)
	}

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) GetRegions() []RegionAssignment {
	return cfg.regions
}

func (cfg *Config) GetRegionEndpoints() map[string]string {
	return cfg.endpoints
}

func (cfg *Config) PushTimeout() time.Duration {
	return time.Duration(cfg.Regions.PushTimeoutSecs) * time.Second
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}

// ParseRegionAssignments parses "slug:mode,slug:mode". A bare slug is assigned in active mode.
func ParseRegionAssignments(s string) ([]RegionAssignment, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("UPTIME_REGIONS envvar must list at least one region -- us-east:active,eu-west:shadow")
	}

	seen := make(map[string]bool)
	result := make([]RegionAssignment, 0)
	for _, entry := range strings.Split(s, ",") {
		slug, mode, found := strings.Cut(strings.TrimSpace(entry), ":")
		slug = strings.TrimSpace(slug)
		mode = strings.TrimSpace(mode)
		if !found {
			mode = "active"
		}
		if slug == "" {
			return nil, fmt.Errorf("failed to parse '%s', region slug is empty", entry)
		}
		if mode != "active" && mode != "shadow" {
			return nil, fmt.Errorf("failed to parse '%s', region mode must be active or shadow", entry)
		}
		if seen[slug] {
			return nil, fmt.Errorf("region '%s' is listed more than once", slug)
		}
		seen[slug] = true
		result = append(result, RegionAssignment{Slug: slug, Mode: mode})
	}
	return result, nil
}

// ParseRegionEndpoints parses "slug=url,slug=url".
func ParseRegionEndpoints(s string) (map[string]string, error) {
	result := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return result, nil
	}

	for _, entry := range strings.Split(s, ",") {
		slug, url, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found || slug == "" || url == "" {
			return nil, fmt.Errorf("failed to parse '%s', each endpoint should look like slug=url -- us-east=https://checker.us-east.internal", entry)
		}
		result[strings.TrimSpace(slug)] = strings.TrimRight(strings.TrimSpace(url), "/")
	}
	return result, nil
}

// NewStatic builds a Config without reading the environment, for tests and tools.
func NewStatic(creds map[string]string, regions []RegionAssignment) *Config {
	cfg := &Config{creds: creds, regions: regions, endpoints: map[string]string{}}
	cfg.Regions.PushTimeoutSecs = 10
	cfg.Tasks.Workers = 1
	cfg.Tasks.BufferSize = 16
	cfg.Scans.BatchSize = 100
	return cfg
}
