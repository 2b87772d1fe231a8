package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMinPoolSize   = 1
	DefaultCheckAfter    = 10 * time.Second
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeMethod   = "GET"
	DefaultProbePath     = "/"

	defaultServerPort    = 8080
	defaultServerTimeout = 60 * time.Second
	defaultAdminTimeout  = 5 * time.Second
	defaultRateLimitTTL  = 10 * time.Minute
)

type Config struct {
	Name        string            `json:"name" yaml:"name" toml:"name" validate:"required"`
	Version     string            `json:"version" yaml:"version" toml:"version"`
	Debug       bool              `json:"debug" yaml:"debug" toml:"debug"`
	Log         LogConfig         `json:"log" yaml:"log" toml:"log"`
	Server      ServerConfig      `json:"server" yaml:"server" toml:"server"`
	Admin       AdminConfig       `json:"admin" yaml:"admin" toml:"admin"`
	Features    FeaturesConfig    `json:"features" yaml:"features" toml:"features"`
	Middlewares MiddlewaresConfig `json:"middlewares" yaml:"middlewares" toml:"middlewares"`
	Transport   TransportConfig   `json:"transport" yaml:"transport" toml:"transport"`
	Proxies     []ProxyConfig     `json:"proxies" yaml:"proxies" toml:"proxies" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"omitempty,oneof=json console"`
}

type ServerConfig struct {
	Port    int           `json:"port" yaml:"port" toml:"port" validate:"min=1,max=65535"`
	Timeout Duration      `json:"timeout" yaml:"timeout" toml:"timeout"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Provider string `json:"provider" yaml:"provider" toml:"provider" validate:"omitempty,oneof=prometheus victoria"`
}

type AdminConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Port    int      `json:"port" yaml:"port" toml:"port" validate:"min=0,max=65535"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type FeaturesConfig struct {
	RateLimit RateLimitConfig `json:"ratelimit" yaml:"ratelimit" toml:"ratelimit"`
}

type MiddlewaresConfig struct {
	Logger     LoggerMiddlewareConfig     `json:"logger" yaml:"logger" toml:"logger"`
	Recoverer  RecovererMiddlewareConfig  `json:"recoverer" yaml:"recoverer" toml:"recoverer"`
	Compressor CompressorMiddlewareConfig `json:"compressor" yaml:"compressor" toml:"compressor"`
}

type LoggerMiddlewareConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	LogBody bool `json:"log_body" yaml:"log_body" toml:"log_body"`
}

type RecovererMiddlewareConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	IncludeStack bool `json:"include_stack" yaml:"include_stack" toml:"include_stack"`
}

type CompressorMiddlewareConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Alg     string `json:"alg" yaml:"alg" toml:"alg" validate:"omitempty,oneof=gzip deflate"`
}

type RateLimitConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Rate    float64  `json:"rate" yaml:"rate" toml:"rate" validate:"min=0"`
	Burst   int      `json:"burst" yaml:"burst" toml:"burst" validate:"min=0"`
	TTL     Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
}

type TransportConfig struct {
	MaxIdleConns        int      `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns" validate:"min=0"`
	MaxIdleConnsPerHost int      `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" toml:"max_idle_conns_per_host" validate:"min=0"`
	IdleConnTimeout     Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout" toml:"idle_conn_timeout"`
	RequestTimeout      Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
}

// ProxyConfig binds an inbound path prefix to a remote.
type ProxyConfig struct {
	Name        string       `json:"name" yaml:"name" toml:"name" validate:"required"`
	Path        string       `json:"path" yaml:"path" toml:"path" validate:"required,startswith=/"`
	StripPrefix bool         `json:"strip_prefix" yaml:"strip_prefix" toml:"strip_prefix"`
	Remote      RemoteConfig `json:"remote" yaml:"remote" toml:"remote"`
}

type RemoteConfig struct {
	MinPoolSize int              `json:"min_pool_size" yaml:"min_pool_size" toml:"min_pool_size" validate:"min=0"`
	BreakOn     []FailureClass   `json:"break_on" yaml:"break_on" toml:"break_on" validate:"dive,oneof=http_4xx http_5xx network_error unhandled_exception"`
	CheckAfter  Duration         `json:"check_after" yaml:"check_after" toml:"check_after"`
	Probe       *ProbeConfig     `json:"probe,omitempty" yaml:"probe" toml:"probe"`
	Liveness    LivenessConfig   `json:"liveness" yaml:"liveness" toml:"liveness"`
	Endpoints   []EndpointConfig `json:"endpoints" yaml:"endpoints" toml:"endpoints" validate:"required,min=1,dive"`
}

type EndpointConfig struct {
	URL      string         `json:"url" yaml:"url" toml:"url" validate:"required,url"`
	Pools    []PoolName     `json:"pools" yaml:"pools" toml:"pools" validate:"dive,oneof=default fallback"`
	Liveness LivenessConfig `json:"liveness" yaml:"liveness" toml:"liveness"`
}

type ProbeConfig struct {
	Method   string            `json:"method" yaml:"method" toml:"method"`
	Path     string            `json:"path" yaml:"path" toml:"path"`
	Headers  map[string]string `json:"headers" yaml:"headers" toml:"headers"`
	Interval Duration          `json:"interval" yaml:"interval" toml:"interval"`
	Timeout  Duration          `json:"timeout" yaml:"timeout" toml:"timeout"`
	Verify   *bool             `json:"verify,omitempty" yaml:"verify" toml:"verify"`
}

// LoadConfig reads, defaults and validates the configuration file at path.
// The format is chosen by file extension.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err = json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse json: %w", err)
		}
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse yaml: %w", err)
		}
	case ".toml":
		if err = toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse toml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unknown config file extension: %q", filepath.Ext(path))
	}

	cfg.ApplyDefaults()

	if err = cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}

	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = Duration(defaultServerTimeout)
	}

	if cfg.Admin.Timeout == 0 {
		cfg.Admin.Timeout = Duration(defaultAdminTimeout)
	}

	if cfg.Features.RateLimit.TTL == 0 {
		cfg.Features.RateLimit.TTL = Duration(defaultRateLimitTTL)
	}

	for i := range cfg.Proxies {
		cfg.Proxies[i].Remote = cfg.Proxies[i].Remote.WithDefaults()
	}
}

// WithDefaults returns a copy of rc with every unset field filled in. A nil BreakOn means the
// default classes; an empty, non-nil BreakOn disables circuit breaking.
func (rc RemoteConfig) WithDefaults() RemoteConfig {
	if rc.MinPoolSize == 0 {
		rc.MinPoolSize = DefaultMinPoolSize
	}

	if rc.BreakOn == nil {
		rc.BreakOn = DefaultBreakOn()
	}

	if rc.CheckAfter == 0 {
		rc.CheckAfter = Duration(DefaultCheckAfter)
	}

	if rc.Probe != nil {
		probe := *rc.Probe

		if probe.Method == "" {
			probe.Method = DefaultProbeMethod
		}

		if probe.Path == "" {
			probe.Path = DefaultProbePath
		}

		if probe.Interval == 0 {
			probe.Interval = Duration(DefaultProbeInterval)
		}

		if probe.Timeout == 0 {
			probe.Timeout = Duration(DefaultProbeTimeout)
		}

		rc.Probe = &probe
	}

	endpoints := make([]EndpointConfig, len(rc.Endpoints))
	for i, ec := range rc.Endpoints {
		if len(ec.Pools) == 0 {
			ec.Pools = []PoolName{PoolDefault}
		}

		endpoints[i] = ec
	}

	rc.Endpoints = endpoints

	return rc
}

// Validate checks the struct tags first and then the rules that span several fields.
// Every problem found is reported.
//
//nolint:gocognit // flat list of independent checks
func (cfg *Config) Validate() error {
	var errs []error

	if err := newValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}

		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s failed on '%s' rule", fieldPath(fe.Namespace()), fe.Tag()))
		}
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 {
			errs = append(errs, errors.New("admin.port must be between 1 and 65535"))
		} else if cfg.Admin.Port == cfg.Server.Port {
			errs = append(errs, errors.New("admin.port must differ from server.port"))
		}
	}

	if rl := cfg.Features.RateLimit; rl.Enabled && (rl.Rate <= 0 || rl.Burst <= 0) {
		errs = append(errs, errors.New("features.ratelimit.rate and burst must be > 0"))
	}

	var (
		names = make(map[string]struct{}, len(cfg.Proxies))
		paths = make(map[string]struct{}, len(cfg.Proxies))
	)

	for i, p := range cfg.Proxies {
		prefix := fmt.Sprintf("proxies[%d]", i)

		if _, ok := names[p.Name]; ok && p.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", prefix, p.Name))
		}
		names[p.Name] = struct{}{}

		if _, ok := paths[p.Path]; ok && p.Path != "" {
			errs = append(errs, fmt.Errorf("%s.path %q is duplicated", prefix, p.Path))
		}
		paths[p.Path] = struct{}{}

		errs = append(errs, p.Remote.validate(prefix+".remote")...)
	}

	return errors.Join(errs...)
}

func (rc RemoteConfig) validate(prefix string) []error {
	var errs []error

	if rc.CheckAfter < 0 {
		errs = append(errs, fmt.Errorf("%s.check_after must be >= 0", prefix))
	}

	if err := rc.Liveness.validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s.liveness: %w", prefix, err))
	}

	if rc.Probe != nil {
		if rc.Probe.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%s.probe.interval must be > 0", prefix))
		}

		if rc.Probe.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s.probe.timeout must be > 0", prefix))
		}
	}

	seen := make(map[string]struct{}, len(rc.Endpoints))

	for j, ec := range rc.Endpoints {
		epPrefix := fmt.Sprintf("%s.endpoints[%d]", prefix, j)

		normalized, err := NormalizeURL(ec.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.url: %w", epPrefix, err))
		} else {
			if _, ok := seen[normalized]; ok {
				errs = append(errs, fmt.Errorf("%s.url %q is duplicated", epPrefix, normalized))
			}
			seen[normalized] = struct{}{}
		}

		if err = ec.Liveness.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s.liveness: %w", epPrefix, err))
		}
	}

	return errs
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// fieldPath turns "Config.proxies[0].remote.endpoints[1].url" into "proxies[0].remote.endpoints[1].url".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = slices.Delete(parts, 0, 1)
	}

	return strings.Join(parts, ".")
}
