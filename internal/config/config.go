// SPDX-License-Identifier: MIT

// Package config resolves runtime configuration with the precedence
// ENV > YAML file > built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// App is the fully resolved runtime configuration of the daemon.
type App struct {
	LogLevel string

	// ListenAddr is where the public API and websocket endpoint bind.
	ListenAddr string
	// MetricsAddr is where the Prometheus endpoint binds. Empty disables it.
	MetricsAddr string

	Redis     Redis
	Events    Events
	Realtime  Realtime
	Admission Admission
	Jobs      Jobs
	CalDAV    CalDAV
	Imports   Imports
	Rate      Rate
	Tracing   Tracing
	Authority Authority

	// APIToken guards service-to-service endpoints. Empty fails closed.
	APIToken string
	// SessionSecret signs short-lived websocket session tokens.
	SessionSecret string

	// DataDir holds the completion index database and imported media.
	DataDir string
}

// Redis configures the shared pub/sub and admission medium. An empty Addr
// selects the in-process loopback medium (single-node mode).
type Redis struct {
	Addr     string
	Password string
	DB       int
	// TopicPrefix namespaces every topic and key so unrelated tenants on a
	// shared Redis cannot collide.
	TopicPrefix string
}

// Events configures the in-process bus.
type Events struct {
	// Buffer is the per-subscription queue depth before events are dropped.
	Buffer int
}

// Realtime configures websocket sessions.
type Realtime struct {
	// SendBuffer is the per-connection outbound frame queue depth.
	SendBuffer int
	// Origins lists allowed websocket origins. Empty allows same-origin only.
	Origins []string
	// ControlRate and ControlBurst bound client control frames per connection.
	ControlRate  float64
	ControlBurst int
}

// Admission configures the duplicate-work gate.
type Admission struct {
	// TTL bounds the lifetime of in-flight records so a crashed worker
	// cannot block an identity forever.
	TTL time.Duration
}

// Jobs configures the background runner.
type Jobs struct {
	Workers   int
	QueueSize int
}

// CalDAV configures the scheduled calendar sync producer.
type CalDAV struct {
	// Schedule is a cron expression (robfig/cron syntax, "@every 15m" works).
	Schedule string
	// Sources maps household id to its calendar URL.
	Sources map[string]string
}

// Imports configures outbound fetches performed by import jobs.
type Imports struct {
	AllowPrivate bool
	MaxBodyBytes int64
	FetchTimeout time.Duration
}

// Rate bounds write requests per client IP on the admission endpoints.
type Rate struct {
	Requests int
	Window   time.Duration
}

// Tracing configures the OTLP trace exporter.
type Tracing struct {
	Enabled    bool
	Endpoint   string
	Protocol   string // "grpc" or "http"
	SampleRate float64
	Insecure   bool
}

// Authority locates the main application's internal actor endpoint, consulted
// when a policy change forces sessions to re-resolve the actor. An empty
// BaseURL keeps sessions on their token-derived context.
type Authority struct {
	BaseURL string
	Timeout time.Duration
}

const (
	defaultListenAddr   = ":8080"
	defaultTopicPrefix  = "larder"
	defaultDataDir      = "/var/lib/larder"
	defaultAdmissionTTL = 15 * time.Minute
	defaultEventBuffer  = 64
	defaultSendBuffer   = 32
	defaultJobWorkers   = 4
	defaultJobQueue     = 64
	defaultMaxBody      = int64(8 << 20)
	defaultFetchTimeout = 20 * time.Second
	defaultSchedule     = "@every 15m"
	defaultRateRequests = 60
	defaultRateWindow   = time.Minute
	defaultControlRate  = 10.0
	defaultControlBurst = 20

	defaultAuthorityTimeout = 3 * time.Second
)

// Defaults returns the built-in configuration.
func Defaults() App {
	return App{
		LogLevel:    "info",
		ListenAddr:  defaultListenAddr,
		MetricsAddr: "",
		Redis: Redis{
			TopicPrefix: defaultTopicPrefix,
		},
		Events: Events{Buffer: defaultEventBuffer},
		Realtime: Realtime{
			SendBuffer:   defaultSendBuffer,
			ControlRate:  defaultControlRate,
			ControlBurst: defaultControlBurst,
		},
		Admission: Admission{TTL: defaultAdmissionTTL},
		Jobs:      Jobs{Workers: defaultJobWorkers, QueueSize: defaultJobQueue},
		CalDAV:    CalDAV{Schedule: defaultSchedule},
		Imports: Imports{
			MaxBodyBytes: defaultMaxBody,
			FetchTimeout: defaultFetchTimeout,
		},
		Rate: Rate{Requests: defaultRateRequests, Window: defaultRateWindow},
		Tracing: Tracing{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
		Authority: Authority{Timeout: defaultAuthorityTimeout},
		DataDir:   defaultDataDir,
	}
}

// applyEnv overlays LARDER_* environment variables onto cfg. Each lookup
// falls back to the value already present, which is how the ENV > file >
// defaults precedence is realised.
func applyEnv(cfg App) App {
	cfg.LogLevel = ParseString("LARDER_LOG_LEVEL", cfg.LogLevel)
	cfg.ListenAddr = ParseString("LARDER_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = ParseString("LARDER_METRICS_LISTEN", cfg.MetricsAddr)

	cfg.Redis.Addr = ParseString("LARDER_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("LARDER_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("LARDER_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TopicPrefix = ParseString("LARDER_TOPIC_PREFIX", cfg.Redis.TopicPrefix)

	cfg.Events.Buffer = ParseInt("LARDER_EVENT_BUFFER", cfg.Events.Buffer)

	cfg.Realtime.SendBuffer = ParseInt("LARDER_WS_SEND_BUFFER", cfg.Realtime.SendBuffer)
	cfg.Realtime.Origins = ParseStringSlice("LARDER_WS_ORIGINS", cfg.Realtime.Origins)
	cfg.Realtime.ControlRate = ParseFloat("LARDER_WS_CONTROL_RATE", cfg.Realtime.ControlRate)
	cfg.Realtime.ControlBurst = ParseInt("LARDER_WS_CONTROL_BURST", cfg.Realtime.ControlBurst)

	cfg.Admission.TTL = ParseDuration("LARDER_ADMISSION_TTL", cfg.Admission.TTL)

	cfg.Jobs.Workers = ParseInt("LARDER_JOB_WORKERS", cfg.Jobs.Workers)
	cfg.Jobs.QueueSize = ParseInt("LARDER_JOB_QUEUE", cfg.Jobs.QueueSize)

	cfg.CalDAV.Schedule = ParseString("LARDER_CALDAV_SCHEDULE", cfg.CalDAV.Schedule)
	cfg.CalDAV.Sources = ParseStringMap("LARDER_CALDAV_SOURCES", cfg.CalDAV.Sources)

	cfg.Imports.AllowPrivate = ParseBool("LARDER_IMPORT_ALLOW_PRIVATE", cfg.Imports.AllowPrivate)
	cfg.Imports.MaxBodyBytes = int64(ParseInt("LARDER_IMPORT_MAX_BODY", int(cfg.Imports.MaxBodyBytes)))
	cfg.Imports.FetchTimeout = ParseDuration("LARDER_IMPORT_FETCH_TIMEOUT", cfg.Imports.FetchTimeout)

	cfg.Rate.Requests = ParseInt("LARDER_RATE_REQUESTS", cfg.Rate.Requests)
	cfg.Rate.Window = ParseDuration("LARDER_RATE_WINDOW", cfg.Rate.Window)

	cfg.Tracing.Enabled = ParseBool("LARDER_TRACE_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = ParseString("LARDER_TRACE_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Protocol = ParseString("LARDER_TRACE_PROTOCOL", cfg.Tracing.Protocol)
	cfg.Tracing.SampleRate = ParseFloat("LARDER_TRACE_SAMPLE_RATE", cfg.Tracing.SampleRate)
	cfg.Tracing.Insecure = ParseBool("LARDER_TRACE_INSECURE", cfg.Tracing.Insecure)

	cfg.Authority.BaseURL = ParseString("LARDER_AUTHORITY_URL", cfg.Authority.BaseURL)
	cfg.Authority.Timeout = ParseDuration("LARDER_AUTHORITY_TIMEOUT", cfg.Authority.Timeout)

	cfg.APIToken = ParseString("LARDER_API_TOKEN", cfg.APIToken)
	cfg.SessionSecret = ParseString("LARDER_SESSION_SECRET", cfg.SessionSecret)

	cfg.DataDir = ParseString("LARDER_DATA_DIR", cfg.DataDir)

	return cfg
}

var topicPrefixRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate rejects configurations the daemon cannot run with.
func (c App) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if !topicPrefixRe.MatchString(c.Redis.TopicPrefix) {
		return fmt.Errorf("topic prefix %q must match %s", c.Redis.TopicPrefix, topicPrefixRe.String())
	}
	if c.Events.Buffer < 1 {
		return fmt.Errorf("event buffer must be at least 1, got %d", c.Events.Buffer)
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("websocket send buffer must be at least 1, got %d", c.Realtime.SendBuffer)
	}
	if c.Admission.TTL < time.Minute {
		return fmt.Errorf("admission ttl %s is below the 1m floor", c.Admission.TTL)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("job workers must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("job queue size must be at least 1, got %d", c.Jobs.QueueSize)
	}
	if c.Imports.MaxBodyBytes < 1024 {
		return fmt.Errorf("import body cap %d is below the 1KiB floor", c.Imports.MaxBodyBytes)
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("tracing protocol %q must be grpc or http", c.Tracing.Protocol)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate %v must be within [0,1]", c.Tracing.SampleRate)
	}
	if c.Authority.BaseURL != "" {
		u, err := url.Parse(c.Authority.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("authority url %q must be an absolute http(s) URL", c.Authority.BaseURL)
		}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	return nil
}

// IndexPath is the completion index database location under DataDir.
func (c App) IndexPath() string {
	return filepath.Join(c.DataDir, "admission.sqlite")
}

// MediaDir is where import jobs store fetched media under DataDir.
func (c App) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}
