package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Retention controls how long the backend keeps registrations and queued items.
	Retention struct {
		DeviceTimeout   time.Duration `yaml:"device_timeout"`
		SignalTTL       time.Duration `yaml:"signal_ttl"`
		RelayTTL        time.Duration `yaml:"relay_ttl"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"retention"`

	// Backup snapshots the in-memory device registry to disk.
	Backup struct {
		Enabled   bool          `yaml:"enabled"`
		Dir       string        `yaml:"dir"`
		Interval  time.Duration `yaml:"interval"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"backup"`

	Push struct {
		Enabled      bool          `yaml:"enabled"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"push"`

	Monitor struct {
		DeviceID    string  `yaml:"device_id"`
		DeviceName  string  `yaml:"device_name"`
		Mode        string  `yaml:"mode"`
		Sensitivity float64 `yaml:"sensitivity"`
		Volume      float64 `yaml:"volume"`

		ProbeInterval time.Duration `yaml:"probe_interval"` // network attachment sampling
	} `yaml:"monitor"`

	Audio struct {
		SampleRate      int      `yaml:"sample_rate"`
		FrameSamples    int      `yaml:"frame_samples"`
		CaptureQueue    int      `yaml:"capture_queue"`
		PlaybackQueue   int      `yaml:"playback_queue"`
		CaptureCommand  []string `yaml:"capture_command"`
		PlaybackCommand []string `yaml:"playback_command"`
	} `yaml:"audio"`

	Transport struct {
		Port        int           `yaml:"port"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		IOTimeout   time.Duration `yaml:"io_timeout"`
	} `yaml:"transport"`

	Discovery struct {
		ServiceType  string        `yaml:"service_type"`
		Domain       string        `yaml:"domain"`
		StaleTimeout time.Duration `yaml:"stale_timeout"`
	} `yaml:"discovery"`

	Hotspot struct {
		Enabled    bool   `yaml:"enabled"`
		SSIDPrefix string `yaml:"ssid_prefix"`
		Interface  string `yaml:"interface"`
	} `yaml:"hotspot"`

	RelayClient struct {
		Enabled           bool          `yaml:"enabled"`
		URL               string        `yaml:"url"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		ServerTimeout     time.Duration `yaml:"server_timeout"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
		APIKey            string        `yaml:"api_key"`
		Push              bool          `yaml:"push"` // websocket instead of polling
	} `yaml:"relay_client"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		APIKey             string        `yaml:"api_key"`
		RequireDeviceToken bool          `yaml:"require_device_token"`
		JWTSecret          string        `yaml:"jwt_secret"`
		DeviceTokenTTL     time.Duration `yaml:"device_token_ttl"`
		AllowedOrigins     []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Retention
	if c.Retention.DeviceTimeout <= 0 {
		return fmt.Errorf("retention.device_timeout must be > 0")
	}
	if c.Retention.SignalTTL <= 0 {
		return fmt.Errorf("retention.signal_ttl must be > 0")
	}
	if c.Retention.RelayTTL <= 0 {
		return fmt.Errorf("retention.relay_ttl must be > 0")
	}
	if c.Retention.CleanupInterval <= 0 {
		return fmt.Errorf("retention.cleanup_interval must be > 0")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0")
		}
	}

	// Push
	if c.Push.Enabled {
		if c.Push.PingInterval <= 0 {
			return fmt.Errorf("push.ping_interval must be > 0 when push.enabled=true")
		}
		if c.Push.PongTimeout <= c.Push.PingInterval {
			return fmt.Errorf("push.pong_timeout must be > push.ping_interval")
		}
	}

	// Monitor
	if c.Monitor.Mode != "" && c.Monitor.Mode != "child" && c.Monitor.Mode != "parent" {
		return fmt.Errorf("monitor.mode must be child or parent")
	}
	if c.Monitor.Sensitivity < 0 || c.Monitor.Sensitivity > 1 {
		return fmt.Errorf("monitor.sensitivity must be within [0,1]")
	}
	if c.Monitor.Volume < 0 || c.Monitor.Volume > 1 {
		return fmt.Errorf("monitor.volume must be within [0,1]")
	}

	// Audio
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("audio.frame_samples must be > 0")
	}
	if c.Audio.CaptureQueue <= 0 || c.Audio.PlaybackQueue <= 0 {
		return fmt.Errorf("audio.capture_queue and audio.playback_queue must be > 0")
	}

	// Transport
	if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("transport.port must be within 1..65535")
	}
	if c.Transport.IOTimeout <= 0 {
		return fmt.Errorf("transport.io_timeout must be > 0")
	}

	// Discovery
	if c.Discovery.ServiceType == "" {
		return fmt.Errorf("discovery.service_type must not be empty")
	}
	if c.Discovery.StaleTimeout <= 0 {
		return fmt.Errorf("discovery.stale_timeout must be > 0")
	}

	// Relay client
	if c.RelayClient.Enabled {
		if c.RelayClient.URL == "" {
			return fmt.Errorf("relay_client.url must not be empty when relay_client.enabled=true")
		}
		if c.RelayClient.HeartbeatInterval <= 0 {
			return fmt.Errorf("relay_client.heartbeat_interval must be > 0")
		}
		// A single lost heartbeat must not expire the registration.
		if c.RelayClient.HeartbeatInterval >= c.RelayClient.ServerTimeout/2 {
			return fmt.Errorf("relay_client.heartbeat_interval must be < relay_client.server_timeout/2")
		}
		if c.RelayClient.PollInterval <= 0 {
			return fmt.Errorf("relay_client.poll_interval must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.RequireDeviceToken {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.require_device_token=true")
		}
		if c.Auth.DeviceTokenTTL <= 0 {
			return fmt.Errorf("auth.device_token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Retention.DeviceTimeout = 300 * time.Second
	cfg.Retention.SignalTTL = 600 * time.Second
	cfg.Retention.RelayTTL = 30 * time.Second
	cfg.Retention.CleanupInterval = 30 * time.Second

	cfg.Backup.Enabled = false
	cfg.Backup.Dir = "data/backups"
	cfg.Backup.Interval = time.Minute
	cfg.Backup.Retention = 24 * time.Hour

	cfg.Push.Enabled = true
	cfg.Push.PingInterval = 30 * time.Second
	cfg.Push.PongTimeout = 60 * time.Second
	cfg.Push.WriteTimeout = 10 * time.Second

	cfg.Monitor.Mode = "child"
	cfg.Monitor.Sensitivity = 0.5
	cfg.Monitor.Volume = 0.8
	cfg.Monitor.ProbeInterval = 5 * time.Second

	cfg.Audio.SampleRate = 44100
	cfg.Audio.FrameSamples = 2048
	cfg.Audio.CaptureQueue = 16
	cfg.Audio.PlaybackQueue = 32
	cfg.Audio.CaptureCommand = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "44100"}
	cfg.Audio.PlaybackCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "44100"}

	cfg.Transport.Port = 8888
	cfg.Transport.DialTimeout = 5 * time.Second
	cfg.Transport.IOTimeout = 100 * time.Millisecond

	cfg.Discovery.ServiceType = "_babaphone._tcp"
	cfg.Discovery.Domain = "local."
	cfg.Discovery.StaleTimeout = 30 * time.Second

	cfg.Hotspot.Enabled = true
	cfg.Hotspot.SSIDPrefix = "BabaPhone-"
	cfg.Hotspot.Interface = "wlan0"

	cfg.RelayClient.Enabled = false
	cfg.RelayClient.URL = "http://localhost:8080"
	cfg.RelayClient.HeartbeatInterval = 60 * time.Second
	cfg.RelayClient.ServerTimeout = 300 * time.Second
	cfg.RelayClient.PollInterval = 500 * time.Millisecond
	cfg.RelayClient.RequestTimeout = 10 * time.Second
	cfg.RelayClient.Push = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "babaphone-relay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.RequireDeviceToken = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.DeviceTokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("BABAPHONE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("BABAPHONE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("BABAPHONE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("BABAPHONE_API_KEY"); key != "" {
		c.Auth.APIKey = key
	}
	if addr := os.Getenv("BABAPHONE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if url := os.Getenv("BABAPHONE_BACKEND_URL"); url != "" {
		c.RelayClient.Enabled = true
		c.RelayClient.URL = url
	}
	if key := os.Getenv("BABAPHONE_RELAY_API_KEY"); key != "" {
		c.RelayClient.APIKey = key
	}
	if name := os.Getenv("BABAPHONE_DEVICE_NAME"); name != "" {
		c.Monitor.DeviceName = name
	}
}
