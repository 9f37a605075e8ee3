package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DeviceConfig holds the connection settings for the endpoint's xAPI
type DeviceConfig struct {
	URL                string `yaml:"url"` // e.g. wss://10.0.0.5/ws
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ZoomConfig holds the DTMF codes understood by the Zoom connector
type ZoomConfig struct {
	Mute             string `yaml:"mute"`
	Unmute           string `yaml:"unmute"`
	HideNonVideo     string `yaml:"hide_non_video"`
	MuteMediaTrigger int64  `yaml:"mute_media_trigger"` // bits/sec of incoming video that marks "in meeting"
	BridgeDomain     string `yaml:"bridge_domain"`
}

// MonitorConfig controls the session monitor timing
type MonitorConfig struct {
	InitialDelay    time.Duration `yaml:"initial_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleWindow    time.Duration `yaml:"settle_window"`     // mute events inside this window after call start are ignored while polling
	MaxPollDuration time.Duration `yaml:"max_poll_duration"` // 0 polls until disconnect
	Revision        int           `yaml:"revision"`
}

// WebSocketConfig holds WebSocket-specific configuration
type WebSocketConfig struct {
	WriteTimeout      time.Duration `yaml:"write_timeout"`      // Timeout for writing messages to WebSocket
	ReadTimeout       time.Duration `yaml:"read_timeout"`       // Timeout for reading messages from WebSocket (keepalive)
	PingInterval      time.Duration `yaml:"ping_interval"`      // Interval for sending ping messages
	RequestTimeout    time.Duration `yaml:"request_timeout"`    // Timeout for a single JSON-RPC round trip
	ReconnectInterval time.Duration `yaml:"reconnect_interval"` // Minimum spacing between reconnect attempts
}

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Zoom    ZoomConfig    `yaml:"zoom"`
	Monitor MonitorConfig `yaml:"monitor"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// Optional status/metrics listener, disabled when empty
	StatusAddr string `yaml:"status_addr"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Default returns the configuration used when nothing else is provided
func Default() *Config {
	return &Config{
		Zoom: ZoomConfig{
			Mute:             "1001",
			Unmute:           "12",
			HideNonVideo:     "13",
			MuteMediaTrigger: 700000,
			BridgeDomain:     "zoomcrc.com",
		},
		Monitor: MonitorConfig{
			InitialDelay: 500 * time.Millisecond,
			PollInterval: 500 * time.Millisecond,
			SettleWindow: 5 * time.Second,
			Revision:     2,
		},
		LogLevel:  "info",
		LogFormat: "json",

		WebSocket: WebSocketConfig{
			WriteTimeout:      5 * time.Second,
			ReadTimeout:       3 * time.Minute,
			PingInterval:      60 * time.Second,
			RequestTimeout:    10 * time.Second,
			ReconnectInterval: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file, environment variables and finally command line flags.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("zoom-auto-mute", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	envFile := fs.String("env-file", "", "Load environment variables from this file (existing variables win)")

	var fl Config
	fs.StringVar(&fl.Device.URL, "device-url", "", "xAPI WebSocket URL, e.g. wss://codec.local/ws")
	fs.StringVar(&fl.Device.Username, "username", "", "xAPI username")
	fs.StringVar(&fl.Device.Password, "password", "", "xAPI password")
	fs.BoolVar(&fl.Device.InsecureSkipVerify, "insecure", false, "Skip TLS certificate verification")
	fs.StringVar(&fl.Zoom.BridgeDomain, "bridge-domain", "", "Callback number suffix identifying Zoom bridge calls")
	fs.Int64Var(&fl.Zoom.MuteMediaTrigger, "trigger", 0, "Incoming video rate (bits/sec) that marks the meeting as joined")
	fs.IntVar(&fl.Monitor.Revision, "revision", 0, "Mute relay behaviour revision (1 or 2)")
	fs.StringVar(&fl.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&fl.LogFile, "log-file", "", "Rotating log file path")
	fs.StringVar(&fl.StatusAddr, "status", "", "Status/metrics HTTP address, e.g. 127.0.0.1:9100")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
		}
	}
	cfg.applyEnv()

	// Only flags given explicitly override earlier layers
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device-url":
			cfg.Device.URL = fl.Device.URL
		case "username":
			cfg.Device.Username = fl.Device.Username
		case "password":
			cfg.Device.Password = fl.Device.Password
		case "insecure":
			cfg.Device.InsecureSkipVerify = fl.Device.InsecureSkipVerify
		case "bridge-domain":
			cfg.Zoom.BridgeDomain = fl.Zoom.BridgeDomain
		case "trigger":
			cfg.Zoom.MuteMediaTrigger = fl.Zoom.MuteMediaTrigger
		case "revision":
			cfg.Monitor.Revision = fl.Monitor.Revision
		case "log-level":
			cfg.LogLevel = fl.LogLevel
		case "log-file":
			cfg.LogFile = fl.LogFile
		case "status":
			cfg.StatusAddr = fl.StatusAddr
		}
	})

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if url := os.Getenv("XAPI_URL"); url != "" {
		c.Device.URL = url
	}
	if user := os.Getenv("XAPI_USERNAME"); user != "" {
		c.Device.Username = user
	}
	if pass := os.Getenv("XAPI_PASSWORD"); pass != "" {
		c.Device.Password = pass
	}
	if insecure := os.Getenv("XAPI_INSECURE"); insecure != "" {
		if b, err := strconv.ParseBool(insecure); err == nil {
			c.Device.InsecureSkipVerify = b
		}
	}
	if code, ok := os.LookupEnv("ZOOM_MUTE_CODE"); ok {
		c.Zoom.Mute = code
	}
	if code, ok := os.LookupEnv("ZOOM_UNMUTE_CODE"); ok {
		c.Zoom.Unmute = code
	}
	if code, ok := os.LookupEnv("ZOOM_HIDE_NON_VIDEO_CODE"); ok {
		c.Zoom.HideNonVideo = code
	}
	if trigger := os.Getenv("MUTE_MEDIA_TRIGGER"); trigger != "" {
		if v, err := strconv.ParseInt(trigger, 10, 64); err == nil {
			c.Zoom.MuteMediaTrigger = v
		}
	}
	if domain := os.Getenv("BRIDGE_DOMAIN"); domain != "" {
		c.Zoom.BridgeDomain = domain
	}
	if rev := os.Getenv("MONITOR_REVISION"); rev != "" {
		if v, err := strconv.Atoi(rev); err == nil {
			c.Monitor.Revision = v
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		c.LogFile = file
	}
	if addr := os.Getenv("STATUS_ADDR"); addr != "" {
		c.StatusAddr = addr
	}

	// WebSocket configuration from environment variables (timeout values in seconds)
	if timeout := os.Getenv("WEBSOCKET_WRITE_TIMEOUT"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil {
			c.WebSocket.WriteTimeout = time.Duration(seconds) * time.Second
		}
	}
	if timeout := os.Getenv("WEBSOCKET_READ_TIMEOUT"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil {
			c.WebSocket.ReadTimeout = time.Duration(seconds) * time.Second
		}
	}
	if interval := os.Getenv("WEBSOCKET_PING_INTERVAL"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil {
			c.WebSocket.PingInterval = time.Duration(seconds) * time.Second
		}
	}
}

func (c *Config) Validate() error {
	if c.Device.URL == "" {
		return ErrMissingDeviceURL
	}
	if c.Device.Username == "" {
		return ErrMissingCredentials
	}
	if c.Zoom.BridgeDomain == "" {
		return ErrMissingBridgeDomain
	}
	for name, code := range map[string]string{
		"mute":           c.Zoom.Mute,
		"unmute":         c.Zoom.Unmute,
		"hide_non_video": c.Zoom.HideNonVideo,
	} {
		if !ValidDTMF(code) {
			return fmt.Errorf("zoom.%s %q: %w", name, code, ErrInvalidDTMF)
		}
	}
	if c.Zoom.MuteMediaTrigger <= 0 {
		return ErrInvalidTrigger
	}
	if c.Monitor.PollInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.Monitor.Revision != 1 && c.Monitor.Revision != 2 {
		return ErrInvalidRevision
	}
	return nil
}

// ValidDTMF reports whether code consists only of DTMF characters. The empty
// string is valid and disables the corresponding signal.
func ValidDTMF(code string) bool {
	return strings.Trim(code, "0123456789*#ABCD") == ""
}
