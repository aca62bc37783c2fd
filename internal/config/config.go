package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gpslink/internal/transport"
)

type Config struct {
	Link       LinkConfig       `yaml:"link"`
	GPS        GPSConfig        `yaml:"gps"`
	Location   LocationConfig   `yaml:"location"`
	Capability CapabilityConfig `yaml:"capability"`
	Store      StoreConfig      `yaml:"store"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type LinkConfig struct {
	// Address is rfcomm://MAC[/channel], serial://PATH[?baud=N], tcp://host:port
	// or a bare Bluetooth MAC.
	Address        string        `yaml:"address" validate:"required"`
	ReadChunkBytes int           `yaml:"read_chunk_bytes" validate:"gte=0,lte=65536"`
	MaxLineBytes   int           `yaml:"max_line_bytes" validate:"gte=0,lte=16777216"`
	AppendNewline  *bool         `yaml:"append_newline"`
	RequestToken   string        `yaml:"request_token"`
	DialTimeout    time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	CloseTimeout   time.Duration `yaml:"close_timeout" validate:"gte=0"`
	// RecordPath, when set, receives a transcript of the raw link traffic.
	RecordPath     string        `yaml:"record_path"`
}

// AppendsNewline reports the effective delimiter policy for operator commands.
func (c LinkConfig) AppendsNewline() bool {
	return c.AppendNewline == nil || *c.AppendNewline
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`

	// Source is "nmea", "gpsd" or "static".
	Source   string `yaml:"source" validate:"omitempty,oneof=nmea gpsd static"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud" validate:"gte=0"`
	GPSDAddr string `yaml:"gpsd_addr" validate:"omitempty,hostname_port"`

	StaticLatDeg   float64       `yaml:"static_lat_deg" validate:"gte=-90,lte=90"`
	StaticLonDeg   float64       `yaml:"static_lon_deg" validate:"gte=-180,lte=180"`
	StaticInterval time.Duration `yaml:"static_interval" validate:"gte=0"`
}

type LocationConfig struct {
	Enable      *bool         `yaml:"enable"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
}

// Enabled reports whether periodic location reports are sent.
func (c LocationConfig) Enabled() bool {
	return c.Enable == nil || *c.Enable
}

type CapabilityConfig struct {
	RadioGPIOChip  string `yaml:"radio_gpio_chip"`
	RadioGPIOLine  string `yaml:"radio_gpio_line"`
	LocationDevice string `yaml:"location_device"`
}

type StoreConfig struct {
	Enable      bool          `yaml:"enable"`
	Path        string        `yaml:"path"`
	Keep        int           `yaml:"keep" validate:"gte=0"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
	// LineBuffer is the number of inbound lines kept for /api/lines.
	LineBuffer int `yaml:"line_buffer" validate:"gte=0,lte=100000"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

var validate = validator.New()

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, unknownFieldsError(err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills in defaults and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Link.Address = strings.TrimSpace(cfg.Link.Address)
	if cfg.Link.Address == "" {
		return fmt.Errorf("link.address is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return fieldError(err)
	}
	if _, err := transport.ParseAddress(cfg.Link.Address); err != nil {
		return fmt.Errorf("link.address: %w", err)
	}

	if cfg.Link.ReadChunkBytes == 0 {
		cfg.Link.ReadChunkBytes = 1024
	}
	if cfg.Link.MaxLineBytes == 0 {
		cfg.Link.MaxLineBytes = 64 * 1024
	}
	if strings.ContainsAny(cfg.Link.RequestToken, "\r\n") {
		return fmt.Errorf("link.request_token must not contain line breaks")
	}
	if cfg.Link.RequestToken == "" {
		cfg.Link.RequestToken = "GET_LOCATION"
	}
	if cfg.Link.DialTimeout == 0 {
		cfg.Link.DialTimeout = 10 * time.Second
	}
	if cfg.Link.CloseTimeout == 0 {
		cfg.Link.CloseTimeout = 2 * time.Second
	}

	if cfg.GPS.Enable {
		if cfg.GPS.Source == "" {
			cfg.GPS.Source = "nmea"
		}
		switch cfg.GPS.Source {
		case "nmea":
			if cfg.GPS.Baud == 0 {
				cfg.GPS.Baud = 9600
			}
		case "gpsd":
			if cfg.GPS.GPSDAddr == "" {
				cfg.GPS.GPSDAddr = "127.0.0.1:2947"
			}
		case "static":
			if cfg.GPS.StaticInterval == 0 {
				cfg.GPS.StaticInterval = time.Second
			}
		}
	}

	if cfg.Location.MinInterval == 0 {
		cfg.Location.MinInterval = time.Second
	}

	cfg.Capability.RadioGPIOChip = strings.TrimSpace(cfg.Capability.RadioGPIOChip)
	cfg.Capability.RadioGPIOLine = strings.TrimSpace(cfg.Capability.RadioGPIOLine)
	if cfg.Capability.RadioGPIOLine != "" && cfg.Capability.RadioGPIOChip == "" {
		cfg.Capability.RadioGPIOChip = "gpiochip0"
	}
	if cfg.Capability.RadioGPIOChip != "" && cfg.Capability.RadioGPIOLine == "" {
		return fmt.Errorf("capability.radio_gpio_line is required when capability.radio_gpio_chip is set")
	}

	if cfg.Store.Enable {
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return fmt.Errorf("store.path is required when store.enable is true")
		}
		if cfg.Store.Keep == 0 {
			cfg.Store.Keep = 1000
		}
		if cfg.Store.MinInterval == 0 {
			cfg.Store.MinInterval = 10 * time.Second
		}
	}

	if cfg.Web.Enable && strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Web.LineBuffer == 0 {
		cfg.Web.LineBuffer = 2000
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	return nil
}

// unknownFieldsError condenses yaml.v3 strict-mode errors into one line.
func unknownFieldsError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	var fields []string
	for _, msg := range te.Errors {
		if _, rest, ok := strings.Cut(msg, ": field "); ok && strings.Contains(rest, " not found in type ") {
			fields = append(fields, "field "+rest)
		}
	}
	if len(fields) == 0 {
		return err
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(fields, "; "))
}

// fieldError reports the first failing field using its yaml path.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("%s: failed %q validation (value %v)", yamlPath(fe.StructNamespace()), fe.Tag(), fe.Value())
}

var yamlNames = map[string]string{
	"Link": "link", "GPS": "gps", "Location": "location", "Capability": "capability",
	"Store": "store", "Web": "web", "Log": "log",
	"ReadChunkBytes": "read_chunk_bytes", "MaxLineBytes": "max_line_bytes",
	"RequestToken": "request_token", "DialTimeout": "dial_timeout", "CloseTimeout": "close_timeout",
	"Source": "source", "Baud": "baud", "GPSDAddr": "gpsd_addr",
	"StaticLatDeg": "static_lat_deg", "StaticLonDeg": "static_lon_deg", "StaticInterval": "static_interval",
	"MinInterval": "min_interval", "Keep": "keep", "LineBuffer": "line_buffer",
	"Level": "level", "Format": "format", "Address": "address",
}

func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		if n, ok := yamlNames[p]; ok {
			parts[i] = n
		}
	}
	return strings.Join(parts, ".")
}
