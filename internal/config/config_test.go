package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

const minimal = "link:\n  address: 'rfcomm://98:D3:31:FB:2A:10/1'\n"

func TestLoad_RequiresAddress(t *testing.T) {
	path := writeTempConfig(t, "link: {}\n")
	_, err := Load(path)
	requireErrEq(t, err, "link.address is required")
}

func TestLoad_EmptyFileRequiresAddress(t *testing.T) {
	path := writeTempConfig(t, "")
	_, err := Load(path)
	requireErrEq(t, err, "link.address is required")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.ReadChunkBytes != 1024 {
		t.Fatalf("read_chunk_bytes=%d want 1024", cfg.Link.ReadChunkBytes)
	}
	if cfg.Link.MaxLineBytes != 64*1024 {
		t.Fatalf("max_line_bytes=%d want 65536", cfg.Link.MaxLineBytes)
	}
	if !cfg.Link.AppendsNewline() {
		t.Fatalf("append_newline should default to true")
	}
	if cfg.Link.RequestToken != "GET_LOCATION" {
		t.Fatalf("request_token=%q", cfg.Link.RequestToken)
	}
	if cfg.Link.DialTimeout != 10*time.Second || cfg.Link.CloseTimeout != 2*time.Second {
		t.Fatalf("timeouts=%s/%s", cfg.Link.DialTimeout, cfg.Link.CloseTimeout)
	}
	if !cfg.Location.Enabled() || cfg.Location.MinInterval != time.Second {
		t.Fatalf("location=%+v", cfg.Location)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestLoad_AppendNewlineFalse(t *testing.T) {
	path := writeTempConfig(t, minimal+"  append_newline: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.AppendsNewline() {
		t.Fatalf("append_newline=true want false")
	}
}

func TestLoad_GPSSourceDefaults(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		check func(t *testing.T, c GPSConfig)
	}{
		{
			name:  "NMEA",
			extra: "gps:\n  enable: true\n",
			check: func(t *testing.T, c GPSConfig) {
				if c.Source != "nmea" || c.Baud != 9600 {
					t.Fatalf("gps=%+v", c)
				}
			},
		},
		{
			name:  "GPSD",
			extra: "gps:\n  enable: true\n  source: gpsd\n",
			check: func(t *testing.T, c GPSConfig) {
				if c.GPSDAddr != "127.0.0.1:2947" {
					t.Fatalf("gpsd_addr=%q", c.GPSDAddr)
				}
			},
		},
		{
			name:  "Static",
			extra: "gps:\n  enable: true\n  source: static\n  static_lat_deg: 37\n  static_lon_deg: -122\n",
			check: func(t *testing.T, c GPSConfig) {
				if c.StaticInterval != time.Second || c.StaticLatDeg != 37 {
					t.Fatalf("gps=%+v", c)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, minimal+tc.extra))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			tc.check(t, cfg.GPS)
		})
	}
}

func TestLoad_FieldValidation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "GPSSource",
			extra: "gps:\n  source: galileo\n",
			want:  `gps.source: failed "oneof" validation (value galileo)`,
		},
		{
			name:  "StaticLat",
			extra: "gps:\n  static_lat_deg: 91\n",
			want:  `gps.static_lat_deg: failed "lte" validation (value 91)`,
		},
		{
			name:  "ChunkSize",
			extra: "  read_chunk_bytes: -1\n",
			want:  `link.read_chunk_bytes: failed "gte" validation (value -1)`,
		},
		{
			name:  "LogFormat",
			extra: "log:\n  format: xml\n",
			want:  `log.format: failed "oneof" validation (value xml)`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, minimal+tc.extra))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsBadAddress(t *testing.T) {
	path := writeTempConfig(t, "link:\n  address: 'carrier-pigeon://x'\n")
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_RadioLineRequiredWithChip(t *testing.T) {
	path := writeTempConfig(t, minimal+"capability:\n  radio_gpio_chip: gpiochip0\n")
	_, err := Load(path)
	requireErrEq(t, err, "capability.radio_gpio_line is required when capability.radio_gpio_chip is set")
}

func TestLoad_RadioChipDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal+"capability:\n  radio_gpio_line: GPIO17\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Capability.RadioGPIOChip != "gpiochip0" {
		t.Fatalf("chip=%q", cfg.Capability.RadioGPIOChip)
	}
}

func TestLoad_StoreRequiresPath(t *testing.T) {
	path := writeTempConfig(t, minimal+"store:\n  enable: true\n")
	_, err := Load(path)
	requireErrEq(t, err, "store.path is required when store.enable is true")
}

func TestLoad_WebDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal+"web:\n  enable: true\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Web.LineBuffer != 2000 {
		t.Fatalf("web=%+v", cfg.Web)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, minimal+"  baud_rate: 9600\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field baud_rate not found in type config.LinkConfig")
}
