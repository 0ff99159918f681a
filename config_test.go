package smpte2022

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
delay = 250
only_mp2t = false
log_level = "debug"

[fec]
l = 10
d = 10

[metrics]
enabled = true
listen_addr = ":9090"
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.FEC.L != 10 || config.FEC.D != 10 {
		t.Errorf("FEC = %dx%d, want 10x10", config.FEC.L, config.FEC.D)
	}
	if config.Delay != 250 || config.OnlyMP2T || config.LogLevel != "debug" {
		t.Errorf("delay/only_mp2t/log_level = %d/%v/%q",
			config.Delay, config.OnlyMP2T, config.LogLevel)
	}
	if !config.Metrics.Enabled || config.Metrics.ListenAddr != ":9090" {
		t.Errorf("metrics = %+v", config.Metrics)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	want := DefaultStreamConfig()
	if *config != want {
		t.Errorf("LoadConfig(empty) = %+v, want defaults %+v", *config, want)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad matrix", "[fec]\nl = 0\nd = 10\n"},
		{"negative delay", "delay = -1\n"},
		{"metrics without addr", "[metrics]\nenabled = true\n"},
		{"bad toml", "delay = =\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("LoadConfig() must reject the file")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("LoadConfig() must fail on a missing file")
	}
}
