package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"client/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Volume != 1.0 {
		t.Errorf("expected volume 1.0, got %v", cfg.Volume)
	}
	if cfg.InputDeviceID != -1 || cfg.OutputDeviceID != -1 {
		t.Error("expected device IDs to default to -1")
	}
	if cfg.NoiseLevel != 80 {
		t.Errorf("expected default noise level 80, got %d", cfg.NoiseLevel)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Config{
		Username:       "alice",
		LastServerAddr: "192.168.1.10:8080",
		InputDeviceID:  2,
		OutputDeviceID: 3,
		Volume:         0.75,
		NoiseEnabled:   true,
		NoiseLevel:     60,
	}

	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded.Username != cfg.Username {
		t.Errorf("username: want %q got %q", cfg.Username, loaded.Username)
	}
	if loaded.LastServerAddr != cfg.LastServerAddr {
		t.Errorf("last server addr: want %q got %q", cfg.LastServerAddr, loaded.LastServerAddr)
	}
	if loaded.InputDeviceID != cfg.InputDeviceID {
		t.Errorf("input device: want %d got %d", cfg.InputDeviceID, loaded.InputDeviceID)
	}
	if loaded.Volume != cfg.Volume {
		t.Errorf("volume: want %v got %v", cfg.Volume, loaded.Volume)
	}
	if loaded.NoiseEnabled != cfg.NoiseEnabled {
		t.Errorf("noise enabled: want %v got %v", cfg.NoiseEnabled, loaded.NoiseEnabled)
	}
	if loaded.NoiseLevel != cfg.NoiseLevel {
		t.Errorf("noise level: want %d got %d", cfg.NoiseLevel, loaded.NoiseLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Load()
	if cfg.Volume != 1.0 {
		t.Error("expected default volume from defaults")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "bken", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json {{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.Volume != 1.0 {
		t.Errorf("expected default volume on corrupt file, got %v", cfg.Volume)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := config.Save(config.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "bken", "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}
