// Package config manages persistent user preferences for the CLI client.
// Settings are stored as JSON at os.UserConfigDir()/bken/config.json. This
// is purely a local convenience (remembering the last server and device
// choice) — the relay itself holds no persisted state.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent user preferences.
type Config struct {
	Username       string  `json:"username"`
	LastServerAddr string  `json:"last_server_addr"`
	InputDeviceID  int     `json:"input_device_id"`
	OutputDeviceID int     `json:"output_device_id"`
	Volume         float64 `json:"volume"`
	NoiseEnabled   bool    `json:"noise_enabled"`
	NoiseLevel     int     `json:"noise_level"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Volume:         1.0,
		NoiseLevel:     80,
		InputDeviceID:  -1,
		OutputDeviceID: -1,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bken", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
