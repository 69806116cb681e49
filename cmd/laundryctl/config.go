package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const defaultEndpoint = "http://localhost:8080"

// Config is the on-disk CLI configuration.
type Config struct {
	Endpoint string `json:"endpoint"`
	// Token is the user token used for scanning and listing orders.
	Token string `json:"token"`
	// AdminToken is the operator token, needed only by the qr command.
	AdminToken string `json:"admin_token,omitempty"`
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "laundryctl", "config.json")
}

// loadConfig reads path. A missing file yields an empty Config.
func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// resolve layers environment variables and then flags over the file config.
func (c Config) resolve(getenv func(string) string, endpoint, token string) Config {
	if v := getenv("LAUNDRY_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := getenv("LAUNDRY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := getenv("LAUNDRY_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if endpoint != "" {
		c.Endpoint = endpoint
	}
	if token != "" {
		c.Token = token
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	return c
}
