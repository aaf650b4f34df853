// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config is the YAML configuration file for the terminal client. Every
// field has a matching flag; flags win over file values.
type config struct {
	// ServerURL is the base URL of the chat REST backend.
	ServerURL string `yaml:"server_url"`
	// WebsocketURL is the live-channel endpoint.
	WebsocketURL string `yaml:"websocket_url"`
	// Token is the bearer token for both channels.
	Token string `yaml:"token"`
	// UserID is the signed-in user.
	UserID int64 `yaml:"user_id"`
}

// defaultConfigPath is consulted when --config is not given. A missing
// file there is not an error.
const defaultConfigPath = "feria-chat.yaml"

// loadConfig reads the YAML file at path. When explicit is false and
// the file does not exist, an empty config is returned instead of an
// error.
func loadConfig(path string, explicit bool) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config{}, nil
		}
		return config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// validate reports the first missing required field after flag
// overrides are applied.
func (c config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required (--server or server_url in the config file)")
	}
	if c.WebsocketURL == "" {
		return fmt.Errorf("websocket URL is required (--ws or websocket_url in the config file)")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required (--token or token in the config file)")
	}
	if c.UserID == 0 {
		return fmt.Errorf("user ID is required (--user or user_id in the config file)")
	}
	return nil
}
