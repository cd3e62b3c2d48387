package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// config holds the node's local configuration: where its document store
// and index live on disk, and the addresses of the external mesh/HTTP
// collaborators this binary's flags surface but does not itself
// implement (spec §1 Non-goals: distributed consensus across mesh
// nodes is out of scope for the core).
type config struct {
	DataDir  string   `json:"data_dir"`
	HTTPPort int      `json:"http_port,omitempty"`
	MeshPort int      `json:"mesh_port,omitempty"`
	Peers    []string `json:"peers,omitempty"`
}

// configFileName is the default config file name, written by --setup and
// read on every subsequent start (spec §6 CLI surface).
const configFileName = "omeshd.json"

func defaultConfig() config {
	return config{
		DataDir:  "./omesh-data",
		HTTPPort: 8080,
		MeshPort: 7946,
	}
}

// loadConfig reads path as HuJSON (JSON with comments and trailing
// commas, matching the teacher's own node config format) and decodes it
// into a config seeded with defaults for any field the file omits.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

// saveConfig writes cfg to path as indented JSON, creating parent
// directories as needed (spec's --setup wizard writes this file).
func saveConfig(path string, cfg config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}

	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	body = append(body, '\n')

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	return nil
}

// defaultConfigPath mirrors the teacher's XDG-aware lookup in its own
// config.go, scoped to this daemon's config file name.
func defaultConfigPath(env []string) string {
	for _, e := range env {
		if v, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(v, "omeshd", configFileName)
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "omeshd", configFileName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}

	return filepath.Join(home, ".config", "omeshd", configFileName)
}
