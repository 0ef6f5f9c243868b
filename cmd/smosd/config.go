package main

import (
	"os"

	"sigs.k8s.io/yaml"
)

// ObjectConfig describes one object to pre-create at daemon startup.
type ObjectConfig struct {
	Name          string   `json:"name"`
	MaxCapacity   int      `json:"maxCapacity"`
	BlockSizeList []int64  `json:"blockSizeList"`
	TrackNameList []string `json:"trackNameList,omitempty"`
}

// Config is the optional YAML configuration file smosd accepts via -config.
// Every field has a sensible default so an empty or absent config file
// starts a daemon with no pre-created objects.
type Config struct {
	IP          string         `json:"ip"`
	PortLow     int            `json:"portLow"`
	PortHigh    int            `json:"portHigh"`
	AuthkeyFile string         `json:"authkeyFile"`
	Objects     []ObjectConfig `json:"objects,omitempty"`
}

// defaultConfig mirrors the flag defaults so a daemon run with neither flags
// nor a config file still does something reasonable. The port range matches
// SPEC_FULL.md's documented default of [5000, 5050); PortHigh is inclusive
// in Server.Listen, so the upper bound is 5049.
func defaultConfig() Config {
	return Config{
		IP:       "127.0.0.1",
		PortLow:  5000,
		PortHigh: 5049,
	}
}

// loadConfig reads and parses a YAML config file. sigs.k8s.io/yaml converts
// YAML to JSON before unmarshaling, so Config is tagged with `json`, the
// same convention the rest of the ecosystem uses for this library.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
