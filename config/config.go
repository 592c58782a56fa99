// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the daemon's YAML configuration document. The
// document itself is hand-authored and static; this package only
// defines the keys the daemon consumes and applies their defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nsb-ucsc/nsb-beta/wire"
)

// DefaultServerPort is the daemon's default listening port.
const DefaultServerPort = 65432

// DefaultRedisPort is the default Redis port when database.db_port is
// omitted from the document.
const DefaultRedisPort = 6379

// rawDocument mirrors the YAML document's key layout exactly.
type rawDocument struct {
	System struct {
		Mode          int `yaml:"mode"`
		SimulatorMode int `yaml:"simulator_mode"`
	} `yaml:"system"`
	Database struct {
		UseDB     bool   `yaml:"use_db"`
		DBAddress string `yaml:"db_address"`
		DBPort    int    `yaml:"db_port"`
		DBNum     int    `yaml:"db_num"`
	} `yaml:"database"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Config is the daemon's resolved configuration.
type Config struct {
	SystemMode    wire.SystemMode
	SimulatorMode wire.SimulatorMode
	UseDB         bool
	DBAddress     string
	DBPort        int
	DBNum         int
	ServerPort    int
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		SystemMode:    wire.SystemMode(doc.System.Mode),
		SimulatorMode: wire.SimulatorMode(doc.System.SimulatorMode),
		UseDB:         doc.Database.UseDB,
		DBAddress:     doc.Database.DBAddress,
		DBPort:        doc.Database.DBPort,
		DBNum:         doc.Database.DBNum,
		ServerPort:    doc.Server.Port,
	}

	if cfg.SystemMode != wire.SystemModePull && cfg.SystemMode != wire.SystemModePush {
		return nil, fmt.Errorf("config: system.mode must be 0 (PULL) or 1 (PUSH), got %d", doc.System.Mode)
	}
	if cfg.SimulatorMode != wire.SimulatorModeSystemWide && cfg.SimulatorMode != wire.SimulatorModePerNode {
		return nil, fmt.Errorf("config: system.simulator_mode must be 0 (SYSTEM_WIDE) or 1 (PER_NODE), got %d", doc.System.SimulatorMode)
	}
	if cfg.UseDB && cfg.DBAddress == "" {
		return nil, fmt.Errorf("config: database.db_address is required when database.use_db is true")
	}
	if cfg.UseDB && cfg.DBPort == 0 {
		cfg.DBPort = DefaultRedisPort
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultServerPort
	}

	return cfg, nil
}

// ToWireParams builds the [wire.ConfigParams] the daemon hands every
// client on a successful INIT.
func (c *Config) ToWireParams() *wire.ConfigParams {
	return &wire.ConfigParams{
		SysMode:       c.SystemMode,
		SimulatorMode: c.SimulatorMode,
		UseDB:         c.UseDB,
		DBAddress:     c.DBAddress,
		DBPort:        int32(c.DBPort),
		DBNum:         int32(c.DBNum),
	}
}
