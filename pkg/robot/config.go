package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultConfigFile = "so101.json"

// Config holds the rig configuration: one leader and one follower arm.
type Config struct {
	Leader   ArmSettings `json:"leader"`
	Follower ArmSettings `json:"follower"`
}

// ArmSettings holds the saved settings for a single arm.
type ArmSettings struct {
	Port        string      `json:"port"`
	Calibration Calibration `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data
func (a *ArmSettings) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// Arm returns the settings for the named role ("leader" or "follower").
func (c *Config) Arm(role string) (*ArmSettings, error) {
	switch role {
	case "leader":
		return &c.Leader, nil
	case "follower":
		return &c.Follower, nil
	}
	return nil, fmt.Errorf("unknown arm role %q (want leader or follower)", role)
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
