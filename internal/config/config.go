package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models freightline.yml.
type Config struct {
	Marketplace struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"marketplace"`
	Pricing struct {
		GSTPercent           float64 `yaml:"gst_percent"`
		FuelSurchargePercent float64 `yaml:"fuel_surcharge_percent"`
	} `yaml:"pricing"`
	Invoicing struct {
		DueDays         int  `yaml:"due_days"`
		AllowCancelPaid bool `yaml:"allow_cancel_paid"`
	} `yaml:"invoicing"`
	Bidding struct {
		AllowSimulated   bool `yaml:"allow_simulated"`
		ReopenAfterAward bool `yaml:"reopen_after_award"`
		BidTTLHours      int  `yaml:"bid_ttl_hours"`
	} `yaml:"bidding"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with fl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if c.Pricing.GSTPercent < 0 || c.Pricing.GSTPercent > 100 {
		return fmt.Errorf("config.pricing.gst_percent must be within [0,100]")
	}
	if c.Pricing.FuelSurchargePercent < 0 || c.Pricing.FuelSurchargePercent > 100 {
		return fmt.Errorf("config.pricing.fuel_surcharge_percent must be within [0,100]")
	}
	if c.Invoicing.DueDays < 0 {
		return fmt.Errorf("config.invoicing.due_days must not be negative")
	}
	if c.Bidding.BidTTLHours < 0 {
		return fmt.Errorf("config.bidding.bid_ttl_hours must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "freightline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  id: %s
  name: Freightline

pricing:
  gst_percent: 18
  fuel_surcharge_percent: 0

invoicing:
  due_days: 15
  allow_cancel_paid: true

bidding:
  allow_simulated: true
  reopen_after_award: true
  bid_ttl_hours: 72
`
