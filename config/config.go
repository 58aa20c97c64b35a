package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Data struct {
		BaseURL    string `yaml:"base_url"`
		StreamURL  string `yaml:"stream_url"`
		AccessKey  string `yaml:"access_key"`
		SecretKey  string `yaml:"secret_key"`
		TimeoutSec int    `yaml:"timeout_sec"`
		RetryCount int    `yaml:"retry_count"`
	} `yaml:"data"`
	Chart struct {
		Symbol             string   `yaml:"symbol"`
		Timeframe          string   `yaml:"timeframe"`
		Lookback           int      `yaml:"lookback"`
		WarmTimeframes     []string `yaml:"warm_timeframes"`
		RefreshIntervalSec int      `yaml:"refresh_interval_sec"`
		MarketPollSec      int      `yaml:"market_poll_sec"`
		PaneWidth          float64  `yaml:"pane_width"`
		PaneHeight         float64  `yaml:"pane_height"`
	} `yaml:"chart"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("MEERKAT_DATA_BASE_URL"); v != "" {
		cfg.Data.BaseURL = v
	}
	if v := os.Getenv("MEERKAT_DATA_STREAM_URL"); v != "" {
		cfg.Data.StreamURL = v
	}
	if v := os.Getenv("MEERKAT_DATA_ACCESS_KEY"); v != "" {
		cfg.Data.AccessKey = v
	}
	if v := os.Getenv("MEERKAT_DATA_SECRET_KEY"); v != "" {
		cfg.Data.SecretKey = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
	if c.Data.BaseURL == "" {
		c.Data.BaseURL = "http://localhost:8000"
	}
	if c.Data.StreamURL == "" {
		c.Data.StreamURL = "ws://localhost:8000/api/v1/stream/ws"
	}
	if c.Data.TimeoutSec <= 0 {
		c.Data.TimeoutSec = 10
	}
	if c.Chart.Symbol == "" {
		c.Chart.Symbol = "RELIANCE"
	}
	if c.Chart.Timeframe == "" {
		c.Chart.Timeframe = "15m"
	}
	if c.Chart.Lookback <= 0 {
		c.Chart.Lookback = 300
	}
	if len(c.Chart.WarmTimeframes) == 0 {
		c.Chart.WarmTimeframes = []string{"5m", "1h", "1d"}
	}
	if c.Chart.RefreshIntervalSec <= 0 {
		c.Chart.RefreshIntervalSec = 60
	}
	if c.Chart.MarketPollSec <= 0 {
		c.Chart.MarketPollSec = 30
	}
	if c.Chart.PaneWidth <= 0 {
		c.Chart.PaneWidth = 1280
	}
	if c.Chart.PaneHeight <= 0 {
		c.Chart.PaneHeight = 600
	}
}
