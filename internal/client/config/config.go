// Package config holds runtime settings for the owner-device CLI.
package config

// Config holds runtime settings for the everkeep CLI.
//
// Fields:
//   - KeystorePath: path to the local sqlite keystore file.
type Config struct {
	KeystorePath string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.KeystorePath = "everkeep.db"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)
	return cfg
}
