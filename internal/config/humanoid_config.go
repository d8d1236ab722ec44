// File: internal/config/humanoid_config.go
// HumanoidConfig holds the typing cadence model used when the executor fills
// text inputs. Delays are drawn from a clamped normal distribution and
// shortened inside common letter n-grams.
package config

import "github.com/spf13/viper"

// HumanoidConfig tunes inter-key delays.
type HumanoidConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	KeyPauseMeanMs   float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDevMs float64 `mapstructure:"key_pause_stddev_ms" yaml:"key_pause_stddev_ms"`
	KeyPauseMinMs    float64 `mapstructure:"key_pause_min_ms" yaml:"key_pause_min_ms"`
	KeyPauseMaxMs    float64 `mapstructure:"key_pause_max_ms" yaml:"key_pause_max_ms"`
	// Multipliers applied to the mean when the current key completes a common n-gram.
	TrigramFactor float64 `mapstructure:"trigram_factor" yaml:"trigram_factor"`
	DigramFactor  float64 `mapstructure:"digram_factor" yaml:"digram_factor"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.key_pause_mean_ms", 95.0)
	v.SetDefault("browser.humanoid.key_pause_stddev_ms", 28.0)
	v.SetDefault("browser.humanoid.key_pause_min_ms", 50.0)
	v.SetDefault("browser.humanoid.key_pause_max_ms", 150.0)
	v.SetDefault("browser.humanoid.trigram_factor", 0.55)
	v.SetDefault("browser.humanoid.digram_factor", 0.7)
}
