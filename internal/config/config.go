// Package config loads the neon-relay process configuration (relay socket,
// admin API, directory mirror, provisioning) from an optional YAML file,
// layered over built-in defaults.
package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Relay struct {
		Bind        string `mapstructure:"bind"`
		LogRequests bool   `mapstructure:"log_requests"`
	} `mapstructure:"relay"`
	AdminAPI struct {
		Port        int  `mapstructure:"port"`
		LogRequests bool `mapstructure:"log_requests"`
	} `mapstructure:"admin_api"`
	Directory struct {
		Enabled  bool   `mapstructure:"enabled"`
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"directory"`
	Provisioning struct {
		Enabled             bool   `mapstructure:"enabled"`
		Namespace           string `mapstructure:"namespace"`
		AllocatorHost       string `mapstructure:"allocator_host"`
		AllocatorClientCert string `mapstructure:"allocator_client_cert"`
		AllocatorClientKey  string `mapstructure:"allocator_client_key"`
		AllocatorCACert     string `mapstructure:"allocator_ca_cert"`
		FleetName           string `mapstructure:"fleet_name"`
	} `mapstructure:"provisioning"`
}

// LoadConfig reads "config.yaml" from the working directory or ./config,
// falling back to built-in defaults when no file is present.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("relay.bind", "0.0.0.0:7777")
	viper.SetDefault("relay.log_requests", false)
	viper.SetDefault("admin_api.port", 7778)
	viper.SetDefault("admin_api.log_requests", false)
	viper.SetDefault("directory.enabled", false)
	viper.SetDefault("directory.channel", "neon_sessions")
	viper.SetDefault("provisioning.enabled", false)
	viper.SetDefault("provisioning.namespace", "default")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
