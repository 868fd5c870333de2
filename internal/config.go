package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ClientConfig holds the non-protocol knobs for the grdt client CLI.
// RTO, MAX_RETRIES, LINGER and window sizes are fixed protocol constants
// (see pkg/rdt) and are never configurable here.
type ClientConfig struct {
	ServerAddr       string `mapstructure:"server_addr"`
	DefaultProtocol  string `mapstructure:"default_protocol"`
	LogLevel         string `mapstructure:"log_level"`
	SocketBufferSize int    `mapstructure:"socket_buffer_size"`
}

// ServerConfig holds the non-protocol knobs for the grdtd server daemon.
type ServerConfig struct {
	BindAddr           string `mapstructure:"bind_addr"`
	StorageDir         string `mapstructure:"storage_dir"`
	MetricsAddr        string `mapstructure:"metrics_addr"`
	LogLevel           string `mapstructure:"log_level"`
	UDPReadBufferSize  int    `mapstructure:"udp_read_buffer_size"`
	UDPWriteBufferSize int    `mapstructure:"udp_write_buffer_size"`
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".grdt"), "client_config", "toml", "GRDT_CLIENT")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_addr", "127.0.0.1:9000")
	v.SetDefault("default_protocol", "gbn")
	v.SetDefault("log_level", "info")
	v.SetDefault("socket_buffer_size", 64*1024)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}

	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".grdt", "client_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default client config: %w", err)
			}
		}
		Info("client config written", Fields{ConfigPath: writePath})
	}
	return &cfg, nil
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".grdt"), "server_config", "toml", "GRDT_SERVER")
	if err != nil {
		return nil, err
	}

	v.SetDefault("bind_addr", "0.0.0.0:9000")
	v.SetDefault("storage_dir", filepath.Join(home, ".grdt", "storage"))
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("udp_read_buffer_size", 64*1024)
	v.SetDefault("udp_write_buffer_size", 64*1024)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	cfg.StorageDir = expandPath(cfg.StorageDir)

	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".grdt", "server_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default server config: %w", err)
			}
		}
		Info("server config written", Fields{ConfigPath: writePath})
	}

	return &cfg, nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound {
			Error("config file not found", Fields{ConfigPath: configPath})
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func (cfg *ClientConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".grdt", "client_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server_addr", cfg.ServerAddr)
	v.Set("default_protocol", cfg.DefaultProtocol)
	v.Set("log_level", cfg.LogLevel)
	v.Set("socket_buffer_size", cfg.SocketBufferSize)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *ServerConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".grdt", "server_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("bind_addr", cfg.BindAddr)
	v.Set("storage_dir", cfg.StorageDir)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("log_level", cfg.LogLevel)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("udp_write_buffer_size", cfg.UDPWriteBufferSize)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
