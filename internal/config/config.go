package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Shared   SharedConfig `mapstructure:"shared"`
	Daemon   DaemonConfig `mapstructure:"daemon"`
	Client   ClientConfig `mapstructure:"client"`
	LogLevel string       `mapstructure:"log_level"`
}

// SharedConfig holds the options both daemon and client need.
type SharedConfig struct {
	PueueDirectory   string `mapstructure:"pueue_directory"`
	UseUnixSocket    bool   `mapstructure:"use_unix_socket"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	TLSCertPath      string `mapstructure:"tls_cert_path"`
	TLSKeyPath       string `mapstructure:"tls_key_path"`
	TLSCaPath        string `mapstructure:"tls_ca_path"`
	SharedSecretPath string `mapstructure:"shared_secret_path"`
}

type DaemonConfig struct {
	DefaultParallelTasks int            `mapstructure:"default_parallel_tasks"`
	Groups               map[string]int `mapstructure:"groups"`
	Callback             string         `mapstructure:"callback"`
	MetricsPort          int            `mapstructure:"metrics_port"`
}

type ClientConfig struct {
	ReadLocalLogs bool `mapstructure:"read_local_logs"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigName("pueue")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "pueue"))
		}
		viper.AddConfigPath("/etc/pueue")
	}

	// Set defaults
	setDefaults()

	// Environment variable binding
	viper.SetEnvPrefix("PUEUE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional when searching, required when explicit)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Shared.PueueDirectory == "" {
		cfg.Shared.PueueDirectory = defaultDirectory()
	}
	return &cfg, nil
}

func setDefaults() {
	// Shared defaults
	viper.SetDefault("shared.pueue_directory", "")
	viper.SetDefault("shared.use_unix_socket", true)
	viper.SetDefault("shared.host", "127.0.0.1")
	viper.SetDefault("shared.port", 6924)
	viper.SetDefault("shared.tls_cert_path", "")
	viper.SetDefault("shared.tls_key_path", "")
	viper.SetDefault("shared.tls_ca_path", "")
	viper.SetDefault("shared.shared_secret_path", "")

	// Daemon defaults
	viper.SetDefault("daemon.default_parallel_tasks", 1)
	viper.SetDefault("daemon.groups", map[string]int{})
	viper.SetDefault("daemon.callback", "")
	viper.SetDefault("daemon.metrics_port", 0)

	// Client defaults
	viper.SetDefault("client.read_local_logs", true)

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

func defaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pueue")
	}
	return filepath.Join(home, ".local", "share", "pueue")
}

// LogDir returns the per-task log directory.
func (c *SharedConfig) LogDir() string {
	return filepath.Join(c.PueueDirectory, "log")
}

// SocketPath returns the unix socket path.
func (c *SharedConfig) SocketPath() string {
	return filepath.Join(c.PueueDirectory, "pueue.sock")
}

// SecretPath returns the shared secret file path, honoring the override.
func (c *SharedConfig) SecretPath() string {
	if c.SharedSecretPath != "" {
		return c.SharedSecretPath
	}
	return filepath.Join(c.PueueDirectory, "secret")
}

// EnsureDirectories creates the pueue base and log directories.
func (c *SharedConfig) EnsureDirectories() error {
	for _, dir := range []string{c.PueueDirectory, c.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ReadSecret loads the shared secret, generating one on first use so a
// fresh installation works without manual setup.
func (c *SharedConfig) ReadSecret() ([]byte, error) {
	path := c.SecretPath()
	secret, err := os.ReadFile(path)
	if err == nil {
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	secret = []byte(uuid.New().String())
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}
	return secret, nil
}
