// Package config loads pocketsync settings from a YAML file, POCKETSYNC_*
// environment variables, a .env credentials file and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/pocketsync/internal/vault"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "POCKETSYNC"
	// EnvAccessToken holds the user access token.
	EnvAccessToken = "POCKETSYNC_ACCESS_TOKEN"
	// EnvConsumerKey holds the application consumer key.
	EnvConsumerKey = "POCKETSYNC_CONSUMER_KEY"

	envFileName    = ".env"
	configFileName = "config"
)

// Config is the full set of settings.
type Config struct {
	Vault     string          `mapstructure:"vault" validate:"required"`
	DB        string          `mapstructure:"db" validate:"required"`
	API       APIConfig       `mapstructure:"api"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Notes     NotesConfig     `mapstructure:"notes"`
	Index     IndexConfig     `mapstructure:"index"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// Dir is the directory holding the config and .env files.
	Dir string `mapstructure:"-"`
	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// APIConfig configures the remote client.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	ConsumerKey string        `mapstructure:"consumer_key"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// Tag restricts fetches to items carrying it (empty = all items).
	Tag string `mapstructure:"tag"`
	// CreateNotes writes a note for every unresolved item after a sync.
	CreateNotes bool `mapstructure:"create_notes"`
	// Interval is the daemon's automatic sync period (0 = off).
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// ReconcileConfig configures the tag reconciler.
type ReconcileConfig struct {
	AllowTags  []string          `mapstructure:"allow_tags"`
	FolderTags []vault.FolderTag `mapstructure:"folder_tags" validate:"dive"`
}

// NotesConfig configures note lookup and creation.
type NotesConfig struct {
	Folder      string   `mapstructure:"folder"`
	URLProperty string   `mapstructure:"url_property" validate:"required"`
	IgnoreTags  []string `mapstructure:"ignore_tags"`
}

// IndexConfig configures the URL index.
type IndexConfig struct {
	CacheSize int `mapstructure:"cache_size" validate:"gte=0"`
}

// LogConfig configures log output.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file; it must exist when set.
	File string
	// Dir overrides the config directory (default $XDG_CONFIG_HOME/pocketsync).
	Dir string
	// Flags are bound to the keys of the same name ("vault", "db", ...).
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"vault":    "vault",
	"db":       "db",
	"tag":      "sync.tag",
	"port":     "dashboard.port",
	"log-file": "log.file",
}

// DefaultDir returns the default config directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pocketsync"
	}
	return filepath.Join(dir, "pocketsync")
}

// Load reads the configuration. It does not validate; call Validate before
// using the result for anything that needs a complete setup.
func Load(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}

	// .env never overrides variables already set in the environment.
	envPath := filepath.Join(dir, envFileName)
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	v := viper.New()
	setDefaults(v, dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.access_token", EnvAccessToken); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", EnvAccessToken, err)
	}
	if err := v.BindEnv("api.consumer_key", EnvConsumerKey); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", EnvConsumerKey, err)
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Dir = dir
	cfg.File = v.ConfigFileUsed()
	cfg.Vault = expandHome(cfg.Vault)
	cfg.DB = expandHome(cfg.DB)
	cfg.Log.File = expandHome(cfg.Log.File)
	return &cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("vault", "")
	v.SetDefault("db", filepath.Join(dir, "pocket.db"))
	v.SetDefault("api.base_url", "https://getpocket.com")
	v.SetDefault("api.consumer_key", "")
	v.SetDefault("api.access_token", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("sync.tag", "")
	v.SetDefault("sync.create_notes", false)
	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("reconcile.allow_tags", []string{})
	v.SetDefault("reconcile.folder_tags", []vault.FolderTag{})
	v.SetDefault("notes.folder", "Pocket")
	v.SetDefault("notes.url_property", vault.DefaultURLProperty)
	v.SetDefault("notes.ignore_tags", []string{})
	v.SetDefault("index.cache_size", vault.DefaultCacheSize)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("dashboard.host", "localhost")
	v.SetDefault("dashboard.port", 8080)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports every invalid key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", keyOf(e.Namespace()), describe(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// keyOf turns "Config.api.base_url" into "api.base_url".
func keyOf(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	default:
		return "is invalid"
	}
}

// Authenticated reports whether an access token is configured.
func (c *Config) Authenticated() bool {
	return c.API.AccessToken != ""
}

// EnvFile returns the path of the credentials file.
func (c *Config) EnvFile() string {
	return filepath.Join(c.Dir, envFileName)
}

// SaveCredentials stores the access token (and the consumer key, when not
// empty) in the .env file, keeping any other variables it holds.
func (c *Config) SaveCredentials(token, consumerKey string) error {
	path := c.EnvFile()
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		env = map[string]string{}
	}
	env[EnvAccessToken] = token
	if consumerKey != "" {
		env[EnvConsumerKey] = consumerKey
	}

	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict %s: %w", path, err)
	}

	c.API.AccessToken = token
	if consumerKey != "" {
		c.API.ConsumerKey = consumerKey
	}
	return nil
}
