// Package config resolves service settings from flags, the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved service configuration.
type Config struct {
	ListenAddr  string
	FolderID    string
	APIKey      string
	ParamPrefix string
	BaseURL     string
	Timeout     time.Duration
	Debug       bool
}

const (
	KeyListenAddr  = "listen_addr"
	KeyFolderID    = "yc_folder_id"
	KeyAPIKey      = "yc_api_key"
	KeyParamPrefix = "param_prefix"
	KeyBaseURL     = "yc_base_url"
	KeyTimeout     = "yc_timeout"
	KeyDebug       = "debug"
)

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		ListenAddr: ":8080",
		BaseURL:    "https://llm.api.cloud.yandex.net",
		Timeout:    60 * time.Second,
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults registered and environment
// variables bound. Keys map to upper-case variables, e.g. yc_folder_id reads
// YC_FOLDER_ID.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()

	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyDebug, d.Debug)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range []string{KeyFolderID, KeyAPIKey, KeyParamPrefix} {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:  strings.TrimSpace(v.GetString(KeyListenAddr)),
		FolderID:    strings.TrimSpace(v.GetString(KeyFolderID)),
		APIKey:      strings.TrimSpace(v.GetString(KeyAPIKey)),
		ParamPrefix: strings.TrimSpace(v.GetString(KeyParamPrefix)),
		BaseURL:     strings.TrimSpace(v.GetString(KeyBaseURL)),
		Timeout:     v.GetDuration(KeyTimeout),
		Debug:       v.GetBool(KeyDebug),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.FolderID == "" {
		return errors.New("config: YC_FOLDER_ID is required")
	}
	if c.APIKey == "" && c.ParamPrefix == "" {
		return errors.New("config: one of YC_API_KEY or PARAM_PREFIX is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: YC_TIMEOUT must not be negative, got %s", c.Timeout)
	}
	return nil
}

// UseParamStore reports whether the API key is read from SSM.
func (c Config) UseParamStore() bool {
	return c.ParamPrefix != ""
}
