package coredb

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the handful of settings the storage engine needs at
// startup. Everything here is overridable by CoreDB_* environment
// variables, matching the single environment-driven setting the source
// design calls out (the database file path) generalized to the rest of
// the knobs a Go deployment reasonably wants exposed the same way.
type Config struct {
	DBPath          string
	BufferPoolSize  int
	DefaultPageSize int
}

// DefaultConfig returns the engine's out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		DBPath:          "coredb.db",
		BufferPoolSize:  64,
		DefaultPageSize: PageSize,
	}
}

// LoadConfig reads configuration from (in ascending priority) built-in
// defaults, a coredb.yaml/json/toml file on the search path, CoreDB_*
// environment variables, and finally flags already registered on fs.
func LoadConfig(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("buffer_pool_size", defaults.BufferPoolSize)
	v.SetDefault("default_page_size", defaults.DefaultPageSize)

	v.SetConfigName("coredb")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CoreDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// viper upper-cases the prefix for AutomaticEnv lookups (COREDB_*), so
	// the mixed-case CoreDB_* names are bound explicitly as well.
	for _, key := range []string{"db_path", "buffer_pool_size", "default_page_size"} {
		if err := v.BindEnv(key, "CoreDB_"+strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, err
		}
	}

	return Config{
		DBPath:          v.GetString("db_path"),
		BufferPoolSize:  v.GetInt("buffer_pool_size"),
		DefaultPageSize: v.GetInt("default_page_size"),
	}, nil
}
