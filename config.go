package gcrud

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GCRUD_DRIVER or GCRUD_SEARCH_DEFAULT_LIMIT
const EnvPrefix = "GCRUD"

// LoadConfig reads configuration from path, or from gcrud.yaml in the working
// directory when path is empty. A missing default file is not an error;
// environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("adapter", "gorm")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("database", "gcrud.db")
	v.SetDefault("connection_url", "")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 0)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("schema", "schema.prisma")
	v.SetDefault("search.default_limit", DefaultSearchDefaults.Limit)
	v.SetDefault("search.default_order", "")
	v.SetDefault("search.default_direction", string(SortAsc))
	v.SetDefault("events.buffer_size", defaultEventBuffer)
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.channel_prefix", "gcrud")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gcrud")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, NewErrorWithCause(ErrorTypeValidation, fmt.Sprintf("failed to read config %q", path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, NewErrorWithCause(ErrorTypeValidation, "failed to unmarshal config", err)
	}
	if cfg.Driver == "" {
		return nil, NewError(ErrorTypeValidation, "config: driver is required")
	}
	return &cfg, nil
}
