package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/rpattn/metarepo/internal/db"
	"github.com/rpattn/metarepo/internal/logging"
	"github.com/rpattn/metarepo/internal/repository"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// RepositoryConfig describes the local repository and its storage policy.
type RepositoryConfig struct {
	MetadataCollectionID   string
	MetadataCollectionName string
	Backend                string
	SoftDelete             bool
	// HistoryRetention is the number of property snapshots kept per
	// instance. Zero disables undo.
	HistoryRetention      int
	StrictReferenceCopies bool
}

// Config is the full process configuration.
type Config struct {
	Repository   RepositoryConfig
	Database     db.Config
	Badger       repository.BadgerConfig
	TypeDefPaths []string
	Log          logging.Config
	EventBuffer  int
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("repository.metadata_collection_id", "")
	v.SetDefault("repository.metadata_collection_name", "local")
	v.SetDefault("repository.backend", BackendMemory)
	v.SetDefault("repository.soft_delete", true)
	v.SetDefault("repository.history_retention", 1)
	v.SetDefault("repository.strict_reference_copies", true)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("badger.path", "data/badger")
	v.SetDefault("badger.in_memory", false)
	v.SetDefault("badger.sync_writes", true)

	v.SetDefault("typedefs.paths", []string{"configs/typedefs"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("events.buffer", 64)
}

// Load reads configuration from path, which may be a YAML file or a directory
// holding metarepo.yaml. A missing file in a directory is not an error;
// defaults and METAREPO_* environment variables still apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("METAREPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("metarepo")
		v.SetConfigType("yaml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Repository: RepositoryConfig{
			MetadataCollectionID:   v.GetString("repository.metadata_collection_id"),
			MetadataCollectionName: v.GetString("repository.metadata_collection_name"),
			Backend:                strings.ToLower(v.GetString("repository.backend")),
			SoftDelete:             v.GetBool("repository.soft_delete"),
			HistoryRetention:       v.GetInt("repository.history_retention"),
			StrictReferenceCopies:  v.GetBool("repository.strict_reference_copies"),
		},
		Database: db.Config{
			URL:      v.GetString("database.url"),
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Badger: repository.BadgerConfig{
			Path:       v.GetString("badger.path"),
			InMemory:   v.GetBool("badger.in_memory"),
			SyncWrites: v.GetBool("badger.sync_writes"),
		},
		TypeDefPaths: v.GetStringSlice("typedefs.paths"),
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		EventBuffer: v.GetInt("events.buffer"),
	}

	if cfg.Repository.MetadataCollectionID == "" {
		cfg.Repository.MetadataCollectionID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot constrain on its own.
func (c Config) Validate() error {
	var errs []error
	switch c.Repository.Backend {
	case BackendMemory, BackendPostgres, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("repository.backend: unknown backend %q", c.Repository.Backend))
	}
	if c.Repository.HistoryRetention < 0 {
		errs = append(errs, errors.New("repository.history_retention: must not be negative"))
	}
	if c.Repository.Backend == BackendBadger && !c.Badger.InMemory && c.Badger.Path == "" {
		errs = append(errs, errors.New("badger.path: required unless badger.in_memory is set"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
