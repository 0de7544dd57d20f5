package config

import (
	"errors"
	"log"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const DefaultModel = "liquid/lfm-2.5-1.2b-instruct:free"

// ModelCatalog is the set of upstream models the gateway may forward to.
type ModelCatalog struct {
	Default string   `mapstructure:"default"`
	Allowed []string `mapstructure:"allowed"`
}

// Allows reports whether model is part of the catalog.
func (c ModelCatalog) Allows(model string) bool {
	return slices.Contains(c.Allowed, strings.TrimSpace(model))
}

func DefaultModelCatalog() ModelCatalog {
	return ModelCatalog{
		Default: DefaultModel,
		Allowed: []string{
			"google/gemini-2.0-flash-lite-preview-02-05:free",
			"google/gemini-2.5-pro",
			"openai/gpt-3.5-turbo",
			"openai/gpt-4",
			"anthropic/claude-3-haiku",
			DefaultModel,
		},
	}
}

type ModelCatalogHolder struct {
	current atomic.Value // holds ModelCatalog
}

// NewStaticModelCatalogHolder returns a holder that never reloads.
func NewStaticModelCatalogHolder(catalog ModelCatalog) *ModelCatalogHolder {
	holder := &ModelCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewModelCatalogHolder() (*ModelCatalogHolder, error) {
	return newModelCatalogHolder("/etc/tokenrelay", ".")
}

func newModelCatalogHolder(paths ...string) (*ModelCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("models")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	defaults := DefaultModelCatalog()
	v.SetDefault("models.default", defaults.Default)
	v.SetDefault("models.allowed", defaults.Allowed)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := readModelCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticModelCatalogHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readModelCatalog(v)
		if err != nil {
			log.Printf("[model-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[model-catalog] reloaded from %s (%d models)", e.Name, len(updated.Allowed))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *ModelCatalogHolder) Get() ModelCatalog {
	return h.current.Load().(ModelCatalog)
}

func readModelCatalog(v *viper.Viper) (ModelCatalog, error) {
	var cfg ModelCatalog
	if err := v.UnmarshalKey("models", &cfg); err != nil {
		return ModelCatalog{}, err
	}
	applyModelOverrides(&cfg)
	cfg.Default = strings.TrimSpace(cfg.Default)
	if err := validateModelCatalog(cfg); err != nil {
		return ModelCatalog{}, err
	}
	return cfg, nil
}

func applyModelOverrides(cfg *ModelCatalog) {
	if raw := strings.TrimSpace(os.Getenv("RELAY_MODELS_ALLOWED")); raw != "" {
		cfg.Allowed = parseList(raw)
	}
	if def := strings.TrimSpace(os.Getenv("RELAY_MODELS_DEFAULT")); def != "" {
		cfg.Default = def
	}
	cfg.Allowed = parseList(strings.Join(cfg.Allowed, ","))
}

func validateModelCatalog(cfg ModelCatalog) error {
	if len(cfg.Allowed) == 0 {
		return errors.New("models.allowed cannot be empty")
	}
	if cfg.Default == "" {
		return errors.New("models.default cannot be empty")
	}
	if !cfg.Allows(cfg.Default) {
		return errors.New("models.default must be one of models.allowed")
	}
	return nil
}
