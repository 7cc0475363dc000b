package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/utils"
)

// Config is assembled from environment variables, optionally overlaid by
// a YAML file named in LOREBOUND_CONFIG. File values win over env values
// so a checked-in config can pin a whole deployment.
type Config struct {
	Port        string `yaml:"port"`
	LogMode     string `yaml:"log_mode"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:        utils.GetEnv("PORT", "8080", log),
		LogMode:     utils.GetEnv("LOG_MODE", "development", log),
		Environment: utils.GetEnv("ENVIRONMENT", "local", log),
		Version:     utils.GetEnv("VERSION", "dev", log),
	}

	path := strings.TrimSpace(os.Getenv("LOREBOUND_CONFIG"))
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	log.Info("Loaded config overlay", "path", path)
	return cfg, nil
}
