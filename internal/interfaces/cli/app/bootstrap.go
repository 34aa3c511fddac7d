package app

import (
	"fmt"

	"courseledger/internal/infrastructure/config"
	"courseledger/internal/shared/logger"
)

// Bootstrap loads configuration and installs the process logger.
func Bootstrap(configPath string) (*config.Config, logger.Interface, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logger, cfg.Server.Mode); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.NewLogger(), nil
}
