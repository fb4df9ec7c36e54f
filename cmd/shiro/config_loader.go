package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/config/provider"
)

// providerConfig describes the config source selected by the global flags.
func (cli *CLI) providerConfig() (provider.ProviderConfig, error) {
	t, err := provider.ParseType(cli.ConfigType)
	if err != nil {
		return provider.ProviderConfig{}, err
	}
	if t != provider.TypeFile && len(cli.ConfigEndpoints) == 0 {
		return provider.ProviderConfig{}, fmt.Errorf("--config-endpoints is required for %s", t)
	}
	return provider.ProviderConfig{
		Type:      t,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	}, nil
}

// loadConfig loads, defaults and validates the configuration. The caller
// closes the loader.
func (cli *CLI) loadConfig(ctx context.Context) (*config.Config, *config.Loader, error) {
	opts, err := cli.providerConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg, loader, err := config.LoadConfig(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("Loaded configuration", "type", opts.Type, "path", opts.Path)
	return cfg, loader, nil
}
