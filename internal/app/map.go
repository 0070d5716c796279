package app

import (
	"fmt"
	"strings"
	"time"

	"pland/internal/aggregator"
	"pland/internal/api"
	"pland/internal/config"
	"pland/internal/solver"
	"pland/internal/store"
)

const defaultStorePath = "./pland.db"

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStorePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: path, BusyTimeout: busy}, nil
}

func mapAggregatorConfig(cfg *config.Config) (aggregator.Config, error) {
	ttl, err := config.ParseDurationOrDefault("aggregator.cache_ttl", cfg.Aggregator.CacheTTL, 5*time.Minute)
	if err != nil {
		return aggregator.Config{}, err
	}
	fetch, err := config.ParseDurationOrDefault("aggregator.fetch_timeout", cfg.Aggregator.FetchTimeout, 15*time.Second)
	if err != nil {
		return aggregator.Config{}, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Aggregator.ReferenceTimezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return aggregator.Config{}, fmt.Errorf("aggregator.reference_timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	return aggregator.Config{
		CacheTTL:        ttl,
		CacheMaxEntries: cfg.Aggregator.CacheMaxEntries,
		FetchTimeout:    fetch,
		Location:        loc,
	}, nil
}

func mapSolverConfig(cfg *config.Config) (solver.Config, error) {
	timeout, err := config.ParseDurationOrDefault("solver.timeout", cfg.Solver.Timeout, 10*time.Second)
	if err != nil {
		return solver.Config{}, err
	}
	return solver.Config{
		BaseURL: strings.TrimSpace(cfg.Solver.URL),
		Timeout: timeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:      cfg.Server.Enabled,
		Addr:         strings.TrimSpace(cfg.Server.Addr),
		Pprof:        cfg.Server.Pprof,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
