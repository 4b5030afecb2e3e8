package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsift/harvest-cli/internal/fetcher"
	"github.com/talentsift/harvest-cli/internal/license"
	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/resilience"
	"github.com/talentsift/harvest-cli/internal/state"
	"github.com/talentsift/harvest-cli/pkg/wordpress"
)

// harvestEnv holds the initialized session, store, and clients the run
// command wires into the harvester.
type harvestEnv struct {
	Store   state.Store
	Session *fetcher.Session
	Checker license.Checker
	Syncer  wordpress.Client
}

// Close releases resources held by the harvest environment.
func (e *harvestEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("state store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (state.Store, error) {
	st, err := state.Open(ctx, cfg.Store.Driver, cfg.Store.StateDir, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open state store")
	}
	return st, nil
}

func initHarvest(ctx context.Context) (*harvestEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	session, err := fetcher.NewSession(fetcher.Options{
		Origin:            cfg.Site.Origin,
		CookieFile:        cfg.Session.CookieFile,
		Timeout:           time.Duration(cfg.Session.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Session.RequestsPerSecond,
		Retry:             resilience.FromConfig(cfg.Session.RetryMaxAttempts, cfg.Session.RetryInitialDelayMs),
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &harvestEnv{
		Store:   st,
		Session: session,
		Checker: initChecker(),
		Syncer:  initSyncer(),
	}, nil
}

func initSyncer() wordpress.Client {
	return wordpress.NewClient(cfg.Sync.BaseURL, cfg.Sync.Username, cfg.Sync.AppPassword,
		wordpress.WithTimeout(time.Duration(cfg.Sync.TimeoutSecs)*time.Second),
		wordpress.WithMaxRetries(cfg.Sync.MaxRetries),
	)
}

// initChecker picks the license strategy: a forced tier wins, then a
// key+endpoint pair, then restricted.
func initChecker() license.Checker {
	switch {
	case cfg.License.Tier != "":
		return license.NewStatic(model.ExtractionTier(cfg.License.Tier))
	case cfg.License.Key != "" && cfg.License.Endpoint != "":
		return license.NewHTTP(cfg.License.Endpoint, cfg.License.Key)
	default:
		return license.NewStatic(model.TierRestricted)
	}
}
