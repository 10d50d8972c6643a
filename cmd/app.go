package cmd

import (
	"net/http"

	"pier/internal/config"
	"pier/internal/install"
	"pier/internal/marketplace"
	"pier/internal/oauth"
	"pier/internal/store"
)

// app bundles the wired core for one command invocation.
type app struct {
	cfg          config.Config
	storage      store.ScopedStore
	market       *marketplace.Client
	ledger       *oauth.StateLedger
	vault        *oauth.TokenVault
	tokens       *oauth.TokenSource
	flow         *oauth.Flow
	orchestrator *install.Orchestrator
}

// newApp builds the full dependency graph from the configuration loaded in
// the persistent pre-run. Close releases everything it opened.
func newApp() *app {
	cfg, configPath := loadedConfig, loadedConfigPath

	// A failed database open degrades to memory inside Open; an empty path
	// requests memory-only storage outright.
	var storage store.ScopedStore
	if path := cfg.StoragePath(configPath); path == "" {
		storage = store.NewMemoryStore()
	} else {
		storage = store.Open(path)
	}

	market := marketplace.NewClient(cfg.Marketplace.BaseURL,
		marketplace.WithUserAgent("pier/"+rootCmd.Version),
		marketplace.WithHTTPClient(&http.Client{Timeout: cfg.Marketplace.Timeout.Std()}),
	)

	ledger := oauth.NewStateLedger(storage)
	vault := oauth.NewTokenVault(storage)
	tokens := oauth.NewTokenSource(vault, market)

	launcher := &oauth.BrowserLauncher{Port: cfg.OAuth.CallbackPort}
	processor := oauth.NewCallbackProcessor(ledger, vault, market, launcher.RedirectURI())
	flow := oauth.NewFlow(market, ledger, processor, launcher)

	runner := &install.Runner{
		Market:         market,
		Tokens:         tokens,
		Scope:          cfg.Install.Scope,
		OrganizationID: cfg.Install.OrganizationID,
	}
	orchestrator := install.NewOrchestrator(runner, flow, tokens)

	return &app{
		cfg:          cfg,
		storage:      storage,
		market:       market,
		ledger:       ledger,
		vault:        vault,
		tokens:       tokens,
		flow:         flow,
		orchestrator: orchestrator,
	}
}

func (a *app) Close() {
	a.ledger.Stop()
	_ = a.storage.Close()
}
