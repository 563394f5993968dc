package backend

import (
	"fmt"
	"log/slog"

	"pettycash/internal/cache"
	"pettycash/internal/config"
	"pettycash/internal/extract"
	"pettycash/internal/ledger"
)

const ledgerIDCacheSize = 256

// ledgerOptions converts the application config to ledger service options.
// With a positive LedgerIDCacheTTL the ids cache is created and swept by a
// background manager that is stopped on Close.
func (c *Components) ledgerOptions(cfg *config.Config, logger *slog.Logger) ledger.Options {
	opts := ledger.Options{
		TitlePrefix:            cfg.LedgerTitlePrefix,
		SheetName:              cfg.LedgerSheetName,
		ProvisionOnLookupError: cfg.LedgerProvisionOnLookupError,
	}
	if cfg.LedgerIDCacheTTL > 0 {
		ids := cache.NewLRUCache[ledger.ID](ledgerIDCacheSize, cfg.LedgerIDCacheTTL)
		mgr := cache.NewManager(logger)
		mgr.Register(ids)
		mgr.StartCleanup(cfg.LedgerIDCacheTTL)
		c.onClose(mgr.Stop)
		opts.IDs = ids
	}
	return opts
}

// NewExtractor compiles the configured rule set. A rules file takes
// precedence over the named builtin set.
func NewExtractor(cfg *config.Config) (*extract.Engine, error) {
	if cfg.ExtractRulesFile != "" {
		rs, err := extract.LoadRuleSetFile(cfg.ExtractRulesFile)
		if err != nil {
			return nil, err
		}
		return extract.NewEngine(rs)
	}
	name := cfg.ExtractRuleSet
	if name == "" {
		name = extract.DefaultRuleSet
	}
	engine, err := extract.NewBuiltinEngine(name)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}
	return engine, nil
}
