package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"

	"github.com/coachhq/coach/pkg/aggregator"
	"github.com/coachhq/coach/pkg/config"
	"github.com/coachhq/coach/pkg/db"
	"github.com/coachhq/coach/pkg/db/migrations"
	"github.com/coachhq/coach/pkg/events"
	"github.com/coachhq/coach/pkg/gateway"
	"github.com/coachhq/coach/pkg/generate"
	"github.com/coachhq/coach/pkg/ledger"
	"github.com/coachhq/coach/pkg/proposals"
	"github.com/coachhq/coach/pkg/repoid"
	"github.com/coachhq/coach/pkg/signal"
)

// deps bundles the stores and pipeline components commands share. Every
// command that touches state builds one and closes it when done.
type deps struct {
	cfg      *config.Config
	database *sqlx.DB
	events   *events.Store
	ledger   *ledger.Store
	props    *proposals.Store
	matcher  *signal.Matcher
	agg      *aggregator.Aggregator
	gw       *gateway.Gateway
	repoID   string
	repoRoot string
}

func newDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	runner := db.NewMigrationRunner(database)
	if err := runner.Run(ctx, migrations.GetMigrations()); err != nil {
		database.Close()
		return nil, err
	}

	base, err := db.BaseDir()
	if err != nil {
		database.Close()
		return nil, err
	}
	props, err := proposals.NewStore(base)
	if err != nil {
		database.Close()
		return nil, err
	}

	matcher, err := signal.NewMatcher(cfg.Patterns)
	if err != nil {
		database.Close()
		return nil, err
	}

	ev := events.NewStore(database)
	led := ledger.NewStore(database)

	var gen generate.Generator
	if cfg.Generator.Provider == "anthropic" {
		gen = generate.NewAnthropicGenerator(cfg.Generator.Model, cfg.Generator.MaxTokens)
	} else {
		gen = generate.NewTemplateGenerator()
	}

	agg, err := aggregator.New(cfg, ev, led, props, gen)
	if err != nil {
		database.Close()
		return nil, err
	}

	repoID := repoid.Current(ctx)
	repoRoot := repoid.Root(ctx)

	return &deps{
		cfg:      cfg,
		database: database,
		events:   ev,
		ledger:   led,
		props:    props,
		matcher:  matcher,
		agg:      agg,
		gw:       gateway.New(props, led, repoID, repoRoot),
		repoID:   repoID,
		repoRoot: repoRoot,
	}, nil
}

func (d *deps) Close() {
	d.database.Close()
}
