// Package app assembles the splitbot application: configuration, storage,
// the session engine, and the Telegram runtime options.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/splitbot/bot"
	"github.com/m3rciful/splitbot/core/bootstrap"
	coreconfig "github.com/m3rciful/splitbot/core/config"
	coredatabase "github.com/m3rciful/splitbot/core/database"
	coretelegram "github.com/m3rciful/splitbot/core/telegram"
	"github.com/m3rciful/splitbot/core/telegram/router"
	"github.com/m3rciful/splitbot/core/telegram/sender"
	"github.com/m3rciful/splitbot/flow"
	"github.com/m3rciful/splitbot/links"
	"github.com/m3rciful/splitbot/splitwise"
)

// SessionConfig tunes the conversational session engine.
type SessionConfig struct {
	DeadlineSeconds int    `yaml:"deadline_seconds" envconfig:"SESSION_DEADLINE_SECONDS"`
	DefaultCurrency string `yaml:"default_currency" envconfig:"SESSION_DEFAULT_CURRENCY"`
}

// Config is the application configuration: the reusable core sections plus
// the bot's own ones.
type Config struct {
	Core      coreconfig.Config   `yaml:",inline"`
	Database  coredatabase.Config `yaml:"database"`
	Splitwise splitwise.Config    `yaml:"splitwise"`
	Session   SessionConfig       `yaml:"session"`
}

// CoreConfig exposes the embedded core configuration to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// LoadConfig reads the YAML file, applies environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}

	if cfg.Session.DeadlineSeconds <= 0 {
		cfg.Session.DeadlineSeconds = 300
	}
	if cfg.Session.DefaultCurrency == "" {
		cfg.Session.DefaultCurrency = "USD"
	}
	return &cfg, nil
}

// App is the assembled application.
type App struct {
	cfg        *Config
	db         *sqlx.DB
	transport  *bot.Transport
	handlers   *bot.Handlers
	dispatcher *sender.Dispatcher
}

// Bootstrap initializes infrastructure and wires the services.
func Bootstrap(cfg *Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   &cfg.Core,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	dispatcher := sender.NewDispatcher(sender.Options{})
	transport := bot.NewTransport()
	linkStore := links.NewStore(res.DB)
	acct := splitwise.New(cfg.Splitwise)

	engine := flow.NewEngine(
		flow.Config{
			Deadline:        time.Duration(cfg.Session.DeadlineSeconds) * time.Second,
			DefaultCurrency: cfg.Session.DefaultCurrency,
		},
		flow.NewMemoryStore(),
		flow.NewTimeouts(flow.NewRealClock()),
		transport,
		linkStore,
		acct,
		bot.Renderer{DefaultCurrency: cfg.Session.DefaultCurrency},
	)

	return &App{
		cfg:        cfg,
		db:         res.DB,
		transport:  transport,
		handlers:   bot.NewHandlers(engine, linkStore, acct, dispatcher),
		dispatcher: dispatcher,
	}, nil
}

// TelegramRunOptions builds the runtime options consumed by the runner.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.handlers.Register(reg)

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.handlers, reg, router.TextOptions{})...)

	return coretelegram.RunOptions{
		Config:      &a.cfg.Core,
		Registry:    reg,
		Dispatcher:  a.dispatcher,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Core, nil),
		Routes:      routes,
		OnStart: func(_ context.Context, rt coretelegram.Runtime) error {
			a.transport.Bind(rt.Bot)
			return nil
		},
		OnStop: func(_ context.Context, _ coretelegram.Runtime) error {
			return a.db.Close()
		},
	}, nil
}
