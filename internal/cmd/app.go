package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/remote"
	"github.com/takapai/maestral/internal/secrets"
	"github.com/takapai/maestral/internal/setup"
	"github.com/takapai/maestral/internal/sync"
	"github.com/takapai/maestral/internal/ui"
)

var errNotLinked = errors.New(`no Dropbox account linked (run "maestral link")`)

func defaultConfigPath() (string, error) {
	return config.FilePath()
}

// app bundles the wired pieces every command works with: the config
// store, the keyring, the Dropbox client and the sync controller.
type app struct {
	cfg    *config.FileStore
	keys   *secrets.KeyringStore
	client *remote.Client
	engine *sync.Engine
	ctrl   *sync.Controller
	ui     *ui.UI
}

func openConfig(flags *RootFlags) (*config.FileStore, error) {
	if flags.Config != "" {
		return config.Open(flags.Config)
	}
	return config.OpenDefault()
}

// newApp wires the client stack together. With needAuth a missing
// account link is an error; without it the client is built tokenless
// so commands that only touch local state still work before the first
// link.
func newApp(ctx context.Context, flags *RootFlags, needAuth bool) (*app, error) {
	// A daemonized process never sourced the user's shell profile, so
	// pick up file-backend keyring credentials from the config dir.
	if err := setup.LoadCredentialsEnv(); err != nil {
		slog.Warn("load keyring credentials", "error", err)
	}

	cfg, err := openConfig(flags)
	if err != nil {
		return nil, err
	}
	keys, err := secrets.OpenDefault()
	if err != nil {
		return nil, err
	}

	ts, err := remote.TokenSourceFromKeyring(ctx, keys, config.ClientID())
	if err != nil {
		var authErr *remote.AuthRequiredError
		if !errors.As(err, &authErr) {
			return nil, err
		}
		if needAuth {
			return nil, errNotLinked
		}
		ts = nil
	}

	client := remote.New(remote.Options{
		TokenSource: ts,
		Secrets:     keys,
		Root:        config.SyncPath(cfg),
		Logger:      slog.Default(),
	})
	engine := sync.NewEngine(sync.EngineOptions{
		Client: client,
		Store:  cfg,
		Logger: slog.Default(),
	})
	ctrl, err := sync.NewController(sync.ControllerOptions{
		Config:  cfg,
		Client:  client,
		Monitor: engine,
		UI:      ui.FromContext(ctx),
		Logger:  slog.Default(),
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		keys:   keys,
		client: client,
		engine: engine,
		ctrl:   ctrl,
		ui:     ui.FromContext(ctx),
	}, nil
}

// linked reports whether a Dropbox account is linked, regardless of
// whether this app was built with a token source.
func (a *app) linked() bool {
	_, err := a.keys.GetToken()
	return err == nil
}

func (a *app) Close() error {
	return a.client.Close()
}
