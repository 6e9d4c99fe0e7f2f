package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/outfmt"
	"github.com/takapai/maestral/internal/remote"
	"github.com/takapai/maestral/internal/secrets"
	"github.com/takapai/maestral/internal/setup"
	"github.com/takapai/maestral/internal/sync"
	"github.com/takapai/maestral/internal/ui"
)

// LinkCmd runs the OAuth flow and stores the resulting credentials.
type LinkCmd struct {
	Relink bool `help:"Re-authorize even when an account is already linked"`
	Manual bool `help:"Browserless flow: paste the authorization code by hand"`
}

func (c *LinkCmd) Run(ctx context.Context, flags *RootFlags) error {
	u := ui.FromContext(ctx)

	// On headless Linux the file keyring backend needs a password in the
	// environment before the token can be stored.
	if err := setup.SetupKeyringIfNeeded(os.Stderr); err != nil {
		return fmt.Errorf("prepare keyring: %w", err)
	}

	keys, err := secrets.OpenDefault()
	if err != nil {
		return err
	}
	if existing, err := keys.GetToken(); err == nil && !c.Relink {
		if outfmt.IsJSON(ctx) {
			return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
				"linked": true,
				"email":  existing.Email,
			})
		}
		u.Out().Printf("Already linked as %s. Use --relink to re-authorize.", existing.Email)
		return nil
	}

	flow := &remote.Flow{
		ClientID:    config.ClientID(),
		Manual:      c.Manual,
		RelayServer: config.RelayServer(),
	}
	tok, err := flow.Run(ctx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	// Fetch the account identity with the fresh token before anything is
	// persisted, so a rejected token never leaves half a link behind.
	oauthCfg := &oauth2.Config{ClientID: config.ClientID(), Endpoint: remote.Endpoint()}
	client := remote.New(remote.Options{
		TokenSource: oauthCfg.TokenSource(ctx, tok),
		Logger:      slog.Default(),
	})
	defer client.Close()

	acct, err := client.CurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetch account info: %w", err)
	}

	if err := keys.SetToken(secrets.Token{
		AccountID:    acct.AccountID,
		Email:        acct.Email,
		RefreshToken: tok.RefreshToken,
	}); err != nil {
		return err
	}

	cfg, err := openConfig(flags)
	if err != nil {
		return err
	}
	if err := saveAccountInfo(cfg, acct); err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"linked":       true,
			"email":        acct.Email,
			"account_type": acct.AccountType,
		})
	}
	u.Out().Printf("linked\ttrue")
	u.Out().Printf("email\t%s", acct.Email)
	u.Out().Printf("account_type\t%s", acct.AccountType)
	u.Err().Printf("Linked to %s. Run \"maestral start\" to begin syncing.", acct.Email)
	return nil
}

func saveAccountInfo(cfg config.Store, acct remote.AccountInfo) error {
	if err := cfg.Set(config.SectionAccount, config.KeyEmail, acct.Email); err != nil {
		return err
	}
	if err := cfg.Set(config.SectionAccount, config.KeyDisplayName, acct.DisplayName); err != nil {
		return err
	}
	if err := cfg.Set(config.SectionAccount, config.KeyAccountType, acct.AccountType); err != nil {
		return err
	}
	usage := fmt.Sprintf("%s of %s used", formatBytes(acct.UsedBytes), formatBytes(acct.AllocatedBytes))
	return cfg.Set(config.SectionAccount, config.KeyUsage, usage)
}

// UnlinkCmd revokes the stored credentials and clears the account
// state. The local folder and its files stay in place.
type UnlinkCmd struct{}

func (c *UnlinkCmd) Run(ctx context.Context, flags *RootFlags) error {
	u := ui.FromContext(ctx)

	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	email, _ := a.cfg.Get(config.SectionAccount, config.KeyEmail)

	if !flags.Yes {
		ok, err := u.YesNo(fmt.Sprintf("Unlink %s? Local files stay in place", email), false)
		if err != nil {
			return err
		}
		if !ok {
			u.Err().Println("Aborted.")
			return nil
		}
	}

	// A background daemon holds its own client; bring it down before the
	// token goes away under it.
	if status, err := sync.GetDaemonStatus(); err == nil && status.Running {
		if err := sync.StopDaemon(); err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
	}

	if err := a.ctrl.Unlink(ctx); err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"unlinked": true,
			"email":    email,
		})
	}
	u.Out().Printf("unlinked\ttrue")
	if email != "" {
		u.Out().Printf("email\t%s", email)
	}
	return nil
}
