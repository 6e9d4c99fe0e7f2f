// Package cmd implements the maestral command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/takapai/maestral/internal/outfmt"
	"github.com/takapai/maestral/internal/remote"
	"github.com/takapai/maestral/internal/secrets"
	"github.com/takapai/maestral/internal/ui"
)

// RootFlags are the global flags shared by every command.
type RootFlags struct {
	Color   string `help:"Color output: auto|always|never" default:"${color}"`
	JSON    bool   `help:"Output JSON to stdout (best for scripting)" default:"${json}" short:"j"`
	Plain   bool   `help:"Output stable, parseable text to stdout" default:"${plain}" short:"p"`
	JQ      string `name:"jq" help:"Apply jq expression to JSON output"`
	Config  string `help:"Config file location (default: ${config_path})" type:"path"`
	NoInput bool   `help:"Never prompt; fail instead (useful for CI)" aliases:"non-interactive"`
	Yes     bool   `help:"Skip confirmations" short:"y" aliases:"force"`
	Verbose bool   `help:"Enable verbose logging" short:"v"`
}

// CLI is the full command tree.
type CLI struct {
	RootFlags `embed:""`

	Version kong.VersionFlag `help:"Print version and exit"`

	Link    LinkCmd    `cmd:"" help:"Link a Dropbox account"`
	Unlink  UnlinkCmd  `cmd:"" help:"Unlink the Dropbox account and discard credentials"`
	Start   StartCmd   `cmd:"" help:"Start syncing (daemonizes unless --foreground)"`
	Stop    StopCmd    `cmd:"" help:"Stop the sync daemon"`
	Pause   PauseCmd   `cmd:"" help:"Pause syncing"`
	Resume  ResumeCmd  `cmd:"" help:"Resume syncing"`
	Status  StatusCmd  `cmd:"" help:"Show the sync and account status"`
	Dir     DirCmd     `cmd:"" help:"Print the local Dropbox folder location"`
	MoveDir MoveDirCmd `cmd:"" name:"move-dir" help:"Move the local Dropbox folder"`

	Excluded ExcludedCmd `cmd:"" help:"Manage folders excluded from syncing"`

	VersionCmd VersionCmd `cmd:"" name:"version" help:"Print version"`
}

type exitPanic struct{ code int }

// Execute parses args and runs the selected command. The returned error
// carries the process exit code via ExitCode.
func Execute(args []string) (err error) {
	parser, cli, err := newParser()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if ep, ok := r.(exitPanic); ok {
				if ep.code == 0 {
					err = nil
					return
				}
				err = &ExitError{Code: ep.code, Err: errors.New("exited")}
				return
			}
			panic(r)
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		err = wrapParseError(err)
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		return err
	}

	// --jq implies JSON output; reject the combination with --plain.
	if cli.JQ != "" {
		if cli.Plain {
			fmt.Fprintln(os.Stderr, "Error: --jq requires --json output (incompatible with --plain)")
			return usage("--jq requires --json output")
		}
		cli.JSON = true
	}

	logLevel := slog.LevelWarn
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Opt-in: default to JSON when stdout is piped. Done after parsing
	// so --plain can override it.
	if envBool("MAESTRAL_AUTO_JSON") && !cli.JSON && !cli.Plain && !term.IsTerminal(int(os.Stdout.Fd())) {
		cli.JSON = true
	}

	mode, err := outfmt.FromFlags(cli.JSON, cli.Plain)
	if err != nil {
		return newUsageError(err)
	}

	ctx := context.Background()
	ctx = outfmt.WithMode(ctx, mode)
	ctx, err = outfmt.WithJQ(ctx, cli.JQ)
	if err != nil {
		return newUsageError(err)
	}

	uiColor := cli.Color
	if mode.JSON || mode.Plain {
		uiColor = "never"
	}
	u, err := ui.New(ui.Options{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Color:   uiColor,
		NoInput: cli.NoInput,
	})
	if err != nil {
		return err
	}
	ctx = ui.WithUI(ctx, u)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&cli.RootFlags)

	err = kctx.Run()
	if err == nil {
		return nil
	}
	// q/quit at a prompt is a clean abort.
	if errors.Is(err, ui.ErrQuit) {
		return nil
	}
	err = stableExitCode(err)

	// The connectivity guard already told the user what happened.
	if !errors.Is(err, remote.ErrNotConnected) {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			u.Err().Error(msg)
		}
	}
	return err
}

func newParser() (*kong.Kong, *CLI, error) {
	envMode := outfmt.FromEnv()
	vars := kong.Vars{
		"color":       envOr("MAESTRAL_COLOR", "auto"),
		"json":        boolString(envMode.JSON),
		"plain":       boolString(envMode.Plain),
		"config_path": configPathLine(),
		"version":     VersionString(),
	}

	cli := &CLI{}
	parser, err := kong.New(
		cli,
		kong.Name("maestral"),
		kong.Description(helpDescription()),
		kong.Vars(vars),
		kong.Writers(os.Stdout, os.Stderr),
		kong.Exit(func(code int) { panic(exitPanic{code: code}) }),
	)
	if err != nil {
		return nil, nil, err
	}
	return parser, cli, nil
}

func helpDescription() string {
	desc := "Sync a local folder with a Dropbox account."

	backendInfo, err := secrets.ResolveKeyringBackendInfo()
	var backendLine string
	if err != nil {
		backendLine = fmt.Sprintf("error: %v", err)
	} else {
		backendLine = fmt.Sprintf("%s (source: %s)", backendInfo.Value, backendInfo.Source)
	}

	return fmt.Sprintf("%s\n\nConfig:\n  file: %s\n  keyring backend: %s", desc, configPathLine(), backendLine)
}

func configPathLine() string {
	p, err := defaultConfigPath()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return p
}

func wrapParseError(err error) error {
	if err == nil {
		return nil
	}
	var parseErr *kong.ParseError
	if errors.As(err, &parseErr) {
		return &ExitError{Code: exitUsage, Err: parseErr}
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func boolString(v bool) string {
	return strconv.FormatBool(v)
}
