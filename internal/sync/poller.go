package sync

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/remote"
)

// DefaultPollIntervalDuration is the default interval between remote
// change polls.
const DefaultPollIntervalDuration = 15 * time.Second

// PollInterval returns the poll interval from the environment or the
// default.
func PollInterval() time.Duration {
	if envVal := os.Getenv("MAESTRAL_POLL_INTERVAL"); envVal != "" {
		if d, err := time.ParseDuration(envVal); err == nil {
			return d
		}
	}
	return DefaultPollIntervalDuration
}

// changeSource is the remote surface the poller consumes.
type changeSource interface {
	LatestCursor(ctx context.Context) (string, error)
	ListFolderContinue(ctx context.Context, cursor string) (remote.ListResult, error)
	ApplyChange(ctx context.Context, md remote.Metadata) error
}

// RemotePoller drains the remote change feed and applies every entry to
// the local tree. The listing cursor is persisted after each applied
// page so a restart resumes where the last run stopped.
type RemotePoller struct {
	source    changeSource
	store     config.Store
	logger    *slog.Logger
	interval  time.Duration
	connected func() bool
}

// RemotePollerOptions configures a RemotePoller.
type RemotePollerOptions struct {
	Source   changeSource
	Store    config.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Connected gates polling; nil means always poll.
	Connected func() bool
}

func NewRemotePoller(opts RemotePollerOptions) *RemotePoller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = PollInterval()
	}
	return &RemotePoller{
		source:    opts.Source,
		store:     opts.Store,
		logger:    logger,
		interval:  interval,
		connected: opts.Connected,
	}
}

// Start polls until the context is cancelled.
func (p *RemotePoller) Start(ctx context.Context) error {
	cursor := config.Cursor(p.store)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if p.connected != nil && !p.connected() {
			continue
		}

		if cursor == "" {
			cur, err := p.source.LatestCursor(ctx)
			if err != nil {
				p.logger.Warn("initialize cursor", "error", err)
				continue
			}
			cursor = cur
			if err := config.SetCursor(p.store, cursor); err != nil {
				p.logger.Error("persist cursor", "error", err)
			}
			continue
		}

		next, err := p.pollOnce(ctx, cursor)
		cursor = next
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if remote.IsCursorReset(err) {
				p.logger.Warn("cursor invalidated by server, tracking changes from now on")
				cursor = ""
				continue
			}
			p.logger.Warn("poll remote changes", "error", err)
		}
	}
}

// pollOnce drains the feed page by page. Each applied page commits its
// cursor before the next fetch; on error the cursor of the last
// committed page is returned.
func (p *RemotePoller) pollOnce(ctx context.Context, cursor string) (string, error) {
	excluded := config.ExcludedFolders(p.store)
	current := cursor

	for {
		res, err := p.source.ListFolderContinue(ctx, current)
		if err != nil {
			return current, err
		}

		applied := 0
		for _, md := range res.Entries {
			if remote.UnderAny(md.PathLower, excluded) {
				continue
			}
			if err := p.source.ApplyChange(ctx, md); err != nil {
				p.logger.Error("apply remote change", "path", md.PathDisplay, "error", err)
				continue
			}
			applied++
		}
		if applied > 0 {
			p.logger.Info("applied remote changes", "count", applied)
		}

		current = res.Cursor
		if err := config.SetCursor(p.store, current); err != nil {
			return current, err
		}
		if !res.HasMore {
			return current, nil
		}
	}
}
