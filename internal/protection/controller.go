package protection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keygate/internal/client"
	"keygate/internal/infrastructure"
)

// StatusSource reports the current session status
type StatusSource interface {
	Status(ctx context.Context) client.Status
}

// Controller applies the session state to an Enforcer
type Controller struct {
	enforcer Enforcer
	source   StatusSource
	logger   *slog.Logger

	mu      sync.Mutex
	enabled *bool
}

// NewController creates a controller
func NewController(enforcer Enforcer, source StatusSource, logger *slog.Logger) *Controller {
	return &Controller{
		enforcer: enforcer,
		source:   source,
		logger:   infrastructure.WithComponent(logger, "protection"),
	}
}

// Reconcile enables enforcement iff state is Active. The enforcer is
// called every time, not only on change, so an external reset is repaired.
func (c *Controller) Reconcile(ctx context.Context, state client.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := state == client.StateActive
	var err error
	if want {
		err = c.enforcer.Enable(ctx)
	} else {
		err = c.enforcer.Disable(ctx)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to apply protection",
			slog.Bool("enable", want),
			slog.String("state", string(state)),
			slog.String("error", err.Error()))
		return err
	}

	if c.enabled == nil || *c.enabled != want {
		c.logger.InfoContext(ctx, "protection changed",
			slog.Bool("enabled", want),
			slog.String("state", string(state)))
	}
	c.enabled = &want
	return nil
}

// Enabled reports the last applied decision
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled != nil && *c.enabled
}

// Listener returns a session listener that reconciles on every transition
func (c *Controller) Listener(ctx context.Context) client.Listener {
	return func(_, next client.Status) {
		_ = c.Reconcile(ctx, next.State)
	}
}

// Sync reconciles against the source's current status
func (c *Controller) Sync(ctx context.Context) error {
	return c.Reconcile(ctx, c.source.Status(ctx).State)
}

// Run reconciles at start and then at every interval until ctx is done
func (c *Controller) Run(ctx context.Context, interval time.Duration, newTicker func(time.Duration) client.Ticker) error {
	if newTicker == nil {
		newTicker = client.NewRealTicker
	}
	if err := c.Sync(ctx); err != nil {
		c.logger.WarnContext(ctx, "initial protection sync failed", slog.String("error", err.Error()))
	}

	t := newTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			_ = c.Sync(ctx)
		}
	}
}
