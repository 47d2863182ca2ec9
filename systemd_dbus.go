package svcinstall

import (
	"context"
	"fmt"
	"sync"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
)

// DBusController drives systemd over the message bus instead of shelling
// out to systemctl. Connections are dialed lazily per mode and kept open
// until Close, the manager is not reconnected per call.
type DBusController struct {
	mu    sync.Mutex
	conns map[Mode]*sdbus.Conn
}

// NewDBusController returns a controller talking to the systemd manager
// over D-Bus. Call Close when done with it.
func NewDBusController() *DBusController {
	return &DBusController{conns: make(map[Mode]*sdbus.Conn)}
}

// Close drops all open bus connections.
func (c *DBusController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for mode, conn := range c.conns {
		conn.Close()
		delete(c.conns, mode)
	}
}

// conn returns the connection for mode, dialing it on first use.
func (c *DBusController) conn(ctx context.Context, mode Mode) (*sdbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[mode]; ok {
		return conn, nil
	}
	var conn *sdbus.Conn
	var err error
	if mode == ModeSystem {
		conn, err = sdbus.NewSystemConnectionContext(ctx)
	} else {
		conn, err = sdbus.NewUserConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s bus: %w", mode, err)
	}
	c.conns[mode] = conn
	return conn, nil
}

func (c *DBusController) Enable(ctx context.Context, unit string, mode Mode, now bool) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unit}, false, true); err != nil {
		return fmt.Errorf("enabling %s: %w", unit, err)
	}
	if !now {
		return nil
	}
	return c.Start(ctx, unit, mode)
}

func (c *DBusController) Disable(ctx context.Context, unit string, mode Mode, now bool) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	if _, err := conn.DisableUnitFilesContext(ctx, []string{unit}, false); err != nil {
		return fmt.Errorf("disabling %s: %w", unit, err)
	}
	if !now {
		return nil
	}
	return c.Stop(ctx, unit, mode)
}

// await waits for one queued job to leave the manager's job queue.
func (c *DBusController) await(ctx context.Context, unit, op string, done chan string) error {
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%s %s: job result %q", op, unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *DBusController) Start(ctx context.Context, unit string, mode Mode) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("starting %s: %w", unit, err)
	}
	return c.await(ctx, unit, "starting", done)
}

func (c *DBusController) Stop(ctx context.Context, unit string, mode Mode) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("stopping %s: %w", unit, err)
	}
	return c.await(ctx, unit, "stopping", done)
}

func (c *DBusController) Restart(ctx context.Context, unit string, mode Mode) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("restarting %s: %w", unit, err)
	}
	return c.await(ctx, unit, "restarting", done)
}

func (c *DBusController) DaemonReload(ctx context.Context, mode Mode) error {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return err
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("reloading manager: %w", err)
	}
	return nil
}

func (c *DBusController) IsActive(ctx context.Context, unit string, mode Mode) (bool, error) {
	conn, err := c.conn(ctx, mode)
	if err != nil {
		return false, err
	}
	statuses, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return false, fmt.Errorf("listing %s: %w", unit, err)
	}
	for _, status := range statuses {
		if status.Name == unit {
			return status.ActiveState == "active", nil
		}
	}
	return false, nil
}
