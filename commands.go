package ultrasync

import (
	"fmt"

	"github.com/st-keller/ultrasync/panel"
	"github.com/st-keller/ultrasync/queue"
	"github.com/st-keller/ultrasync/registry"
	"github.com/st-keller/ultrasync/seqsync"
	"github.com/st-keller/ultrasync/standard"
)

// SetAlarm arms (away or stay) or disarms area. area is 1-based, or
// panel.AllAreas for every area at once. The command is queued; its
// response updates the local state when it arrives.
func (c *Client) SetAlarm(area int, scene panel.Scene) error {
	if _, err := panel.ParseScene(string(scene)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScene, err)
	}
	if err := c.checkArea(area); err != nil {
		return err
	}
	return c.command(panel.KeyFunctionPath, panel.KeyFunction(area, scene.Function()), c.applyAreaResponse)
}

// ToggleChime flips the door chime of area (or of every area).
func (c *Client) ToggleChime(area int) error {
	if err := c.checkArea(area); err != nil {
		return err
	}
	return c.command(panel.KeyFunctionPath, panel.KeyFunction(area, panel.FuncChime), c.applyAreaResponse)
}

// ToggleZoneBypass flips the bypass state of zone (1-based).
func (c *Client) ToggleZoneBypass(zone int) error {
	c.mu.Lock()
	names := c.zoneNames
	session := c.session
	c.mu.Unlock()

	if session == "" {
		return ErrNotAuthenticated
	}
	if zone < 1 || zone > len(names) || !names.Used(zone-1) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	return c.command(panel.ZoneFunctionPath, panel.BypassZone(zone), c.applyZoneResponse)
}

func (c *Client) checkArea(area int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == "" {
		return ErrNotAuthenticated
	}
	if area == panel.AllAreas {
		return nil
	}
	if area < 1 || area > len(c.areaNames) || !c.areaNames.Used(area-1) {
		return fmt.Errorf("%w: %d", ErrInvalidArea, area)
	}
	return nil
}

func (c *Client) command(path, payload string, apply queue.CallbackFunc) error {
	c.mu.Lock()
	running, stopped := c.running, c.stopped
	c.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if !running {
		return ErrNotRunning
	}

	id := c.queue.Submit(path, queue.Callback(apply), false, payload)
	if id == "" {
		return ErrStopped
	}
	c.logs.Info("Panel command queued", map[string]interface{}{
		"id":      id,
		"path":    path,
		"payload": payload,
	})
	return nil
}

// applyAreaResponse treats a key function response as a full area bank and
// asks the panel for its sequence vector right away.
func (c *Client) applyAreaResponse(body string, ok bool) {
	if !ok {
		c.commandTimedOut(panel.KeyFunctionPath)
		return
	}
	if bank, err := seqsync.ApplyArea(c.registry, body); err != nil {
		c.logs.Warn("Failed to apply command response", map[string]interface{}{
			"kind":  registry.Areas.String(),
			"error": err.Error(),
		})
	} else {
		c.logs.Debug("Command response applied", map[string]interface{}{
			"kind": registry.Areas.String(),
			"bank": bank,
		})
	}
	c.sync.CheckNow(registry.Areas)
}

func (c *Client) applyZoneResponse(body string, ok bool) {
	if !ok {
		c.commandTimedOut(panel.ZoneFunctionPath)
		return
	}
	if bank, err := seqsync.ApplyZone(c.registry, body); err != nil {
		c.logs.Warn("Failed to apply command response", map[string]interface{}{
			"kind":  registry.Zones.String(),
			"error": err.Error(),
		})
	} else {
		c.logs.Debug("Command response applied", map[string]interface{}{
			"kind": registry.Zones.String(),
			"bank": bank,
		})
	}
	c.sync.CheckNow(registry.Zones)
}

func (c *Client) commandTimedOut(path string) {
	sessionSurface{c: c}.Alert(queue.ConnectionLostMessage)
	c.logs.Debug("Command timed out", map[string]interface{}{
		"path": path,
	})
}

// Areas decodes every used area from the local state.
func (c *Client) Areas() []panel.Area {
	c.mu.Lock()
	names := c.areaNames
	c.mu.Unlock()

	return panel.DecodeAreas(
		names,
		c.registry.Sequences(registry.Areas),
		c.registry.AreaStatus(),
		c.registry.SystemFaults(),
	)
}

// Zones decodes every used zone from the local state.
func (c *Client) Zones() []panel.Zone {
	c.mu.Lock()
	names := c.zoneNames
	c.mu.Unlock()

	return panel.DecodeZones(names, c.registry.ZoneStatus())
}

// System summarizes all areas and the system fault lines.
func (c *Client) System() panel.System {
	return panel.Summarize(c.Areas(), c.registry.SystemFaults())
}

// Connectivity returns the per-endpoint statistics snapshot.
func (c *Client) Connectivity() []standard.EndpointStats {
	return c.connectivity.Stats()
}
