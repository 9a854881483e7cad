package ultrasync

import (
	"context"
	"time"
)

// sessionSurface receives the queue's alerts and login redirects.
type sessionSurface struct {
	c *Client
}

// Alert has no user to show the message to, so it is logged at ERROR.
func (s sessionSurface) Alert(message string) {
	s.c.logs.Error("Panel alert", map[string]interface{}{
		"message": message,
	})
}

func (s sessionSurface) RedirectToLogin(reason string) {
	s.c.expireSession(reason)
}

// expireSession drops the session and starts a background re-login. Further
// redirects while the re-login runs are ignored.
func (c *Client) expireSession(reason string) {
	c.mu.Lock()
	if !c.running || c.session == "" {
		c.mu.Unlock()
		return
	}
	c.session = ""
	c.mu.Unlock()

	c.logs.Warn("Panel session lost, logging in again", map[string]interface{}{
		"reason": reason,
	})
	go c.relogin()
}

// relogin retries Login with prime backoff until it succeeds or the client
// stops, then restarts the sequence loops.
func (c *Client) relogin() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		err := c.Login(context.Background())
		if err == nil {
			c.mu.Lock()
			c.backoffIndex = 0
			running := c.running
			c.mu.Unlock()

			if running {
				c.sync.Restart()
			}
			return
		}

		c.mu.Lock()
		backoffDuration := c.getBackoffDuration()
		c.backoffIndex++
		c.mu.Unlock()

		// ErrorNoTrigger: a failing panel must not feed the log trigger on every retry.
		c.logs.ErrorNoTrigger("Re-login failed, retrying with backoff", map[string]interface{}{
			"error":       err.Error(),
			"backoff_sec": backoffDuration.Seconds(),
			"retry_in":    backoffDuration.String(),
		})

		select {
		case <-c.stopChan:
			return
		case <-time.After(backoffDuration):
		}
	}
}

// getBackoffDuration returns the current backoff duration. Callers hold c.mu.
func (c *Client) getBackoffDuration() time.Duration {
	index := c.backoffIndex
	if index >= len(backoffPrimes) {
		return time.Duration(MaxBackoffSec) * time.Second
	}

	backoffSec := backoffPrimes[index]
	if backoffSec > MaxBackoffSec {
		backoffSec = MaxBackoffSec
	}
	return time.Duration(backoffSec) * time.Second
}
