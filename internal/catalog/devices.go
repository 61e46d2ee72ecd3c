package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gridline/meterfeed/internal/model"
)

// deviceWire is the catalogue's wire format for one meter.
type deviceWire struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// devicesResponse is the GET /api/v1/devices payload.
type devicesResponse struct {
	Devices []deviceWire `json:"devices"`
}

// StatusError is a non-2xx response from the catalogue endpoint.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalogue returned %d: %s", e.Code, http.StatusText(e.Code))
}

// Transient reports whether the failure is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// GetDevices fetches the meter catalogue used to seed the selectable-device
// list. Transient backend errors are retried with jittered backoff; anything
// else fails immediately, since the caller treats a missing catalogue as
// non-fatal and the push stream populates state regardless.
func (c *Client) GetDevices(ctx context.Context) ([]model.Device, error) {
	var resp devicesResponse
	backoff := c.retryBackoff

	for attempt := 0; ; attempt++ {
		err := c.fetchDevices(ctx, &resp)
		if err == nil {
			break
		}

		var se *StatusError
		if !errors.As(err, &se) || !se.Transient() || attempt >= c.maxRetries {
			return nil, err
		}

		// Jitter: backoff * (0.5 to 1.5)
		jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		c.logger.Debug("retrying catalogue fetch",
			"attempt", attempt+1,
			"backoff", jitter,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter):
		}

		backoff *= 2
	}

	devices := make([]model.Device, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		devices = append(devices, model.Device{
			ID:     d.ID,
			Name:   d.Name,
			Active: d.Active,
		})
	}

	c.logger.Debug("fetched device catalogue", "count", len(devices))
	return devices, nil
}

// fetchDevices performs one catalogue request.
func (c *Client) fetchDevices(ctx context.Context, out *devicesResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/devices", nil)
	if err != nil {
		return fmt.Errorf("build catalogue request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch catalogue: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read catalogue response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: body}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse catalogue response: %w", err)
	}
	return nil
}

// ActiveDevices filters the catalogue down to active meters.
func ActiveDevices(devices []model.Device) []model.Device {
	out := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}
