// Package geocode turns coordinates into human readable place names by
// asking a chain of reverse geocoding providers.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

var (
	// ErrNoResult means the provider answered but had nothing usable.
	ErrNoResult = errors.New("no result")
	// ErrDisabled means the provider is not configured.
	ErrDisabled = errors.New("provider disabled")
)

// Provider resolves a coordinate.
type Provider interface {
	Name() string
	Reverse(ctx context.Context, lat, lng float64) (model.Place, error)
}

const maxBody = 1 << 20

// client is the HTTP plumbing shared by the web providers.
type client struct {
	http      *http.Client
	userAgent string
}

func newClient(hc *http.Client, userAgent string) client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return client{http: hc, userAgent: userAgent}
}

func (c client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NativeFunc is a platform geocoder, usually backed by the device OS.
type NativeFunc func(ctx context.Context, lat, lng float64) (model.Place, error)

// Native adapts a NativeFunc. A nil func makes the provider disabled.
type Native struct {
	Fn NativeFunc
}

func (Native) Name() string { return "native" }

func (n Native) Reverse(ctx context.Context, lat, lng float64) (model.Place, error) {
	if n.Fn == nil {
		return model.Place{}, ErrDisabled
	}
	return n.Fn(ctx, lat, lng)
}
