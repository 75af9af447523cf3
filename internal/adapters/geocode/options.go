package geocode

import (
	"net/http"
	"strings"
	"time"

	"github.com/okian/fieldtrack/pkg/logger"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBatch sets the batch size and the pause between batches.
func WithBatch(size int, delay time.Duration) Option {
	return func(r *Resolver) {
		if size > 0 {
			r.batchSize = size
		}
		if delay >= 0 {
			r.batchDelay = delay
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// ProviderConfig describes the provider chain.
type ProviderConfig struct {
	Names        []string
	UserAgent    string
	PhotonURL    string
	NominatimURL string
	GoogleURL    string
	GoogleAPIKey string
	Native       NativeFunc
	HTTPClient   *http.Client
}

// BuildProviders instantiates the named providers in order. Unknown names
// are skipped.
func BuildProviders(cfg ProviderConfig) []Provider {
	out := make([]Provider, 0, len(cfg.Names))
	for _, name := range cfg.Names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "native":
			out = append(out, Native{Fn: cfg.Native})
		case "photon":
			out = append(out, NewPhoton(cfg.PhotonURL, cfg.UserAgent, cfg.HTTPClient))
		case "nominatim":
			out = append(out, NewNominatim(cfg.NominatimURL, cfg.UserAgent, cfg.HTTPClient))
		case "google":
			out = append(out, NewGoogle(cfg.GoogleURL, cfg.GoogleAPIKey, cfg.UserAgent, cfg.HTTPClient))
		}
	}
	return out
}
