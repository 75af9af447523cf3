package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/okian/fieldtrack/internal/domain/model"
)

const DefaultGoogleURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Google queries the Google Geocoding API. Without a key it is disabled.
type Google struct {
	client
	baseURL string
	apiKey  string
}

func NewGoogle(baseURL, apiKey, userAgent string, hc *http.Client) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &Google{client: newClient(hc, userAgent), baseURL: baseURL, apiKey: apiKey}
}

func (*Google) Name() string { return "google" }

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Components []googleComponent `json:"address_components"`
	} `json:"results"`
}

type googleComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

func (g *Google) Reverse(ctx context.Context, lat, lng float64) (model.Place, error) {
	if g.apiKey == "" {
		return model.Place{}, ErrDisabled
	}
	q := url.Values{}
	q.Set("latlng", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("key", g.apiKey)
	q.Set("language", "en")

	var resp googleResponse
	if err := g.getJSON(ctx, g.baseURL+"?"+q.Encode(), &resp); err != nil {
		return model.Place{}, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return model.Place{}, fmt.Errorf("%w: status %s", ErrNoResult, resp.Status)
	}
	return parseGoogle(resp.Results[0].Components), nil
}

func parseGoogle(comps []googleComponent) model.Place {
	get := func(kind string) string {
		for _, c := range comps {
			if slices.Contains(c.Types, kind) {
				return c.LongName
			}
		}
		return ""
	}

	locality := get("locality")
	district := get("administrative_area_level_3")
	state := get("administrative_area_level_1")
	place := firstNonEmpty(get("neighborhood"), get("sublocality_level_1"), get("sublocality"), locality, district)

	city := district
	if locality != "" && locality != place {
		city = locality
	}

	var area string
	switch {
	case city != "" && state != "":
		area = city + ", " + state
	case state != "":
		area = state
	}
	return model.Place{Place: place, Area: area}
}
