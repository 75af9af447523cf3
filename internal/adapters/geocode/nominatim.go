package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/fieldtrack/internal/domain/model"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"

// Nominatim queries an OpenStreetMap Nominatim instance.
type Nominatim struct {
	client
	baseURL string
}

func NewNominatim(baseURL, userAgent string, hc *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &Nominatim{client: newClient(hc, userAgent), baseURL: baseURL}
}

func (*Nominatim) Name() string { return "nominatim" }

type nominatimResponse struct {
	Error       string            `json:"error"`
	DisplayName string            `json:"display_name"`
	Address     *nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	Hamlet  string `json:"hamlet"`
	Suburb  string `json:"suburb"`
	State   string `json:"state"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (model.Place, error) {
	url := fmt.Sprintf("%s?lat=%s&lon=%s&format=json&zoom=14&addressdetails=1", n.baseURL,
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lng, 'f', -1, 64))

	var resp nominatimResponse
	if err := n.getJSON(ctx, url, &resp); err != nil {
		return model.Place{}, err
	}
	if resp.Error != "" {
		return model.Place{}, fmt.Errorf("%w: %s", ErrNoResult, resp.Error)
	}
	p := parseNominatim(resp)
	if !p.Resolved() {
		return p, ErrNoResult
	}
	return p, nil
}

func parseNominatim(r nominatimResponse) model.Place {
	if a := r.Address; a != nil {
		p := model.Place{
			Place: firstNonEmpty(a.City, a.Town, a.Village, a.Hamlet, a.Suburb),
			Area:  a.State,
		}
		if p.Resolved() {
			return p
		}
	}

	var parts []string
	for _, s := range strings.Split(r.DisplayName, ",") {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return model.Place{}
	case 1:
		return model.Place{Place: parts[0]}
	}
	return model.Place{
		Place: parts[0],
		Area:  firstNonEmpty(parts[len(parts)-2], parts[len(parts)-1]),
	}
}
