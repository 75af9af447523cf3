package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/fieldtrack/internal/domain/model"
)

const DefaultPhotonURL = "https://photon.komoot.io/reverse"

// Photon queries a komoot Photon instance.
type Photon struct {
	client
	baseURL string
}

func NewPhoton(baseURL, userAgent string, hc *http.Client) *Photon {
	if baseURL == "" {
		baseURL = DefaultPhotonURL
	}
	return &Photon{client: newClient(hc, userAgent), baseURL: baseURL}
}

func (*Photon) Name() string { return "photon" }

type photonResponse struct {
	Features []struct {
		Properties photonProps `json:"properties"`
	} `json:"features"`
}

type photonProps struct {
	Name     string `json:"name"`
	City     string `json:"city"`
	Town     string `json:"town"`
	Locality string `json:"locality"`
	County   string `json:"county"`
	State    string `json:"state"`
}

func (p *Photon) Reverse(ctx context.Context, lat, lng float64) (model.Place, error) {
	url := fmt.Sprintf("%s?lon=%s&lat=%s&lang=en", p.baseURL,
		strconv.FormatFloat(lng, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64))

	var resp photonResponse
	if err := p.getJSON(ctx, url, &resp); err != nil {
		return model.Place{}, err
	}
	if len(resp.Features) == 0 {
		return model.Place{}, ErrNoResult
	}
	return parsePhoton(resp.Features[0].Properties), nil
}

func parsePhoton(p photonProps) model.Place {
	return model.Place{
		Place: firstNonEmpty(p.City, p.Town, p.Name, p.Locality, p.County),
		Area:  firstNonEmpty(p.State, p.County),
	}
}
