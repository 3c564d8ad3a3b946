package providers

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

// imageryPayload is the response shape shared by the imagery services.
type imageryPayload struct {
	Date        *string  `json:"date"`
	Area        *float64 `json:"area"`
	URL         string   `json:"url"`
	Attribution string   `json:"attribution"`
}

var imageryDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

func parseImageryDate(s string) (time.Time, bool) {
	for _, layout := range imageryDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func imageryQueryValues(q fusion.ImageryQuery) url.Values {
	values := url.Values{}
	values.Set("lat", formatCoord(q.Coordinates.Lat))
	values.Set("lon", formatCoord(q.Coordinates.Lng))
	if !q.Date.IsZero() {
		values.Set("date", q.Date.UTC().Format(time.DateOnly))
	}
	return values
}

// toSnapshot validates the identifying fields. Area is required; a missing acquisition
// date falls back to the requested date when one was given.
func (e endpoint) toSnapshot(body []byte, q fusion.ImageryQuery, defaultAttribution string) (fusion.ImagerySnapshot, error) {
	var payload imageryPayload
	if err := e.decode(body, &payload); err != nil {
		return fusion.ImagerySnapshot{}, err
	}

	var missing []string
	var defaulted []string

	if payload.Area == nil {
		missing = append(missing, "area")
	}

	var ts time.Time
	switch {
	case payload.Date != nil:
		t, ok := parseImageryDate(*payload.Date)
		if !ok {
			missing = append(missing, "date")
		}
		ts = t
	case !q.Date.IsZero():
		ts = q.Date.UTC()
		defaulted = append(defaulted, "date")
	default:
		missing = append(missing, "date")
	}

	if len(missing) > 0 {
		return fusion.ImagerySnapshot{}, e.malformed(missing...)
	}

	attribution := payload.Attribution
	if attribution == "" {
		attribution = defaultAttribution
	}

	return fusion.ImagerySnapshot{
		Timestamp:    ts,
		Coordinates:  q.Coordinates,
		SourceID:     e.id,
		ComputedArea: *payload.Area,
		ImageURL:     payload.URL,
		Attribution:  attribution,
		Defaulted:    defaulted,
		RawPayload:   json.RawMessage(body),
	}, nil
}
