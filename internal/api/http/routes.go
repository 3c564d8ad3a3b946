package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/geocode"
	"github.com/i474232898/environmental-fusion/internal/store"
)

var validate = validator.New()

// Fusion is the part of the fusion facade served over HTTP.
type Fusion interface {
	GetCurrentSnapshot(ctx context.Context, coords fusion.Coordinates) (fusion.Observation, error)
	GetWaterBodyChange(ctx context.Context, coords fusion.Coordinates, historicalDate, currentDate time.Time) (fusion.ChangeReport, error)
}

// Handlers holds the dependencies of the HTTP API. Geocoder may be nil,
// in which case only coordinate queries are accepted.
type Handlers struct {
	Fusion   Fusion
	Geocoder geocode.Resolver
	Records  store.Store

	// RequestTimeout bounds the fusion, geocoding and store calls of one request.
	// fasthttp does not cancel the request context when the client goes away,
	// so this is the only bound on abandoned requests. 0 means none.
	RequestTimeout time.Duration
}

func (h Handlers) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.RequestTimeout > 0 {
		return context.WithTimeout(c.UserContext(), h.RequestTimeout)
	}
	return context.WithCancel(c.UserContext())
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h Handlers) {
	v1 := app.Group("/api/v1")

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		ctx, cancel := h.requestContext(c)
		defer cancel()

		coords, err := h.resolveLocation(ctx, c)
		if err != nil {
			return toFiberError(err)
		}

		obs, err := h.Fusion.GetCurrentSnapshot(ctx, coords)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(obs)
	})

	v1.Get("/waterbody/change", func(c *fiber.Ctx) error {
		var req changeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ctx, cancel := h.requestContext(c)
		defer cancel()

		coords, err := h.resolveLocation(ctx, c)
		if err != nil {
			return toFiberError(err)
		}

		report, err := h.Fusion.GetWaterBodyChange(ctx, coords, req.Historical, req.Current)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(report)
	})

	v1.Get("/records", func(c *fiber.Ctx) error {
		var req recordsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ctx, cancel := h.requestContext(c)
		defer cancel()

		recs, err := h.Records.ListRecent(ctx, store.Filter{Kind: req.Kind, Limit: req.Limit})
		if err != nil {
			return toFiberError(err)
		}
		if recs == nil {
			recs = []store.Record{}
		}
		return c.JSON(fiber.Map{
			"kind":    req.Kind,
			"records": recs,
		})
	})

	v1.Get("/records/:id", func(c *fiber.Ctx) error {
		ctx, cancel := h.requestContext(c)
		defer cancel()

		rec, err := h.Records.Get(ctx, c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(rec)
	})
}

// resolveLocation accepts either lat&lng or city&country.
func (h Handlers) resolveLocation(ctx context.Context, c *fiber.Ctx) (fusion.Coordinates, error) {
	if c.Query("lat") != "" || c.Query("lng") != "" {
		q, err := parseCoordsQuery(c)
		if err != nil {
			return fusion.Coordinates{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fusion.Coordinates{Lat: q.Lat, Lng: q.Lng}, nil
	}

	q := placeQuery{City: c.Query("city"), Country: c.Query("country")}
	if err := validate.Struct(q); err != nil {
		return fusion.Coordinates{}, fiber.NewError(fiber.StatusBadRequest, "lat and lng, or city and country, are required")
	}
	if h.Geocoder == nil {
		return fusion.Coordinates{}, fiber.NewError(fiber.StatusBadRequest, "place lookup is not available; use lat and lng")
	}
	return h.Geocoder.Resolve(ctx, q.City, q.Country)
}

// coordsQuery holds the point a request is about.
type coordsQuery struct {
	Lat float64 `validate:"latitude"`
	Lng float64 `validate:"longitude"`
}

func parseCoordsQuery(c *fiber.Ctx) (coordsQuery, error) {
	var q coordsQuery

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return q, errors.New("lat must be a number")
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		return q, errors.New("lng must be a number")
	}
	q.Lat, q.Lng = lat, lng

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// placeQuery identifies a location by name.
type placeQuery struct {
	City    string `validate:"required"`
	Country string `validate:"required"`
}

// changeQuery holds the two dates of a change request. A missing current date means now.
type changeQuery struct {
	Historical time.Time `validate:"required"`
	Current    time.Time
}

func (q *changeQuery) bind(c *fiber.Ctx) error {
	histStr := c.Query("historical")
	if histStr == "" {
		return errors.New("historical query parameter is required")
	}
	hist, err := parseTime(histStr)
	if err != nil {
		return err
	}
	q.Historical = hist

	if curStr := c.Query("current"); curStr != "" {
		cur, err := parseTime(curStr)
		if err != nil {
			return err
		}
		if cur.Before(hist) {
			return errors.New("current must not be before historical")
		}
		q.Current = cur
	}

	return validate.Struct(q)
}

// recordsQuery holds the filter of the records listing.
type recordsQuery struct {
	Kind  store.Kind `validate:"omitempty,oneof=flood_prediction change_report"`
	Limit int        `validate:"gte=0,lte=500"`
}

func (q *recordsQuery) bind(c *fiber.Ctx) error {
	q.Kind = store.Kind(strings.TrimSpace(c.Query("kind")))
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		q.Limit = n
	}
	return validate.Struct(q)
}

// parseTime tries RFC3339, a plain date, or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}

// toFiberError maps domain errors onto HTTP status codes.
func toFiberError(err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, fusion.ErrInvalidQuery):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "record not found")
	case errors.Is(err, geocode.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, fusion.ErrProviderUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, fusion.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusRequestTimeout, "request canceled or timed out")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}
