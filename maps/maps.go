// Package maps wraps the Google Maps web services used while authoring
// routes: place autocomplete, place details and driving directions.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"battletrails/logging"
	"battletrails/metrics"
	"battletrails/models"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gmaps "googlemaps.github.io/maps"
)

var (
	ErrNotConfigured  = errors.New("maps API key is not configured")
	ErrTooFewPoints   = errors.New("directions need at least two points")
	ErrNoRouteResults = errors.New("no route found")
)

type api interface {
	PlaceAutocomplete(ctx context.Context, r *gmaps.PlaceAutocompleteRequest) (gmaps.AutocompleteResponse, error)
	PlaceDetails(ctx context.Context, r *gmaps.PlaceDetailsRequest) (gmaps.PlaceDetailsResult, error)
	Directions(ctx context.Context, r *gmaps.DirectionsRequest) ([]gmaps.Route, []gmaps.GeocodedWaypoint, error)
}

type cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

type Prediction struct {
	Description   string `json:"description"`
	PlaceID       string `json:"placeId"`
	MainText      string `json:"mainText,omitempty"`
	SecondaryText string `json:"secondaryText,omitempty"`
}

type Place struct {
	PlaceID  string          `json:"placeId"`
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	Location models.GeoPoint `json:"location"`
}

type Leg struct {
	StartAddress    string `json:"startAddress"`
	EndAddress      string `json:"endAddress"`
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int64  `json:"durationSeconds"`
}

// Directions totals every leg of the best route.
type Directions struct {
	Summary         string `json:"summary"`
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int64  `json:"durationSeconds"`
	Legs            []Leg  `json:"legs"`
	Polyline        string `json:"polyline"`
}

type Options struct {
	APIKey        string
	Language      string
	Region        string
	MemcachedAddr string
	CacheTTL      time.Duration
}

type Client struct {
	api      api
	cache    cache
	ttl      time.Duration
	language string
	region   string
	log      zerolog.Logger
}

// New returns a client. Without an API key every call fails with
// ErrNotConfigured; without a memcached address details are not cached.
func New(opts Options) (*Client, error) {
	c := &Client{
		ttl:      opts.CacheTTL,
		language: opts.Language,
		region:   opts.Region,
		log:      logging.WithComponent("maps"),
	}
	if opts.APIKey != "" {
		client, err := gmaps.NewClient(gmaps.WithAPIKey(opts.APIKey))
		if err != nil {
			return nil, fmt.Errorf("maps client: %w", err)
		}
		c.api = client
	}
	if opts.MemcachedAddr != "" {
		mc := memcache.New(opts.MemcachedAddr)
		mc.Timeout = 200 * time.Millisecond
		c.cache = mc
	}
	return c, nil
}

func (c *Client) Autocomplete(ctx context.Context, input string) ([]Prediction, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}

	req := &gmaps.PlaceAutocompleteRequest{
		Input:    input,
		Language: c.language,
	}
	if c.region != "" {
		req.Components = map[gmaps.Component][]string{gmaps.ComponentCountry: {c.region}}
	}

	resp, err := c.api.PlaceAutocomplete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("autocomplete: %w", err)
	}

	out := make([]Prediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, Prediction{
			Description:   p.Description,
			PlaceID:       p.PlaceID,
			MainText:      p.StructuredFormatting.MainText,
			SecondaryText: p.StructuredFormatting.SecondaryText,
		})
	}
	return out, nil
}

// Details resolves a place id, going through memcached when configured.
func (c *Client) Details(ctx context.Context, placeID string) (*Place, error) {
	if place, ok := c.cached(placeID); ok {
		metrics.PlaceCacheHits.Inc()
		return place, nil
	}
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	metrics.PlaceCacheMisses.Inc()

	res, err := c.api.PlaceDetails(ctx, &gmaps.PlaceDetailsRequest{
		PlaceID:  placeID,
		Language: c.language,
		Fields: []gmaps.PlaceDetailsFieldMask{
			gmaps.PlaceDetailsFieldMaskPlaceID,
			gmaps.PlaceDetailsFieldMaskName,
			gmaps.PlaceDetailsFieldMaskFormattedAddress,
			gmaps.PlaceDetailsFieldMaskGeometry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("place details: %w", err)
	}

	place := &Place{
		PlaceID: placeID,
		Name:    res.Name,
		Address: res.FormattedAddress,
		Location: models.GeoPoint{
			Lat: res.Geometry.Location.Lat,
			Lng: res.Geometry.Location.Lng,
		},
	}
	c.store(place)
	return place, nil
}

func cacheKey(placeID string) string { return "place:" + placeID }

func (c *Client) cached(placeID string) (*Place, bool) {
	if c.cache == nil {
		return nil, false
	}
	item, err := c.cache.Get(cacheKey(placeID))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			c.log.Warn().Err(err).Msg("memcached get failed")
		}
		return nil, false
	}
	var place Place
	if err := json.Unmarshal(item.Value, &place); err != nil {
		return nil, false
	}
	return &place, true
}

func (c *Client) store(place *Place) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(place)
	if err != nil {
		return
	}
	err = c.cache.Set(&memcache.Item{
		Key:        cacheKey(place.PlaceID),
		Value:      data,
		Expiration: int32(c.ttl.Seconds()),
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("memcached set failed")
	}
}

// Directions asks for a driving route from the first point to the last,
// passing through the rest in order.
func (c *Client) Directions(ctx context.Context, points []models.GeoPoint) (*Directions, error) {
	if len(points) < 2 {
		return nil, ErrTooFewPoints
	}
	if c.api == nil {
		return nil, ErrNotConfigured
	}

	req := &gmaps.DirectionsRequest{
		Origin:      formatPoint(points[0]),
		Destination: formatPoint(points[len(points)-1]),
		Mode:        gmaps.TravelModeDriving,
		Language:    c.language,
		Region:      c.region,
	}
	for _, p := range points[1 : len(points)-1] {
		req.Waypoints = append(req.Waypoints, formatPoint(p))
	}

	routes, _, err := c.api.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrNoRouteResults
	}
	return aggregate(routes[0]), nil
}

func formatPoint(p models.GeoPoint) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// aggregate sums distance and duration over all legs of route.
func aggregate(route gmaps.Route) *Directions {
	d := &Directions{
		Summary:  route.Summary,
		Polyline: route.OverviewPolyline.Points,
		Legs:     make([]Leg, 0, len(route.Legs)),
	}
	for _, leg := range route.Legs {
		if leg == nil {
			continue
		}
		l := Leg{
			StartAddress:    leg.StartAddress,
			EndAddress:      leg.EndAddress,
			DistanceMeters:  leg.Distance.Meters,
			DurationSeconds: int64(leg.Duration / time.Second),
		}
		d.DistanceMeters += l.DistanceMeters
		d.DurationSeconds += l.DurationSeconds
		d.Legs = append(d.Legs, l)
	}
	return d
}
