package maps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"battletrails/logging"
	"battletrails/models"

	"github.com/bradfitz/gomemcache/memcache"
	gmaps "googlemaps.github.io/maps"
)

type fakeAPI struct {
	detailsCalls int
	lastDir      *gmaps.DirectionsRequest
	routes       []gmaps.Route
	err          error
}

func (f *fakeAPI) PlaceAutocomplete(_ context.Context, r *gmaps.PlaceAutocompleteRequest) (gmaps.AutocompleteResponse, error) {
	return gmaps.AutocompleteResponse{Predictions: []gmaps.AutocompletePrediction{
		{Description: "Alcázar de Toledo, Toledo, España", PlaceID: "p1"},
		{Description: r.Input + " (otro)", PlaceID: "p2"},
	}}, f.err
}

func (f *fakeAPI) PlaceDetails(_ context.Context, r *gmaps.PlaceDetailsRequest) (gmaps.PlaceDetailsResult, error) {
	f.detailsCalls++
	if f.err != nil {
		return gmaps.PlaceDetailsResult{}, f.err
	}
	res := gmaps.PlaceDetailsResult{Name: "Alcázar", FormattedAddress: "Cuesta de Carlos V, Toledo"}
	res.Geometry.Location = gmaps.LatLng{Lat: 39.8581, Lng: -4.0208}
	return res, nil
}

func (f *fakeAPI) Directions(_ context.Context, r *gmaps.DirectionsRequest) ([]gmaps.Route, []gmaps.GeocodedWaypoint, error) {
	f.lastDir = r
	return f.routes, nil, f.err
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]*memcache.Item
}

func (f *fakeCache) Get(key string) (*memcache.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[key]; ok {
		return it, nil
	}
	return nil, memcache.ErrCacheMiss
}

func (f *fakeCache) Set(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Key] = item
	return nil
}

func newTestClient(api api, c cache) *Client {
	return &Client{api: api, cache: c, ttl: time.Hour, language: "es", log: logging.WithComponent("maps")}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	route := gmaps.Route{
		Summary:          "A-4",
		OverviewPolyline: gmaps.Polyline{Points: "abc"},
		Legs: []*gmaps.Leg{
			{StartAddress: "Madrid", EndAddress: "Toledo", Distance: gmaps.Distance{Meters: 72000}, Duration: 55 * time.Minute},
			nil,
			{StartAddress: "Toledo", EndAddress: "Bailén", Distance: gmaps.Distance{Meters: 230000}, Duration: 2*time.Hour + 30*time.Second},
		},
	}

	got := aggregate(route)
	if got.DistanceMeters != 302000 {
		t.Errorf("DistanceMeters = %d, want 302000", got.DistanceMeters)
	}
	if want := int64(55*60 + 2*3600 + 30); got.DurationSeconds != want {
		t.Errorf("DurationSeconds = %d, want %d", got.DurationSeconds, want)
	}
	if len(got.Legs) != 2 || got.Polyline != "abc" || got.Summary != "A-4" {
		t.Errorf("unexpected directions: %+v", got)
	}
}

func TestDirectionsRequest(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{routes: []gmaps.Route{{}}}
	c := newTestClient(api, nil)

	points := []models.GeoPoint{{Lat: 40.4168, Lng: -3.7038}, {Lat: 39.8628, Lng: -4.0273}, {Lat: 38.0953, Lng: -3.6319}}
	if _, err := c.Directions(context.Background(), points); err != nil {
		t.Fatalf("Directions() error = %v", err)
	}
	req := api.lastDir
	if req.Origin != "40.416800,-3.703800" || req.Destination != "38.095300,-3.631900" {
		t.Errorf("origin/destination = %q / %q", req.Origin, req.Destination)
	}
	if len(req.Waypoints) != 1 || req.Waypoints[0] != "39.862800,-4.027300" {
		t.Errorf("waypoints = %v", req.Waypoints)
	}
	if req.Mode != gmaps.TravelModeDriving {
		t.Errorf("mode = %v", req.Mode)
	}
}

func TestDirectionsErrors(t *testing.T) {
	t.Parallel()

	two := []models.GeoPoint{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}

	tests := []struct {
		name   string
		client *Client
		points []models.GeoPoint
		want   error
	}{
		{"one point", newTestClient(&fakeAPI{}, nil), two[:1], ErrTooFewPoints},
		{"no api", newTestClient(nil, nil), two, ErrNotConfigured},
		{"no routes", newTestClient(&fakeAPI{}, nil), two, ErrNoRouteResults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.client.Directions(context.Background(), tt.points); !errors.Is(err, tt.want) {
				t.Errorf("Directions() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDetailsUsesCache(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(api, &fakeCache{items: map[string]*memcache.Item{}})

	for i := 0; i < 2; i++ {
		place, err := c.Details(context.Background(), "p1")
		if err != nil {
			t.Fatalf("Details() error = %v", err)
		}
		if place.Name != "Alcázar" || place.Location.Lat != 39.8581 {
			t.Errorf("Details() = %+v", place)
		}
	}
	if api.detailsCalls != 1 {
		t.Errorf("api called %d times, want 1", api.detailsCalls)
	}
}

func TestDetailsWithoutCache(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(api, nil)
	for i := 0; i < 2; i++ {
		if _, err := c.Details(context.Background(), "p1"); err != nil {
			t.Fatal(err)
		}
	}
	if api.detailsCalls != 2 {
		t.Errorf("api called %d times, want 2", api.detailsCalls)
	}
}

func TestAutocomplete(t *testing.T) {
	t.Parallel()

	got, err := newTestClient(&fakeAPI{}, nil).Autocomplete(context.Background(), "Toledo")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].PlaceID != "p1" || got[1].Description != "Toledo (otro)" {
		t.Errorf("Autocomplete() = %+v", got)
	}

	if _, err := newTestClient(nil, nil).Autocomplete(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured error = %v", err)
	}
}
