// Package route holds the flight-route document shared by an operation.
package route

import (
	"fmt"

	"mscolab/api/internal/apperr"
)

const MinWaypoints = 2

type Waypoint struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	FlightLevel float64 `json:"flightlevel"`
	Location    string  `json:"location"`
	Comments    string  `json:"comments"`
}

// Route is an ordered list of waypoints. Order is significant.
type Route []Waypoint

// Default is the route seeded into an operation created without one.
func Default() Route {
	return Route{
		{Lat: 55.15, Lon: -23.74, FlightLevel: 0, Location: "B"},
		{Lat: 42.99, Lon: -12.1, FlightLevel: 350, Location: "A"},
	}
}

func (r Route) Validate() error {
	if len(r) < MinWaypoints {
		return apperr.MalformedInput("route needs at least %d waypoints, got %d", MinWaypoints, len(r))
	}
	for i, wp := range r {
		if err := wp.validate(); err != nil {
			return apperr.WithDetails(apperr.KindMalformedInput, fmt.Sprintf("waypoint %d: %s", i, err), map[string]int{"index": i})
		}
	}
	return nil
}

func (w Waypoint) validate() error {
	switch {
	case w.Lat < -90 || w.Lat > 90:
		return fmt.Errorf("lat %v outside [-90, 90]", w.Lat)
	case w.Lon < -180 || w.Lon >= 360:
		return fmt.Errorf("lon %v outside [-180, 360)", w.Lon)
	case w.FlightLevel < 0:
		return fmt.Errorf("negative flight level %v", w.FlightLevel)
	}
	return nil
}

func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	copy(out, r)
	return out
}

func (r Route) Equal(other Route) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Inverted returns the route flown in the opposite direction.
func (r Route) Inverted() Route {
	out := make(Route, len(r))
	for i, wp := range r {
		out[len(r)-1-i] = wp
	}
	return out
}
