package route

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"mscolab/api/internal/apperr"
)

const (
	hexagonPoints    = 7
	hexagonPrefix    = "Hexagon "
	MinHexagonRadius = 0.01
	kmPerDegree      = 110.0
)

type HexagonParams struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	// Radius in km.
	Radius float64 `json:"radius"`
	// Angle in degrees.
	Angle       float64 `json:"angle"`
	Clockwise   bool    `json:"clockwise"`
	FlightLevel float64 `json:"flightlevel"`
}

// Hexagon returns the closed seven-point pattern around the given centre.
// The first and last points coincide.
func Hexagon(p HexagonParams) (Route, error) {
	if p.Radius < MinHexagonRadius {
		return nil, apperr.MalformedInput("hexagon radius must be at least %.2f km", MinHexagonRadius)
	}

	type point struct{ x, y float64 }
	cart := make([]point, 0, hexagonPoints)
	for a := 0; a <= 360; a += 60 {
		rad := (float64(a) + p.Angle) * math.Pi / 180
		cart = append(cart, point{x: p.Radius * math.Cos(rad), y: p.Radius * math.Sin(rad)})
	}
	if !p.Clockwise {
		for i, j := 0, len(cart)-1; i < j; i, j = i+1, j-1 {
			cart[i], cart[j] = cart[j], cart[i]
		}
	}

	out := make(Route, 0, hexagonPoints)
	for i, c := range cart {
		lat := p.CenterLat + c.x/kmPerDegree
		lon := p.CenterLon + c.y/(kmPerDegree*math.Cos((c.x/kmPerDegree+p.CenterLat)*math.Pi/180))
		out = append(out, Waypoint{
			Lat:         lat,
			Lon:         lon,
			FlightLevel: p.FlightLevel,
			Comments:    fmt.Sprintf("%s%d", hexagonPrefix, i+1),
		})
	}
	return out, nil
}

// InsertHexagon inserts a hexagon after index after. A negative index
// inserts at the front; the flight level then comes from params.
func InsertHexagon(r Route, after int, p HexagonParams) (Route, error) {
	if after >= len(r) {
		return nil, apperr.MalformedInput("insert position %d outside route of %d waypoints", after, len(r))
	}
	row := 0
	if after >= 0 {
		row = after + 1
		p.FlightLevel = r[after].FlightLevel
	}
	hex, err := Hexagon(p)
	if err != nil {
		return nil, err
	}
	out := make(Route, 0, len(r)+len(hex))
	out = append(out, r[:row]...)
	out = append(out, hex...)
	out = append(out, r[row:]...)
	return out, nil
}

// RemoveHexagon drops the complete hexagon that contains the waypoint at index.
func RemoveHexagon(r Route, index int) (Route, error) {
	if index < 0 || index >= len(r) {
		return nil, apperr.MalformedInput("waypoint %d does not exist", index)
	}
	n, ok := hexagonOrdinal(r[index].Comments)
	if !ok {
		return nil, apperr.MalformedInput("waypoint %d is not part of a hexagon", index)
	}
	if len(r)-hexagonPoints < MinWaypoints {
		return nil, apperr.MalformedInput("removing the hexagon would leave fewer than %d waypoints", MinWaypoints)
	}
	lo := index - (n - 1)
	hi := index + (hexagonPoints - n)
	if lo < 0 || hi >= len(r) {
		return nil, apperr.MalformedInput("hexagon around waypoint %d is incomplete", index)
	}
	for i := lo; i <= hi; i++ {
		if got, ok := hexagonOrdinal(r[i].Comments); !ok || got != i-lo+1 {
			return nil, apperr.MalformedInput("hexagon around waypoint %d is incomplete", index)
		}
	}
	out := make(Route, 0, len(r)-hexagonPoints)
	out = append(out, r[:lo]...)
	out = append(out, r[hi+1:]...)
	return out, nil
}

func hexagonOrdinal(comment string) (int, bool) {
	if !strings.HasPrefix(comment, hexagonPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(comment, hexagonPrefix))
	if err != nil || n < 1 || n > hexagonPoints {
		return 0, false
	}
	return n, true
}
