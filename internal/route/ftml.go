package route

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"mscolab/api/internal/apperr"
)

const ftmlVersion = "1"

type ftmlDocument struct {
	XMLName   xml.Name       `xml:"FlightTrack"`
	Version   string         `xml:"version,attr,omitempty"`
	Waypoints []ftmlWaypoint `xml:"ListOfWaypoints>Waypoint"`
}

type ftmlWaypoint struct {
	FlightLevel string `xml:"flightlevel,attr"`
	Lat         string `xml:"lat,attr"`
	Location    string `xml:"location,attr"`
	Lon         string `xml:"lon,attr"`
	Comments    string `xml:"Comments"`
}

// MarshalFTML renders the route as a flight-track XML document.
func MarshalFTML(r Route) ([]byte, error) {
	doc := ftmlDocument{Version: ftmlVersion, Waypoints: make([]ftmlWaypoint, 0, len(r))}
	for _, wp := range r {
		doc.Waypoints = append(doc.Waypoints, ftmlWaypoint{
			FlightLevel: formatFloat(wp.FlightLevel),
			Lat:         formatFloat(wp.Lat),
			Location:    wp.Location,
			Lon:         formatFloat(wp.Lon),
			Comments:    wp.Comments,
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode ftml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func UnmarshalFTML(data []byte) (Route, error) {
	return DecodeFTML(bytes.NewReader(data))
}

func DecodeFTML(r io.Reader) (Route, error) {
	var doc ftmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperr.MalformedInput("decode ftml: %v", err)
	}
	out := make(Route, 0, len(doc.Waypoints))
	for i, w := range doc.Waypoints {
		lat, err := parseFloat(w.Lat)
		if err != nil {
			return nil, apperr.MalformedInput("waypoint %d lat: %v", i, err)
		}
		lon, err := parseFloat(w.Lon)
		if err != nil {
			return nil, apperr.MalformedInput("waypoint %d lon: %v", i, err)
		}
		fl, err := parseFloat(w.FlightLevel)
		if err != nil {
			return nil, apperr.MalformedInput("waypoint %d flightlevel: %v", i, err)
		}
		out = append(out, Waypoint{Lat: lat, Lon: lon, FlightLevel: fl, Location: w.Location, Comments: w.Comments})
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
