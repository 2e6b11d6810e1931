package conflict

import (
	"errors"
	"testing"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/route"
)

func threePoints() route.Route {
	return route.Route{
		{Lat: 55.0, Lon: 10.0, Location: "EDMO"},
		{Lat: 50.0, Lon: 8.0, FlightLevel: 350, Location: "Mid"},
		{Lat: 48.0, Lon: 11.0, Location: "EDDM"},
	}
}

func TestDetect(t *testing.T) {
	server := ServerState{Revision: 3, Route: threePoints()}
	tests := []struct {
		name string
		wc   WorkingCopy
		want Divergence
	}{
		{name: "in sync", wc: WorkingCopy{BaseRevision: 3, Route: threePoints()}, want: Divergence{}},
		{name: "behind", wc: WorkingCopy{BaseRevision: 2, Route: threePoints()}, want: Divergence{Behind: true}},
		{name: "edited", wc: WorkingCopy{BaseRevision: 3, Route: threePoints().Inverted()}, want: Divergence{ContentDiffers: true}},
		{name: "both", wc: WorkingCopy{BaseRevision: 1, Route: threePoints().Inverted()}, want: Divergence{Behind: true, ContentDiffers: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.wc, server)
			if got != tt.want {
				t.Fatalf("Detect() = %+v, want %+v", got, tt.want)
			}
			if got.Diverged() != (tt.want != Divergence{}) {
				t.Fatalf("Diverged() = %v", got.Diverged())
			}
		})
	}
}

func TestResolveStrategies(t *testing.T) {
	server := ServerState{Revision: 1, Route: threePoints()}
	wc := WorkingCopy{BaseRevision: 1, Route: threePoints().Inverted()}

	for _, strategy := range []Strategy{StrategyKeepServer, StrategyFetch} {
		out, err := Resolve(strategy, wc, server)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", strategy, err)
		}
		if out.Commit || out.Revision != 1 || !out.Route.Equal(server.Route) {
			t.Fatalf("Resolve(%s) = %+v", strategy, out)
		}
	}

	out, err := Resolve(StrategyOverwrite, wc, server)
	if err != nil {
		t.Fatalf("Resolve(overwrite) error = %v", err)
	}
	if !out.Commit || !out.Route.Equal(wc.Route) {
		t.Fatalf("Resolve(overwrite) = %+v", out)
	}
	out.Route[0].Location = "changed"
	if wc.Route[0].Location == "changed" {
		t.Fatal("outcome shares storage with the working copy")
	}
}

func TestResolveRejects(t *testing.T) {
	server := ServerState{Revision: 2, Route: threePoints()}
	tests := []struct {
		name     string
		strategy Strategy
		wc       WorkingCopy
	}{
		{name: "ahead of server", strategy: StrategyFetch, wc: WorkingCopy{BaseRevision: 3, Route: threePoints()}},
		{name: "empty route", strategy: StrategyOverwrite, wc: WorkingCopy{BaseRevision: 2}},
		{name: "unknown strategy", strategy: "merge", wc: WorkingCopy{BaseRevision: 2, Route: threePoints()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(tt.strategy, tt.wc, server); !errors.Is(err, apperr.ErrMalformedInput) {
				t.Fatalf("Resolve() error = %v", err)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for input, want := range map[string]Strategy{"overwrite": StrategyOverwrite, "keep_server": StrategyKeepServer, "keep-server": StrategyKeepServer, "fetch": StrategyFetch} {
		got, err := ParseStrategy(input)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseStrategy("merge"); !errors.Is(err, apperr.ErrMalformedInput) {
		t.Fatalf("ParseStrategy(merge) error = %v", err)
	}
}
