// Package conflict reconciles an offline working copy of an operation's
// route with the server's current revision. Resolution is a whole-route
// choice made by the user; points are never merged.
package conflict

import (
	"mscolab/api/internal/apperr"
	"mscolab/api/internal/route"
)

type Strategy string

const (
	// StrategyOverwrite makes the working copy the next server revision.
	StrategyOverwrite Strategy = "overwrite"
	// StrategyKeepServer discards the working copy.
	StrategyKeepServer Strategy = "keep_server"
	// StrategyFetch refreshes from the server; same effect as keep_server.
	StrategyFetch Strategy = "fetch"
)

func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(value); s {
	case StrategyOverwrite, StrategyKeepServer, StrategyFetch:
		return s, nil
	case "keep-server", "keep":
		return StrategyKeepServer, nil
	default:
		return "", apperr.MalformedInput("unknown resolution strategy %q", value)
	}
}

// WorkingCopy is a client-local branch of the route taken at BaseRevision.
type WorkingCopy struct {
	OpID         int64       `json:"opId"`
	BaseRevision int64       `json:"baseRevision"`
	Route        route.Route `json:"route"`
}

// ServerState is the authoritative route at Revision.
type ServerState struct {
	Revision int64       `json:"revision"`
	Route    route.Route `json:"route"`
}

type Divergence struct {
	Behind         bool `json:"behind"`
	ContentDiffers bool `json:"contentDiffers"`
}

// Diverged reports whether a resolution dialog should be offered.
func (d Divergence) Diverged() bool {
	return d.Behind || d.ContentDiffers
}

// Detect compares by revision number and content only.
func Detect(wc WorkingCopy, server ServerState) Divergence {
	return Divergence{
		Behind:         wc.BaseRevision < server.Revision,
		ContentDiffers: !wc.Route.Equal(server.Route),
	}
}

// Outcome is the state both sides agree on after a resolution. When
// Commit is set the route still has to be appended on the server and
// Revision is unknown until then.
type Outcome struct {
	Route    route.Route
	Revision int64
	Commit   bool
}

func Resolve(strategy Strategy, wc WorkingCopy, server ServerState) (Outcome, error) {
	if wc.BaseRevision > server.Revision {
		return Outcome{}, apperr.MalformedInput("working copy revision %d is ahead of server revision %d", wc.BaseRevision, server.Revision)
	}
	switch strategy {
	case StrategyOverwrite:
		if err := wc.Route.Validate(); err != nil {
			return Outcome{}, err
		}
		return Outcome{Route: wc.Route.Clone(), Commit: true}, nil
	case StrategyKeepServer, StrategyFetch:
		return Outcome{Route: server.Route.Clone(), Revision: server.Revision}, nil
	default:
		return Outcome{}, apperr.MalformedInput("unknown resolution strategy %q", strategy)
	}
}
