// Package matching implements match formation: a like is recorded as a
// directed view, checked against the reverse direction, and promoted to a
// match when the like is mutual. Correctness under concurrent reciprocal
// likes rests on two database constraints, not on locks: the view primary
// key makes repeat swipes impossible, and the unique canonical match row
// lets exactly one of two racing writers create the match.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/emberly/match-app/internal/metrics"
	"github.com/emberly/match-app/internal/store"
)

// ErrSelfView is returned when a user tries to like or pass on themselves.
var ErrSelfView = errors.New("matching: viewer and target are the same user")

// Views is the directed-swipe store. Implemented by *store.Views.
type Views interface {
	Create(ctx context.Context, viewerID, targetID string, liked bool) error
	LikedExists(ctx context.Context, viewerID, targetID string) (bool, error)
}

// Matches creates canonical match rows. Implemented by *store.Matches.
type Matches interface {
	Create(ctx context.Context, a, b string) (*store.Match, bool, error)
}

// Router delivers the realtime signals match formation produces.
// Implemented by *delivery.Router.
type Router interface {
	DeliverMatch(ctx context.Context, match *store.Match)
	DeliverLike(ctx context.Context, targetID string)
}

// LikeCounter tracks likes received per user. Implemented by
// *counter.Likes.
type LikeCounter interface {
	Incr(ctx context.Context, userID string) error
}

// Result is the outcome of one recorded view.
type Result struct {
	Matched   bool         // a mutual like exists
	Duplicate bool         // the pair was already viewed; nothing was written
	Match     *store.Match // set when Matched
}

// Engine coordinates view writes and match formation.
type Engine struct {
	views   Views
	matches Matches
	router  Router
	likes   LikeCounter
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(views Views, matches Matches, router Router, likes LikeCounter) *Engine {
	return &Engine{views: views, matches: matches, router: router, likes: likes}
}

// Like records the directed view viewer -> target and forms a match when
// the reverse like already exists. A repeat view of the same pair writes
// nothing and returns Result{Duplicate: true}; a pass (liked=false) only
// records the view. Every non-duplicate like signals the target and bumps
// their counter, matched or not. The match announcement goes out only when
// this call created the row, so when two mutual likes race, the loser
// reports Matched without re-announcing the match.
func (e *Engine) Like(ctx context.Context, viewerID, targetID string, liked bool) (Result, error) {
	if viewerID == targetID {
		return Result{}, ErrSelfView
	}

	if err := e.views.Create(ctx, viewerID, targetID, liked); err != nil {
		if errors.Is(err, store.ErrDuplicateView) {
			return Result{Duplicate: true}, nil
		}
		return Result{}, fmt.Errorf("matching: record view: %w", err)
	}

	if !liked {
		return Result{}, nil
	}

	// Received-like counter is advisory; a counter-store failure must not
	// fail the swipe.
	if e.likes != nil {
		if err := e.likes.Incr(ctx, targetID); err != nil {
			log.Printf("[matching] like counter user=%s: %v", targetID, err)
		}
	}

	e.router.DeliverLike(ctx, targetID)

	// The view row is already committed, so a like written by the target
	// concurrently with this check is seen by at least one of the two
	// calls.
	reciprocal, err := e.views.LikedExists(ctx, targetID, viewerID)
	if err != nil {
		return Result{}, fmt.Errorf("matching: reciprocal check: %w", err)
	}
	if !reciprocal {
		return Result{}, nil
	}

	match, created, err := e.matches.Create(ctx, viewerID, targetID)
	if err != nil {
		return Result{}, fmt.Errorf("matching: create match: %w", err)
	}
	if created {
		metrics.MatchesFormed.Inc()
		e.router.DeliverMatch(ctx, match)
	}
	return Result{Matched: true, Match: match}, nil
}
