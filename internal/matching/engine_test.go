package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/emberly/match-app/internal/store"
)

type viewKey struct {
	viewer string
	target string
}

type fakeViews struct {
	rows map[viewKey]bool // -> liked
}

func newFakeViews() *fakeViews {
	return &fakeViews{rows: make(map[viewKey]bool)}
}

func (f *fakeViews) Create(ctx context.Context, viewerID, targetID string, liked bool) error {
	k := viewKey{viewerID, targetID}
	if _, ok := f.rows[k]; ok {
		return store.ErrDuplicateView
	}
	f.rows[k] = liked
	return nil
}

func (f *fakeViews) LikedExists(ctx context.Context, viewerID, targetID string) (bool, error) {
	return f.rows[viewKey{viewerID, targetID}], nil
}

type fakeMatches struct {
	rows map[viewKey]*store.Match // canonical pair -> row
}

func newFakeMatches() *fakeMatches {
	return &fakeMatches{rows: make(map[viewKey]*store.Match)}
}

func (f *fakeMatches) Create(ctx context.Context, a, b string) (*store.Match, bool, error) {
	u1, u2 := store.CanonicalPair(a, b)
	k := viewKey{u1, u2}
	if m, ok := f.rows[k]; ok {
		return m, false, nil
	}
	m := &store.Match{ID: u1 + ":" + u2, UserID1: u1, UserID2: u2, Read1: true, Read2: true, Active: true}
	f.rows[k] = m
	return m, true, nil
}

type fakeRouter struct {
	likes   []string
	matches []*store.Match
}

func (f *fakeRouter) DeliverMatch(ctx context.Context, match *store.Match) {
	f.matches = append(f.matches, match)
}

func (f *fakeRouter) DeliverLike(ctx context.Context, targetID string) {
	f.likes = append(f.likes, targetID)
}

type fakeCounter struct {
	incremented []string
	err         error
}

func (f *fakeCounter) Incr(ctx context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.incremented = append(f.incremented, userID)
	return nil
}

func newTestEngine() (*Engine, *fakeViews, *fakeMatches, *fakeRouter, *fakeCounter) {
	views := newFakeViews()
	matches := newFakeMatches()
	router := &fakeRouter{}
	likes := &fakeCounter{}
	return NewEngine(views, matches, router, likes), views, matches, router, likes
}

func TestLike_SelfViewRejected(t *testing.T) {
	e, _, _, _, _ := newTestEngine()

	if _, err := e.Like(context.Background(), "alice", "alice", true); !errors.Is(err, ErrSelfView) {
		t.Fatalf("expected ErrSelfView, got %v", err)
	}
}

func TestLike_PassRecordsViewOnly(t *testing.T) {
	e, views, _, router, likes := newTestEngine()

	res, err := e.Like(context.Background(), "alice", "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}
	if liked := views.rows[viewKey{"alice", "bob"}]; liked {
		t.Error("pass recorded as a like")
	}
	if len(router.likes) != 0 || len(likes.incremented) != 0 {
		t.Error("a pass must not produce like signals")
	}

	// A like in the other direction after a pass does not match.
	res, err = e.Like(context.Background(), "bob", "alice", true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Error("pass then like must not form a match")
	}
}

func TestLike_FirstLikeSignalsTarget(t *testing.T) {
	e, _, _, router, likes := newTestEngine()

	res, err := e.Like(context.Background(), "alice", "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("one-sided like must not match")
	}
	if len(router.likes) != 1 || router.likes[0] != "bob" {
		t.Errorf("expected a like signal for bob, got %v", router.likes)
	}
	if len(likes.incremented) != 1 || likes.incremented[0] != "bob" {
		t.Errorf("expected like counter increment for bob, got %v", likes.incremented)
	}
	if len(router.matches) != 0 {
		t.Error("no match signal expected")
	}
}

func TestLike_ReciprocalLikeFormsMatch(t *testing.T) {
	e, _, _, router, likes := newTestEngine()

	if _, err := e.Like(context.Background(), "bob", "alice", true); err != nil {
		t.Fatal(err)
	}
	res, err := e.Like(context.Background(), "alice", "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched || res.Match == nil {
		t.Fatalf("expected a match, got %+v", res)
	}
	if res.Match.UserID1 != "alice" || res.Match.UserID2 != "bob" {
		t.Errorf("match row not in canonical order: %+v", res.Match)
	}
	if len(router.matches) != 1 {
		t.Fatalf("expected exactly one match announcement, got %d", len(router.matches))
	}

	// The like that completes the match still signals its target and bumps
	// the counter; the signal fires on every accepted like, matched or not.
	want := []string{"alice", "bob"}
	if len(router.likes) != 2 || router.likes[0] != want[0] || router.likes[1] != want[1] {
		t.Errorf("expected like signals %v, got %v", want, router.likes)
	}
	if len(likes.incremented) != 2 || likes.incremented[1] != "bob" {
		t.Errorf("expected counter increments for both targets, got %v", likes.incremented)
	}
}

func TestLike_DuplicateViewWritesNothing(t *testing.T) {
	e, _, _, router, likes := newTestEngine()

	if _, err := e.Like(context.Background(), "alice", "bob", true); err != nil {
		t.Fatal(err)
	}
	signals := len(router.likes)
	counts := len(likes.incremented)

	res, err := e.Like(context.Background(), "alice", "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate {
		t.Fatal("expected Duplicate for a repeat view")
	}
	if res.Matched {
		t.Error("duplicate must not report a match")
	}
	if len(router.likes) != signals || len(likes.incremented) != counts {
		t.Error("duplicate view must not produce new signals")
	}
}

func TestLike_CounterFailureDoesNotFailSwipe(t *testing.T) {
	views := newFakeViews()
	matches := newFakeMatches()
	router := &fakeRouter{}
	likes := &fakeCounter{err: errors.New("redis down")}
	e := NewEngine(views, matches, router, likes)

	res, err := e.Like(context.Background(), "alice", "bob", true)
	if err != nil {
		t.Fatalf("counter failure must not fail the swipe: %v", err)
	}
	if res.Matched || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(router.likes) != 1 {
		t.Error("like signal should still go out")
	}
}

// When two mutual likes race, both see the reciprocal like and both reach
// the match insert; the constraint loser gets the existing row and must
// not re-announce the match. Simulated here by pre-creating the match row
// before the loser's Like lands.
func TestLike_RaceLoserDoesNotReannounceMatch(t *testing.T) {
	views := newFakeViews()
	matches := newFakeMatches()
	router := &fakeRouter{}
	e := NewEngine(views, matches, router, &fakeCounter{})

	ctx := context.Background()
	views.rows[viewKey{"bob", "alice"}] = true
	if _, created, err := matches.Create(ctx, "alice", "bob"); err != nil || !created {
		t.Fatalf("setup: expected winner create, got created=%v err=%v", created, err)
	}

	res, err := e.Like(ctx, "alice", "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched || res.Match == nil {
		t.Fatal("loser must still report the match")
	}
	if len(router.matches) != 0 {
		t.Fatalf("loser must not announce the match again, got %d announcements", len(router.matches))
	}
}
