package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emberly/match-app/internal/chat"
	"github.com/emberly/match-app/internal/matching"
	"github.com/emberly/match-app/internal/ratelimit"
	"github.com/emberly/match-app/internal/store"
)

type fakeVerifier struct{}

func (fakeVerifier) Authenticate(ctx context.Context, accessToken, refreshToken string) (string, error) {
	if accessToken == "token-alice" {
		return "alice", nil
	}
	return "", errors.New("unauthorized")
}

type fakeLimiter struct {
	err error
}

func (f *fakeLimiter) Allow(ctx context.Context, actor string, rule ratelimit.Rule) error {
	return f.err
}

type fakeEngine struct {
	result matching.Result
	err    error
}

func (f *fakeEngine) Like(ctx context.Context, viewerID, targetID string, liked bool) (matching.Result, error) {
	return f.result, f.err
}

type fakeChat struct {
	msg       *store.Message
	page      []store.Message
	err       error
	gotBefore *time.Time
	gotLimit  int
}

func (f *fakeChat) SendMessage(ctx context.Context, senderID, recipientID, text string) (*store.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func (f *fakeChat) Conversation(ctx context.Context, userID, otherID string, before *time.Time, limit int) ([]store.Message, error) {
	f.gotBefore = before
	f.gotLimit = limit
	return f.page, f.err
}

func (f *fakeChat) Unmatch(ctx context.Context, actorID, otherID string) error {
	return f.err
}

type fakeLikes struct {
	count int64
}

func (f *fakeLikes) Get(ctx context.Context, userID string) (int64, error) {
	return f.count, nil
}

func newTestServer(engine *fakeEngine, limiter *fakeLimiter, chatSvc *fakeChat) *httptest.Server {
	a := New(fakeVerifier{}, limiter, engine, chatSvc, &fakeLikes{count: 3})
	mux := http.NewServeMux()
	a.Register(mux.Handle)
	return httptest.NewServer(mux)
}

func doRequest(t *testing.T, method, url, token, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/likes", "", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/likes", "forged", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestLike(t *testing.T) {
	engine := &fakeEngine{result: matching.Result{Matched: true}}
	srv := newTestServer(engine, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/likes", "token-alice", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["match"] != true || body["ok"] != true {
		t.Errorf("expected match=true ok=true, got %v", body)
	}
}

func TestLike_DuplicateReportsNotOK(t *testing.T) {
	engine := &fakeEngine{result: matching.Result{Duplicate: true}}
	srv := newTestServer(engine, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/likes", "token-alice", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["match"] != false || body["ok"] != false {
		t.Errorf("expected match=false ok=false for duplicate, got %v", body)
	}
}

func TestLike_SelfViewRejected(t *testing.T) {
	engine := &fakeEngine{err: matching.ErrSelfView}
	srv := newTestServer(engine, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/likes", "token-alice", `{"userId":"alice","liked":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLike_RateLimited(t *testing.T) {
	limiter := &fakeLimiter{err: &ratelimit.Error{ActionKey: ratelimit.RuleSwipe.Key, RetryAfter: 48 * time.Hour}}
	srv := newTestServer(&fakeEngine{}, limiter, &fakeChat{})
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/likes", "token-alice", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected a Retry-After hint")
	}
}

func TestLike_LimiterOutageDenies(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("counter store unavailable")}
	srv := newTestServer(&fakeEngine{}, limiter, &fakeChat{})
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/likes", "token-alice", `{"userId":"bob","liked":true}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected denial when the counter store is down, got %d", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	msg := &store.Message{ID: 7, SenderID: "alice", RecipientID: "bob", Text: "hi", CreatedAt: time.Now()}
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{msg: msg})
	defer srv.Close()

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/messages", "token-alice", `{"userId":"bob","text":"hi"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if body["senderId"] != "alice" || body["text"] != "hi" {
		t.Errorf("unexpected response %v", body)
	}
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&chat.ValidationError{Reason: "message text is empty"}, http.StatusBadRequest},
		{chat.ErrNoMatch, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{err: tc.err})
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/messages", "token-alice", `{"userId":"bob","text":"hi"}`)
		if resp.StatusCode != tc.want {
			t.Errorf("error %v: expected %d, got %d", tc.err, tc.want, resp.StatusCode)
		}
		srv.Close()
	}
}

func TestConversation(t *testing.T) {
	chatSvc := &fakeChat{page: []store.Message{
		{ID: 2, SenderID: "bob", RecipientID: "alice", Text: "later", CreatedAt: time.Now()},
		{ID: 1, SenderID: "alice", RecipientID: "bob", Text: "earlier", CreatedAt: time.Now().Add(-time.Minute)},
	}}
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, chatSvc)
	defer srv.Close()

	cursor := time.Now().UTC().Format(time.RFC3339Nano)
	resp, body := doRequest(t, http.MethodGet,
		srv.URL+"/conversation?userId=bob&before="+cursor+"&limit=20", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	msgs, ok := body["messages"].([]interface{})
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", body)
	}
	if chatSvc.gotBefore == nil || chatSvc.gotLimit != 20 {
		t.Error("cursor or limit not passed through")
	}
}

func TestConversation_BadCursor(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/conversation?userId=bob&before=yesterday", "token-alice", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad cursor, got %d", resp.StatusCode)
	}
}

func TestUnmatch(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/unmatch", "token-alice", `{"userId":"bob"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("expected ok=true, got %v", body)
	}

	gone := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{err: chat.ErrNoMatch})
	defer gone.Close()
	resp, _ = doRequest(t, http.MethodPost, gone.URL+"/unmatch", "token-alice", `{"userId":"bob"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when no match exists, got %d", resp.StatusCode)
	}
}

func TestLikeCount(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeLimiter{}, &fakeChat{})
	defer srv.Close()

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/likes/count", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", body["count"])
	}
}
