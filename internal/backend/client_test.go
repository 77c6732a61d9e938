package backend

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, AnonKey: "anon"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{AnonKey: "anon"},
		{URL: "ftp://example.com", AnonKey: "anon"},
		{URL: "https://example.com"},
	}

	for _, cfg := range cases {
		if _, err := New(cfg, nil); err == nil {
			t.Fatalf("expected error for config %+v", cfg)
		}
	}
}

func TestRealtimeURL(t *testing.T) {
	t.Parallel()

	c, err := New(Config{URL: "https://project.example.com/", AnonKey: "anon"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got := c.RealtimeURL()
	if !strings.HasPrefix(got, "wss://project.example.com/realtime/v1/websocket?") {
		t.Fatalf("unexpected realtime url: %s", got)
	}
	if !strings.Contains(got, "apikey=anon") {
		t.Fatalf("expected api key in realtime url: %s", got)
	}
}

func TestSignInEmitsEventAndAuthorizesRequests(t *testing.T) {
	token := signToken(t, "user-1", time.Now().Add(time.Hour))

	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected grant type %q", r.URL.Query().Get("grant_type"))
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("expected apikey header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"refresh_token": "refresh-1",
			"user":          map[string]any{"id": "user-1", "email": "a@example.com"},
		})
	})
	mux.HandleFunc("/rest/v1/job_postings", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	})

	c := newTestClient(t, mux)

	var events []AuthEvent
	unsubscribe := c.OnAuthStateChange(func(event AuthEvent, _ *Session) {
		events = append(events, event)
	})
	defer unsubscribe()

	session, err := c.SignInWithPassword(context.Background(), "a@example.com", "secret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if session.UserID() != "user-1" {
		t.Fatalf("unexpected user id %q", session.UserID())
	}

	var rows []map[string]any
	if err := c.From("job_postings").Execute(context.Background(), &rows); err != nil {
		t.Fatalf("select: %v", err)
	}

	if gotAuth != "Bearer "+token {
		t.Fatalf("expected session token in Authorization, got %q", gotAuth)
	}

	if len(events) != 1 || events[0] != EventSignedIn {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestSignInFailureIsClientError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	}))

	_, err := c.SignInWithPassword(context.Background(), "a@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}

	if !IsClientError(err) {
		t.Fatalf("expected client error, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid login credentials" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	if c.Session() != nil {
		t.Fatal("expected no session after failed sign in")
	}
}

func TestSignUpWithoutSessionRequiresVerification(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		data, _ := body["data"].(map[string]any)
		if data["role"] != "hr" {
			t.Errorf("expected metadata to be forwarded, got %v", body["data"])
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "user-2", "email": "b@example.com"})
	}))

	user, session, err := c.SignUp(context.Background(), "b@example.com", "secret", map[string]any{"role": "hr"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session != nil {
		t.Fatal("expected no session before verification")
	}
	if user.ID != "user-2" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAccessTokenRefreshesOnce(t *testing.T) {
	fresh := signToken(t, "user-1", time.Now().Add(time.Hour))

	var mu sync.Mutex
	refreshes := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		refreshes++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fresh,
			"refresh_token": "refresh-2",
		})
	}))

	c.SetSession(&Session{
		AccessToken:  signToken(t, "user-1", time.Now().Add(10*time.Second)),
		RefreshToken: "refresh-1",
	})

	var refreshed []AuthEvent
	var evMu sync.Mutex
	c.OnAuthStateChange(func(event AuthEvent, _ *Session) {
		evMu.Lock()
		refreshed = append(refreshed, event)
		evMu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.AccessToken(context.Background())
			if err != nil {
				t.Errorf("access token: %v", err)
				return
			}
			if token != fresh {
				t.Errorf("expected refreshed token")
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected a single refresh, got %d", refreshes)
	}
	evMu.Lock()
	defer evMu.Unlock()
	if len(refreshed) != 1 || refreshed[0] != EventTokenRefreshed {
		t.Fatalf("unexpected events: %v", refreshed)
	}
}

func TestClearSessionEmitsSignedOut(t *testing.T) {
	c, _ := New(Config{URL: "http://localhost", AnonKey: "anon"}, nil)

	var events []AuthEvent
	c.OnAuthStateChange(func(event AuthEvent, s *Session) {
		if event == EventSignedOut && s != nil {
			t.Errorf("expected nil session on sign out")
		}
		events = append(events, event)
	})

	if old := c.ClearSession(); old != nil {
		t.Fatal("expected nothing to clear")
	}

	c.storeSession(&Session{AccessToken: "t"})
	if old := c.ClearSession(); old == nil || old.AccessToken != "t" {
		t.Fatalf("expected previous session to be returned")
	}

	if len(events) != 1 || events[0] != EventSignedOut {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestDeregisteredListenerIsNotCalled(t *testing.T) {
	c, _ := New(Config{URL: "http://localhost", AnonKey: "anon"}, nil)

	calls := 0
	unsubscribe := c.OnAuthStateChange(func(AuthEvent, *Session) { calls++ })
	unsubscribe()

	c.SetSession(&Session{AccessToken: "t"})
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

type row struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
	Job       *struct {
		Title string `json:"title"`
	} `json:"job"`
}

func TestQueryBuildsFiltersAndDecodesGzip(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`[{"id":"a1","title":"Go","count":3,"created_at":"2024-05-01T10:00:00.123456+00:00","job":{"title":"Backend"}}]`))
		gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))

	var rows []row
	err := c.From("applications").
		Select("*,job:job_postings(title)").
		Eq("status", "pending").
		In("id", "a1", "a b").
		Is("deleted_at", nil).
		Order("created_at", false).
		Order("id", true).
		Limit(10).
		Execute(context.Background(), &rows)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	for _, want := range []string{
		"status=eq.pending",
		"deleted_at=is.null",
		"order=created_at.desc%2Cid.asc",
		"limit=10",
		"select=%2A%2Cjob%3Ajob_postings%28title%29",
	} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("expected %q in query %q", want, gotQuery)
		}
	}

	if len(rows) != 1 || rows[0].Count != 3 || rows[0].Job == nil || rows[0].Job.Title != "Backend" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be decoded")
	}
}

func TestInsertDecodesRepresentationIntoStruct(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("Prefer") != preferRepresentation {
			t.Errorf("expected representation preference")
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"title":"Go"`) {
			t.Errorf("unexpected body %s", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"new","title":"Go"}]`))
	}))

	var created row
	if err := c.Insert(context.Background(), "applications", map[string]any{"title": "Go"}, &created); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID != "new" {
		t.Fatalf("unexpected created row: %+v", created)
	}
}

func TestUpdateWithNoMatchingRows(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Query().Get("select") != "" {
			t.Errorf("did not expect select on update")
		}
		w.Write([]byte(`[]`))
	}))

	var updated row
	err := c.From("applications").Select("*").Eq("id", "missing").Update(context.Background(), map[string]any{"status": "hired"}, &updated)
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestCountReadsContentRange(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != preferCountExact {
			t.Errorf("expected count preference")
		}
		w.Header().Set("Content-Range", "0-0/7")
		w.Write([]byte(`[{"id":"x"}]`))
	}))

	n, err := c.From("notifications").Eq("read", false).Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}

func TestParseContentRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		expect  int
		wantErr bool
	}{
		{value: "0-9/42", expect: 42},
		{value: "*/0", expect: 0},
		{value: "0-9/*", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseContentRange(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tt.value)
			}
			continue
		}
		if err != nil || got != tt.expect {
			t.Fatalf("parse %q: got %d, %v", tt.value, got, err)
		}
	}
}

func TestServerErrorIsNotClientError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	}))

	var rows []row
	err := c.From("applications").Execute(context.Background(), &rows)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsClientError(err) {
		t.Fatal("did not expect client error")
	}
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestStorageUploadAndPublicURL(t *testing.T) {
	var gotPath, gotUpsert string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUpsert = r.Header.Get("x-upsert")
		w.Write([]byte(`{"Key":"resumes/u1/cv.pdf"}`))
	}))

	key, err := c.Upload(context.Background(), "resumes", "/u1/cv.pdf", "application/pdf", strings.NewReader("pdf"), true)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if key != "resumes/u1/cv.pdf" {
		t.Fatalf("unexpected key %q", key)
	}
	if gotPath != "/storage/v1/object/resumes/u1/cv.pdf" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUpsert != "true" {
		t.Fatalf("expected upsert header, got %q", gotUpsert)
	}

	if url := c.PublicURL("reports", "r1.pdf"); !strings.HasSuffix(url, "/storage/v1/object/public/reports/r1.pdf") {
		t.Fatalf("unexpected public url %q", url)
	}
}
