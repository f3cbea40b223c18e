package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"museu/internal/app"
	"museu/internal/config"
	"museu/internal/domain"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	a, err := app.Bootstrap(context.Background(), t.TempDir(), config.Default(), logger)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	hub := NewHub(logger)
	handler, err := New(Config{
		Engine:   a.Engine,
		BasePath: "/v0",
		Hub:      hub,
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true, Logger: logger},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			hub.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, principal, name string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"principal_id": principal,
		"name":         name,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil || tok.Token == "" {
		t.Fatalf("decode token: %v %s", err, string(data))
	}
	return map[string]string{"Authorization": "Bearer " + tok.Token}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, string(data))
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 envelope, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "apiKeyAuth") {
		t.Fatalf("openapi %d", res.StatusCode)
	}
}

func TestOpenAPIKeepsAudienceSchemasApart(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi %d", res.StatusCode)
	}
	var doc struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, name := range []string{"Audience", "AudienceTotals", "Dashboard"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Fatalf("schema %s missing", name)
		}
	}
}

func TestFirstContactProvisionsPendingProfessional(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	u1 := login(t, srv, "u1", "Maria Silva")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, u1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	me := decode[domain.UserProfile](t, data)
	if me.Name != "Maria Silva" || me.AppRole != domain.RoleProfessional || me.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("unexpected profile %+v", me)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"reference_month": "march", "year": 2025,
	}, u1)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("pending user created a report: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me/approved", nil, u1)
	if res.StatusCode != http.StatusOK || decode[ApprovedResponse](t, data).Approved {
		t.Fatalf("approved %d: %s", res.StatusCode, string(data))
	}
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin", "Ana")
	u1 := login(t, srv, "u1", "Maria")

	doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, u1)
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/profiles/u1/approval", map[string]any{"status": "approved"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"reference_month": "april", "year": 2025, "executive_summary": "Mês cheio",
	}, u1)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create report status %d: %s", res.StatusCode, string(data))
	}
	report := decode[domain.Report](t, data)
	if report.Status != domain.ReportDraft || report.AuthorID != "u1" {
		t.Fatalf("unexpected report %+v", report)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"reference_month": "april", "year": 2025,
	}, u1)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("duplicate period: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/activities", map[string]any{
		"report_id": report.ID,
		"name":      "Visita mediada",
		"museum":    "Casa das Rosas",
		"audience":  map[string]any{"total": 12, "adults": 10, "pcd": 2},
	}, u1)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create activity status %d: %s", res.StatusCode, string(data))
	}
	activity := decode[domain.Activity](t, data)
	if activity.Classification != domain.ClassRoutine || activity.Status != domain.ActivityNotStarted {
		t.Fatalf("unexpected activity defaults %+v", activity)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+report.ID+"/submit", nil, u1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Report](t, data); got.Status != domain.ReportSubmitted || got.SubmittedAt == nil {
		t.Fatalf("unexpected submitted report %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/activities/"+activity.ID, map[string]any{
		"name": "Visita mediada (editada)", "museum": "Casa das Rosas",
	}, u1)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("activity of submitted report edited: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+report.ID+"/review", map[string]any{"action": "returnReport"}, admin)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("return without comment: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+report.ID+"/review", map[string]any{"action": "approve"}, u1)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("author reviewed own report: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+report.ID+"/review", map[string]any{"action": "approve"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Report](t, data); got.Status != domain.ReportApproved || got.ApprovedAt == nil {
		t.Fatalf("unexpected approved report %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+report.ID+"/full", nil, u1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("full report status %d: %s", res.StatusCode, string(data))
	}
	if full := decode[domain.ReportWithActivities](t, data); len(full.Activities) != 1 {
		t.Fatalf("expected one activity, got %+v", full)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/audience?type=month&month=april&year=2025", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audience status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[AudienceResponse](t, data); got.Total != 12 {
		t.Fatalf("audience = %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_id="+report.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	events := decode[[]domain.Event](t, data)
	if len(events) == 0 || events[0].Type != "report.reviewed" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin", "Ana")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports/missing", nil, admin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing report: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard?month=january", nil, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad month: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audience?type=range&start_month=may&start_year=2025&end_month=march&end_year=2025", nil, admin)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("inverted range: %d %s", res.StatusCode, string(data))
	}
	u1 := login(t, srv, "u1", "Maria")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/profiles", nil, u1)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("professional listed profiles: %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin", "Ana")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{"name": "ci"}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	key := decode[APIKeyResponse](t, data)
	if !strings.HasPrefix(key.Key, "mk_") || key.APIKey.ActorID != "admin" {
		t.Fatalf("unexpected key %+v", key)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK || decode[domain.UserProfile](t, data).PrincipalID != "admin" {
		t.Fatalf("api key auth %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "mk_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key accepted: %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me/api-keys", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys %d: %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), "key_hash") {
		t.Fatalf("key hash leaked: %s", string(data))
	}
	if keys := decode[[]domain.APIKey](t, data); len(keys) != 1 || keys[0].ID != key.APIKey.ID {
		t.Fatalf("unexpected keys %+v", keys)
	}

	u1 := login(t, srv, "u1", "Bia")
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.APIKey.ID, nil, u1)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign revoke status %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.APIKey.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("revoke %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key accepted: %d", res.StatusCode)
	}
}

func TestLiveFeedBroadcastsCommittedEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin", "Ana")
	token := strings.TrimPrefix(admin["Authorization"], "Bearer ")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/live?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial live: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello domain.Event
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != LiveConnected {
		t.Fatalf("expected hello, got %+v %v", hello, err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/goals", map[string]any{"number": "9", "name": "Acessibilidade"}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create goal status %d: %s", res.StatusCode, string(data))
	}
	var evt domain.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "goal.created" || evt.ActorID != "admin" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestLiveFeedIsScopedToThePrincipal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin", "Ana")
	pending := login(t, srv, "u1", "Bia")
	token := strings.TrimPrefix(pending["Authorization"], "Bearer ")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/live?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial live: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello domain.Event
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != LiveConnected {
		t.Fatalf("expected hello, got %+v %v", hello, err)
	}
	create := func(number string) {
		t.Helper()
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/goals", map[string]any{"number": number, "name": "Meta " + number}, admin)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create goal status %d: %s", res.StatusCode, string(data))
		}
	}
	create("7")
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/profiles/u1/approval", map[string]any{"status": "approved"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	create("8")

	// the goal created while pending never reaches the connection
	var evt domain.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "profile.approval" || evt.EntityID != "u1" {
		t.Fatalf("expected own approval first, got %+v", evt)
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "goal.created" || !strings.Contains(evt.Payload, `"8"`) {
		t.Fatalf("expected the goal created after approval, got %+v", evt)
	}
}

func TestLiveScopeFiltersOtherAuthors(t *testing.T) {
	pro := liveScope{actor: domain.UserProfile{
		PrincipalID:    "u1",
		AppRole:        domain.RoleProfessional,
		ApprovalStatus: domain.ApprovalApproved,
	}}
	cases := []struct {
		evt  domain.Event
		want bool
	}{
		{domain.Event{Type: LiveConnected}, true},
		{domain.Event{EntityKind: "report", Payload: `{"author_id":"u1"}`}, true},
		{domain.Event{EntityKind: "activity", Payload: `{"author_id":"u2"}`}, false},
		{domain.Event{EntityKind: "profile", EntityID: "u2"}, false},
		{domain.Event{EntityKind: "api_key", ActorID: "u1"}, true},
		{domain.Event{EntityKind: "goal"}, true},
	}
	for _, tc := range cases {
		if got := pro.allows(tc.evt); got != tc.want {
			t.Errorf("allows(%s %s) = %v, want %v", tc.evt.EntityKind, tc.evt.Payload, got, tc.want)
		}
	}
	pending := liveScope{actor: domain.UserProfile{PrincipalID: "u3", AppRole: domain.RoleProfessional}}
	if pending.allows(domain.Event{EntityKind: "goal"}) {
		t.Fatalf("pending professional sees goal events")
	}
	if !pending.allows(domain.Event{EntityKind: "profile", EntityID: "u3"}) {
		t.Fatalf("pending professional misses own profile events")
	}
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Museu-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	src := &fakeEvents{events: []domain.Event{
		{ID: 1, Type: "report.created"},
		{ID: 2, Type: "report.submitted"},
		{ID: 3, Type: "activity.created"},
	}}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"report.submitted"}}}
	d := newWebhookDispatcher(src, cfg, log.New(io.Discard, "", 0))
	d.hooks[0].primed = true
	d.dispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "report.submitted" {
		t.Fatalf("unexpected deliveries %v", got)
	}
	if d.hooks[0].cursor != 3 {
		t.Fatalf("cursor = %d", d.hooks[0].cursor)
	}
}

type fakeEvents struct {
	events []domain.Event
}

func (f *fakeEvents) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) LatestEventID(context.Context) (int64, error) {
	if len(f.events) == 0 {
		return 0, nil
	}
	return f.events[len(f.events)-1].ID, nil
}
