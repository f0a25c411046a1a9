package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// fakeEngine records the calls the server makes into the protocol engine.
type fakeEngine struct {
	mu            sync.Mutex
	updates       []ngsi.ContextRequest
	queries       []ngsi.ContextRequest
	notifications []entity.Entity

	updateErr error
	queryErr  error
	notifyErr error
}

func (f *fakeEngine) HandleContextUpdate(_ context.Context, req ngsi.ContextRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return f.updateErr
}

func (f *fakeEngine) HandleContextQuery(_ context.Context, req ngsi.ContextRequest) (entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return entity.Entity{}, f.queryErr
	}
	out := entity.Entity{ID: req.EntityID, Type: req.EntityType}
	for _, a := range req.Attributes {
		out.Attributes = append(out.Attributes, entity.Attribute{Name: a.Name, Type: "Text", Value: "v-" + a.Name})
	}
	return out, nil
}

func (f *fakeEngine) HandleNotification(_ context.Context, e entity.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, e)
	return f.notifyErr
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

// testServer creates a Server backed by a fake engine.
func testServer(t *testing.T) (*Server, *fakeEngine) {
	t.Helper()

	engine := &fakeEngine{}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.ServerTimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:         log,
		Engine:         engine,
		DefaultService: "howtoService",
		Version:        "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, engine
}

func serve(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Engine: &fakeEngine{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v, want ok/test", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t)
	srv.checks = map[string]HealthChecker{
		"mqtt":     fakeCheck{err: errors.New("not connected")},
		"influxdb": fakeCheck{},
	}

	w := serve(t, srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Components["mqtt"] != "not connected" || resp.Components["influxdb"] != "ok" {
		t.Errorf("components = %v", resp.Components)
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_FromCorrelator(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/health", "", map[string]string{ngsi.HeaderCorrelator: "corr-1"})
	if got := w.Header().Get("X-Request-ID"); got != "corr-1" {
		t.Errorf("X-Request-ID = %q, want corr-1", got)
	}
	if got := w.Header().Get(ngsi.HeaderCorrelator); got != "corr-1" {
		t.Errorf("correlator = %q, want corr-1", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/v1/nothing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, engine := testServer(t)
	srv.cfg.MaxBodyBytes = 16

	w := serve(t, srv, http.MethodPost, "/v2/op/update",
		`{"actionType":"update","entities":[{"id":"x","type":"T","a":{"value":1}}]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(engine.updates) != 0 {
		t.Errorf("engine received %d updates, want 0", len(engine.updates))
	}
}

// ─── Legacy context routes ─────────────────────────────────────────

func TestLegacyUpdate(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"updateAction":"UPDATE","contextElements":[{"type":"Robot","isPattern":"false","id":"r2d2",
		"attributes":[{"name":"position","type":"Array","value":"[28, -104, 23]"}]}]}`
	w := serve(t, srv, http.MethodPost, "/v1/updateContext", body, map[string]string{
		ngsi.HeaderService:     "smartGondor",
		ngsi.HeaderServicePath: "/gardens",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(engine.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(engine.updates))
	}
	got := engine.updates[0]
	if got.EntityID != "r2d2" || got.EntityType != "Robot" {
		t.Errorf("request entity = %s/%s", got.EntityID, got.EntityType)
	}
	if got.Service != "smartGondor" || got.Subservice != "/gardens" {
		t.Errorf("tenant = %s%s", got.Service, got.Subservice)
	}
	if len(got.Attributes) != 1 || got.Attributes[0].Value != "[28, -104, 23]" {
		t.Errorf("attributes = %+v", got.Attributes)
	}

	var resp ngsi.ContextResponses
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.ContextResponses) != 1 {
		t.Fatalf("context responses = %d, want 1", len(resp.ContextResponses))
	}
	cr := resp.ContextResponses[0]
	if cr.StatusCode.Code != "200" {
		t.Errorf("status code = %s, want 200", cr.StatusCode.Code)
	}
	if cr.ContextElement.Attributes[0].Value != "" {
		t.Errorf("acknowledged value = %v, want empty", cr.ContextElement.Attributes[0].Value)
	}
}

func TestLegacyUpdate_DefaultTenant(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"updateAction":"UPDATE","contextElements":[{"type":"T","isPattern":"false","id":"e1","attributes":[]}]}`
	if w := serve(t, srv, http.MethodPost, "/v1/updateContext", body, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := engine.updates[0]; got.Service != "howtoService" || got.Subservice != "/" {
		t.Errorf("tenant = %q %q, want defaults", got.Service, got.Subservice)
	}
}

func TestLegacyUpdate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		reason string
	}{
		{"bad json", nil, `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown command", fault.CommandNotFound("dance"), "", http.StatusBadRequest, "COMMAND_NOT_FOUND"},
		{"no handler", ngsi.ErrHandlerNotSet, "", http.StatusNotImplemented, ErrCodeNotImplemented},
		{"device not found", fault.DeviceNotFound("r2d2"), "", http.StatusNotFound, "DEVICE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, engine := testServer(t)
			engine.updateErr = tt.err

			body := tt.body
			if body == "" {
				body = `{"updateAction":"UPDATE","contextElements":[{"type":"Robot","isPattern":"false","id":"r2d2","attributes":[{"name":"dance","value":"1"}]}]}`
			}
			w := serve(t, srv, http.MethodPost, "/v1/updateContext", body, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}

			var resp struct {
				ErrorCode ngsi.StatusCode `json:"errorCode"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.ErrorCode.ReasonPhrase != tt.reason {
				t.Errorf("reasonPhrase = %q, want %q", resp.ErrorCode.ReasonPhrase, tt.reason)
			}
		})
	}
}

func TestLegacyQuery(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"entities":[{"type":"Light","isPattern":"false","id":"light1"}],"attributes":["dimming"]}`
	w := serve(t, srv, http.MethodPost, "/v1/queryContext", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(engine.queries) != 1 || engine.queries[0].Attributes[0].Name != "dimming" {
		t.Fatalf("queries = %+v", engine.queries)
	}

	var resp ngsi.ContextResponses
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	attrs := resp.ContextResponses[0].ContextElement.Attributes
	if len(attrs) != 1 || attrs[0].Value != "v-dimming" {
		t.Errorf("attributes = %+v", attrs)
	}
}

// ─── Current context routes ────────────────────────────────────────

func TestCurrentUpdate(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"actionType":"update","entities":[{"id":"light1","type":"Light","dimming":{"type":"Percentage","value":87}}]}`
	w := serve(t, srv, http.MethodPost, "/v2/op/update", body, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(engine.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(engine.updates))
	}
	a := engine.updates[0].Attributes
	if len(a) != 1 || a[0].Name != "dimming" || a[0].Value != float64(87) {
		t.Errorf("attributes = %+v", a)
	}
}

func TestCurrentUpdate_Error(t *testing.T) {
	srv, engine := testServer(t)
	engine.updateErr = fault.DeviceNotFound("light1")

	body := `{"actionType":"update","entities":[{"id":"light1","type":"Light"}]}`
	w := serve(t, srv, http.MethodPost, "/v2/op/update", body, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["error"] != "DEVICE_NOT_FOUND" {
		t.Errorf("error = %q, want DEVICE_NOT_FOUND", resp["error"])
	}
}

func TestCurrentQuery(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"entities":[{"id":"light1","type":"Light"}],"attrs":["dimming"]}`
	w := serve(t, srv, http.MethodPost, "/v2/op/query", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp []entity.CurrentEntity
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 1 || resp[0].Attributes["dimming"].Value != "v-dimming" {
		t.Errorf("response = %+v", resp)
	}
}

// ─── Notifications ─────────────────────────────────────────────────

func TestNotification_Current(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"subscriptionId":"sub1","data":[{"id":"r2d2","type":"Robot","position":{"type":"Array","value":"[1,2]"}}]}`
	w := serve(t, srv, http.MethodPost, "/notify", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(engine.notifications) != 1 || engine.notifications[0].ID != "r2d2" {
		t.Fatalf("notifications = %+v", engine.notifications)
	}
	attrs := engine.notifications[0].Attributes
	if len(attrs) != 1 || attrs[0].Name != "position" || attrs[0].Type != "Array" || attrs[0].Value != "[1,2]" {
		t.Errorf("attributes = %+v", attrs)
	}
}

func TestNotification_MalformedEntity(t *testing.T) {
	srv, engine := testServer(t)

	for _, body := range []string{
		`{"subscriptionId":"sub1","data":[42]}`,
		`{"subscriptionId":"sub1","contextResponses":[{"contextElement":"r2d2","statusCode":{"code":"200"}}]}`,
	} {
		if w := serve(t, srv, http.MethodPost, "/notify", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("status for %s = %d, want 400", body, w.Code)
		}
	}
	if len(engine.notifications) != 0 {
		t.Errorf("notifications = %+v, want none", engine.notifications)
	}
}

func TestNotification_LegacySkipsFailedResponses(t *testing.T) {
	srv, engine := testServer(t)

	body := `{"subscriptionId":"sub1","originator":"localhost","contextResponses":[
		{"contextElement":{"type":"Robot","isPattern":"false","id":"r2d2","attributes":[{"name":"position","type":"Array","value":"[1,2]"}]},
		 "statusCode":{"code":"200","reasonPhrase":"OK"}},
		{"contextElement":{"type":"Robot","isPattern":"false","id":"c3po","attributes":[]},
		 "statusCode":{"code":"404","reasonPhrase":"No context element found"}}]}`
	w := serve(t, srv, http.MethodPost, "/notify", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(engine.notifications) != 1 || engine.notifications[0].ID != "r2d2" {
		t.Fatalf("notifications = %+v", engine.notifications)
	}
}

func TestNotification_Rejected(t *testing.T) {
	srv, engine := testServer(t)
	engine.notifyErr = fault.DeviceNotFound("ghost")

	body := `{"subscriptionId":"sub1","data":[{"id":"ghost","type":"T"}]}`
	if w := serve(t, srv, http.MethodPost, "/notify", body, nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	if w := serve(t, srv, http.MethodPost, "/notify", `{"subscriptionId":"x"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status for empty notification = %d, want 400", w.Code)
	}
}

func TestNotification_CustomPath(t *testing.T) {
	srv, engine := testServer(t)
	srv.cfg.NotificationPath = "/ngsi/notify"

	body := `{"subscriptionId":"sub1","data":[{"id":"r2d2","type":"Robot"}]}`
	if w := serve(t, srv, http.MethodPost, "/ngsi/notify", body, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(engine.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(engine.notifications))
	}
}
