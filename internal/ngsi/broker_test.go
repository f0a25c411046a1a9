package ngsi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// recordedRequest is one request received by the fake Broker.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// decode unmarshals the request body into v.
func (r recordedRequest) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
}

// brokerReply is what the fake Broker answers for a route.
type brokerReply struct {
	status int
	header map[string]string
	body   string
}

// fakeBroker records every request and answers from a per-route table.
// Queued replies for a route are used first, in order. Unknown routes
// answer 200 with an empty JSON object.
type fakeBroker struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	replies  map[string]brokerReply
	queued   map[string][]brokerReply
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	b := &fakeBroker{replies: map[string]brokerReply{}, queued: map[string][]brokerReply{}}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

// on sets the reply for "METHOD /path".
func (b *fakeBroker) on(route string, status int, body string, header ...string) {
	reply := brokerReply{status: status, body: body, header: map[string]string{}}
	for i := 0; i+1 < len(header); i += 2 {
		reply.header[header[i]] = header[i+1]
	}

	b.mu.Lock()
	b.replies[route] = reply
	b.mu.Unlock()
}

// queue adds a one-shot reply for "METHOD /path".
func (b *fakeBroker) queue(route string, status int, body string) {
	b.mu.Lock()
	b.queued[route] = append(b.queued[route], brokerReply{status: status, body: body})
	b.mu.Unlock()
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	route := r.Method + " " + r.URL.Path
	reply, ok := b.replies[route]
	if next := b.queued[route]; len(next) > 0 {
		reply, ok = next[0], true
		b.queued[route] = next[1:]
	}
	b.mu.Unlock()

	if !ok {
		reply = brokerReply{status: http.StatusOK, body: "{}"}
	}
	for k, v := range reply.header {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	_, _ = io.WriteString(w, reply.body)
}

func (b *fakeBroker) received() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.requests...)
}

func (b *fakeBroker) last(t *testing.T) recordedRequest {
	t.Helper()
	reqs := b.received()
	require.NotEmpty(t, reqs, "broker received no request")
	return reqs[len(reqs)-1]
}

// testTypes is the static type configuration shared by the tests.
func testTypes() map[string]entity.TypeConfiguration {
	return map[string]entity.TypeConfiguration{
		"Light": {
			Type:       "Light",
			Service:    "smartGondor",
			Subservice: "/gardens",
			Active:     []entity.Attribute{{Name: "pressure", Type: "Hgmm"}},
			Lazy:       []entity.Attribute{{Name: "luminance", Type: "lumens"}},
			Commands:   []entity.Attribute{{Name: "switch", Type: "Boolean"}},
		},
		"Robot": {
			Type:       "Robot",
			Service:    "smartGondor",
			Subservice: "/gardens",
			Commands:   []entity.Attribute{{Name: "position", Type: "Array"}},
		},
		"Room": {
			Type: "Room",
			Active: []entity.Attribute{
				{Name: "temp", Type: "Number", EntityName: "Room1"},
				{Name: "hum", Type: "Number", EntityName: "Room1"},
				{Name: "battery", Type: "Number"},
			},
		},
	}
}

type testEnv struct {
	svc      *Service
	broker   *fakeBroker
	devices  *device.MemoryRepository
	groups   *device.MemoryGroupRepository
	commands *device.MemoryCommandQueue
}

func newTestEnv(t *testing.T, version entity.Shape, mutate ...func(*Config, *Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		broker:   newFakeBroker(t),
		devices:  device.NewMemoryRepository(),
		groups:   device.NewMemoryGroupRepository(),
		commands: device.NewMemoryCommandQueue(),
	}

	cfg := Config{
		BrokerURL:   env.broker.URL,
		Version:     version,
		ProviderURL: "http://agent:4041",
		DefaultType: "Light",
		Service:     "defaultService",
		Subservice:  "/default",
		Types:       testTypes(),
	}
	deps := Deps{
		Devices:  env.devices,
		Groups:   env.groups,
		Commands: env.commands,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	svc, err := New(cfg, deps)
	require.NoError(t, err)
	env.svc = svc
	return env
}
