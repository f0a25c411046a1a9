package ngsi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

func storeDevice(t *testing.T, env *testEnv, d *device.Device) *device.Device {
	t.Helper()
	require.NoError(t, env.devices.Store(context.Background(), d))
	return d
}

func TestSubscribeCurrent(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent, func(c *Config, _ *Deps) { c.SubscriptionTTL = time.Hour })
	env.broker.on("POST /v2/subscriptions", http.StatusCreated, "", "Location", "/v2/subscriptions/5f1a")
	env.broker.on("DELETE /v2/subscriptions/5f1a", http.StatusNoContent, "")
	ctx := context.Background()

	d := storeDevice(t, env, &device.Device{ID: "light1", Name: "light1:Light", Type: "Light", Service: "smartGondor", Subservice: "/gardens"})

	id, err := env.svc.Subscribe(ctx, d, []string{"switch"}, []string{"switch", "luminance"})
	require.NoError(t, err)
	assert.Equal(t, "5f1a", id)

	var body subscriptionRequest
	req := env.broker.last(t)
	req.decode(t, &body)
	assert.Equal(t, "smartGondor", req.Header.Get(HeaderService))
	assert.Equal(t, []currentRef{{ID: "light1:Light", Type: "Light"}}, body.Subject.Entities)
	assert.Equal(t, []string{"switch"}, body.Subject.Condition.Attrs)
	assert.Equal(t, "http://agent:4041/notify", body.Notification.HTTP.URL)
	assert.Equal(t, []string{"switch", "luminance"}, body.Notification.Attrs)

	expires, err := time.Parse(time.RFC3339, body.Expires)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	stored, err := env.svc.GetDevice(ctx, "light1")
	require.NoError(t, err)
	assert.Equal(t, []device.Subscription{{ID: "5f1a", Triggers: []string{"switch"}}}, stored.Subscriptions)

	require.NoError(t, env.svc.Unsubscribe(ctx, stored, "5f1a"))
	assert.Equal(t, http.MethodDelete, env.broker.last(t).Method)

	stored, err = env.svc.GetDevice(ctx, "light1")
	require.NoError(t, err)
	assert.Empty(t, stored.Subscriptions)
}

func TestSubscribeCurrentWithoutLocation(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent)
	env.broker.on("POST /v2/subscriptions", http.StatusCreated, "")

	d := storeDevice(t, env, &device.Device{ID: "light1", Name: "light1", Type: "Light"})

	_, err := env.svc.Subscribe(context.Background(), d, []string{"switch"}, nil)
	assert.True(t, errors.Is(err, fault.ErrBadRequest))
}

func TestSubscribeLegacy(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	env.broker.on("POST /v1/subscribeContext", http.StatusOK,
		`{"subscribeResponse":{"subscriptionId":"51c0ac9ed714fb3b37d7d5a8","duration":"P1M"}}`)
	env.broker.on("POST /v1/unsubscribeContext", http.StatusOK,
		`{"subscriptionId":"51c0ac9ed714fb3b37d7d5a8","statusCode":{"code":"200","reasonPhrase":"OK"}}`)
	ctx := context.Background()

	d := storeDevice(t, env, &device.Device{ID: "light1", Name: "light1", Type: "Light"})

	id, err := env.svc.Subscribe(ctx, d, []string{"switch"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "51c0ac9ed714fb3b37d7d5a8", id)

	var body subscribeContextRequest
	env.broker.last(t).decode(t, &body)
	assert.Equal(t, "http://agent:4041/notify", body.Reference)
	assert.Equal(t, "P1M", body.Duration)
	assert.Equal(t, []notifyCondition{{Type: "ONCHANGE", CondValues: []string{"switch"}}}, body.NotifyConditions)

	require.NoError(t, env.svc.Unsubscribe(ctx, d, id))

	var unsub unsubscribeContextRequest
	env.broker.last(t).decode(t, &unsub)
	assert.Equal(t, id, unsub.SubscriptionID)
}

func TestSubscribeLegacyError(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	env.broker.on("POST /v1/subscribeContext", http.StatusOK,
		`{"subscribeError":{"errorCode":{"code":"404","reasonPhrase":"No context element found"}}}`)

	d := storeDevice(t, env, &device.Device{ID: "light1", Name: "light1", Type: "Light"})

	_, err := env.svc.Subscribe(context.Background(), d, []string{"switch"}, nil)
	assert.True(t, errors.Is(err, fault.ErrDeviceNotFound))
}

func TestSubscribeStoreFailureLeavesDeviceUnchanged(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent)
	env.broker.on("POST /v2/subscriptions", http.StatusCreated, "", "Location", "/v2/subscriptions/5f1a")

	d := &device.Device{ID: "light1", Name: "light1", Type: "Light"}

	_, err := env.svc.Subscribe(context.Background(), d, []string{"switch"}, nil)
	require.Error(t, err)
	assert.Empty(t, d.Subscriptions)
}

func TestSubscribeUpdatesCallerDevice(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent)
	env.broker.on("POST /v2/subscriptions", http.StatusCreated, "", "Location", "/v2/subscriptions/5f1a")
	env.broker.on("DELETE /v2/subscriptions/5f1a", http.StatusNoContent, "")
	ctx := context.Background()

	d := storeDevice(t, env, &device.Device{ID: "light1", Name: "light1", Type: "Light"})

	_, err := env.svc.Subscribe(ctx, d, []string{"switch"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []device.Subscription{{ID: "5f1a", Triggers: []string{"switch"}}}, d.Subscriptions)

	require.NoError(t, env.svc.Unsubscribe(ctx, d, "5f1a"))
	assert.Empty(t, d.Subscriptions)
}
