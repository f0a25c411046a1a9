package ngsi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

func TestNewRequiresMandatorySettings(t *testing.T) {
	_, err := New(Config{BrokerURL: "orion:1026"}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrMissingConfigParams))
	assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))
	assert.Contains(t, err.Error(), "provider_url")
	assert.Contains(t, err.Error(), "types")
}

func TestNewNormalisesBrokerURL(t *testing.T) {
	svc, err := New(Config{BrokerURL: "orion:1026/", ProviderURL: "http://agent", Types: testTypes()}, Deps{})
	require.NoError(t, err)

	cfg := svc.Config()
	assert.Equal(t, "http://orion:1026", cfg.BrokerURL)
	assert.Equal(t, entity.ShapeLegacy, cfg.Version)
	assert.Equal(t, DefaultRegistrationDuration, cfg.RegistrationDuration)
	assert.Equal(t, DefaultNotificationPath, cfg.NotificationPath)
}

func TestRegisterThenUnregisterLegacy(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	env.broker.on("POST /NGSI9/registerContext", http.StatusOK, `{"duration":"P1M","registrationId":"reg-1"}`)
	ctx := context.Background()

	d, err := env.svc.Register(ctx, &device.Device{ID: "light1", Type: "Light"})
	require.NoError(t, err)
	assert.Equal(t, "light1:Light", d.Name)
	assert.Equal(t, "reg-1", d.RegistrationID)
	assert.Equal(t, "smartGondor", d.Service)
	assert.Equal(t, "/gardens", d.Subservice)

	reqs := env.broker.received()
	require.Len(t, reqs, 2)

	reg := reqs[0]
	assert.Equal(t, "/NGSI9/registerContext", reg.Path)
	assert.Equal(t, "smartGondor", reg.Header.Get(HeaderService))
	assert.Equal(t, "/gardens", reg.Header.Get(HeaderServicePath))
	assert.NotEmpty(t, reg.Header.Get(HeaderCorrelator))
	assert.Empty(t, reg.Header.Get(HeaderAuthToken))

	var body registerContextRequest
	reg.decode(t, &body)
	assert.Equal(t, "P1M", body.Duration)
	require.Len(t, body.ContextRegistrations, 1)
	cr := body.ContextRegistrations[0]
	assert.Equal(t, "http://agent:4041", cr.ProvidingApplication)
	assert.Equal(t, []EntityRef{{Type: "Light", IsPattern: "false", ID: "light1:Light"}}, cr.Entities)
	assert.Equal(t, []registrationAttribute{
		{Name: "luminance", Type: "lumens", IsDomain: "false"},
		{Name: "switch", Type: "Boolean", IsDomain: "false"},
	}, cr.Attributes)

	var initial UpdateContextRequest
	reqs[1].decode(t, &initial)
	assert.Equal(t, "/v1/updateContext", reqs[1].Path)
	assert.Equal(t, "APPEND", initial.UpdateAction)
	require.Len(t, initial.ContextElements, 1)
	assert.Equal(t, []entity.LegacyAttribute{{Name: "pressure", Type: "Hgmm", Value: ""}},
		initial.ContextElements[0].Attributes)

	require.NoError(t, env.svc.Unregister(ctx, "light1"))

	var unreg registerContextRequest
	last := env.broker.last(t)
	assert.Equal(t, "/NGSI9/registerContext", last.Path)
	last.decode(t, &unreg)
	assert.Equal(t, MinimalDuration, unreg.Duration)
	assert.Equal(t, "reg-1", unreg.RegistrationID)

	devices, err := env.svc.ListDevices(ctx, "", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRegisterCurrentUpsertsInitialEntity(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent)
	env.broker.on("POST /v2/entities", http.StatusNoContent, "")

	_, err := env.svc.Register(context.Background(), &device.Device{
		ID:               "light1",
		Type:             "Light",
		StaticAttributes: []entity.Attribute{{Name: "location", Type: "geo:point", Value: "0, 0"}},
	})
	require.NoError(t, err)

	create := env.broker.last(t)
	assert.Equal(t, "/v2/entities", create.Path)
	assert.Equal(t, "options=upsert", create.Query)

	var body entity.CurrentEntity
	create.decode(t, &body)
	assert.Equal(t, "light1:Light", body.ID)
	assert.Equal(t, entity.CurrentAttribute{Type: "Hgmm", Value: ""}, body.Attributes["pressure"])
	assert.Equal(t, entity.CurrentAttribute{Type: "geo:point", Value: "0, 0"}, body.Attributes["location"])
}

func TestRegisterErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing id", func(t *testing.T) {
		env := newTestEnv(t, entity.ShapeLegacy)
		_, err := env.svc.Register(ctx, &device.Device{Type: "Light"})
		assert.True(t, errors.Is(err, fault.ErrMissingAttributes))
		assert.Empty(t, env.broker.received())
	})

	t.Run("duplicate", func(t *testing.T) {
		env := newTestEnv(t, entity.ShapeLegacy)
		_, err := env.svc.Register(ctx, &device.Device{ID: "light1"})
		require.NoError(t, err)
		_, err = env.svc.Register(ctx, &device.Device{ID: "light1"})
		assert.True(t, errors.Is(err, device.ErrDeviceExists))
	})

	t.Run("broker rejects", func(t *testing.T) {
		env := newTestEnv(t, entity.ShapeLegacy)
		env.broker.on("POST /NGSI9/registerContext", http.StatusInternalServerError, "")
		_, err := env.svc.Register(ctx, &device.Device{ID: "light1"})
		assert.True(t, errors.Is(err, fault.ErrRegistration))

		_, err = env.svc.GetDevice(ctx, "light1")
		assert.True(t, errors.Is(err, fault.ErrDeviceNotFound))
	})

	t.Run("embedded error", func(t *testing.T) {
		env := newTestEnv(t, entity.ShapeLegacy)
		env.broker.on("POST /NGSI9/registerContext", http.StatusOK,
			`{"errorCode":{"code":"400","reasonPhrase":"Bad Request"}}`)
		_, err := env.svc.Register(ctx, &device.Device{ID: "light1"})
		assert.True(t, errors.Is(err, fault.ErrBadRequest))
		assert.Equal(t, fault.KindBrokerProtocol, fault.KindOf(err))
	})
}

func TestUnregisterFailureKeepsDevice(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, &device.Device{ID: "light1"})
	require.NoError(t, err)

	env.broker.on("POST /NGSI9/registerContext", http.StatusInternalServerError, "")
	err = env.svc.Unregister(ctx, "light1")
	assert.True(t, errors.Is(err, fault.ErrUnregistration))

	_, err = env.svc.GetDevice(ctx, "light1")
	assert.NoError(t, err)
}

func TestUnregisterDeletesSubscriptions(t *testing.T) {
	env := newTestEnv(t, entity.ShapeCurrent)
	env.broker.on("POST /v2/subscriptions", http.StatusCreated, "", "Location", "/v2/subscriptions/sub-1")
	env.broker.on("DELETE /v2/subscriptions/sub-1", http.StatusNoContent, "")
	ctx := context.Background()

	d, err := env.svc.Register(ctx, &device.Device{ID: "light1"})
	require.NoError(t, err)
	_, err = env.svc.Subscribe(ctx, d, []string{"pressure"}, nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.Unregister(ctx, "light1"))

	reqs := env.broker.received()
	require.GreaterOrEqual(t, len(reqs), 2)
	assert.Equal(t, http.MethodDelete, reqs[len(reqs)-2].Method)
	assert.Equal(t, "/v2/subscriptions/sub-1", reqs[len(reqs)-2].Path)
	assert.Equal(t, "/NGSI9/registerContext", reqs[len(reqs)-1].Path)
}

func TestUpdateRegisterMergesDeclarations(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	env.broker.on("POST /NGSI9/registerContext", http.StatusOK, `{"registrationId":"reg-1"}`)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, &device.Device{ID: "light1", Type: "Light"})
	require.NoError(t, err)

	updated, err := env.svc.UpdateRegister(ctx, &device.Device{
		ID:       "light1",
		Type:     "Light",
		Name:     "kitchen-light",
		Lazy:     []entity.Attribute{{Name: "color", Type: "Text"}},
		Commands: []entity.Attribute{{Name: "switch", Type: "Text"}},
		Polling:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "kitchen-light", updated.Name)
	assert.True(t, updated.Polling)
	assert.Equal(t, []string{"luminance", "color"}, entity.Entity{Attributes: updated.Lazy}.Names())
	require.Len(t, updated.Commands, 1)
	assert.Equal(t, "Text", updated.Commands[0].Type)

	var body registerContextRequest
	env.broker.last(t).decode(t, &body)
	assert.Equal(t, "reg-1", body.RegistrationID)
	assert.Equal(t, "kitchen-light", body.ContextRegistrations[0].Entities[0].ID)

	stored, err := env.svc.GetDeviceByName(ctx, "kitchen-light")
	require.NoError(t, err)
	assert.Equal(t, "light1", stored.ID)
}

func TestUpdateRegisterErrors(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	ctx := context.Background()

	_, err := env.svc.UpdateRegister(ctx, &device.Device{ID: "light1"})
	assert.True(t, errors.Is(err, fault.ErrMissingAttributes))

	_, err = env.svc.UpdateRegister(ctx, &device.Device{ID: "ghost", Type: "Light"})
	assert.True(t, errors.Is(err, fault.ErrDeviceNotFound))
	assert.Empty(t, env.broker.received())
}

func TestRegistryNotAvailable(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy, func(_ *Config, d *Deps) { d.Devices = nil })
	ctx := context.Background()

	_, err := env.svc.ListDevices(ctx, "", "", 0, 0)
	assert.True(t, errors.Is(err, fault.ErrRegistryNotAvailable))

	_, err = env.svc.GetDevice(ctx, "light1")
	assert.True(t, errors.Is(err, fault.ErrRegistryNotAvailable))

	_, err = env.svc.Register(ctx, &device.Device{ID: "light1"})
	assert.True(t, errors.Is(err, fault.ErrRegistryNotAvailable))
}

func TestListDevicesPages(t *testing.T) {
	env := newTestEnv(t, entity.ShapeLegacy)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := env.svc.Register(ctx, &device.Device{ID: id})
		require.NoError(t, err)
	}

	page, err := env.svc.ListDevices(ctx, "smartGondor", "/gardens", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "c", page[1].ID)
}
