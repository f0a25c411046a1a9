package ngsi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// Header names carried by every Broker request.
const (
	HeaderService     = "fiware-service"
	HeaderServicePath = "fiware-servicepath"
	HeaderAuthToken   = "X-Auth-Token"
	HeaderCorrelator  = "fiware-correlator"
)

const (
	// MinimalDuration is the registration duration that retires a registration.
	MinimalDuration = "PT1S"

	maxReplyBytes = 4 << 20
)

// scope carries the per-call routing and credentials.
type scope struct {
	host       string
	service    string
	subservice string
	token      string
}

// Client speaks one variant of the Broker protocol.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	http      *http.Client
	shape     entity.Shape
	provider  string
	notifyURL string
	duration  string
	subTTL    time.Duration
	now       func() time.Time
	log       Logger
}

// registration is what a context registration announces for a device.
type registration struct {
	id             string
	entityType     string
	name           string
	registrationID string
	lazy           []entity.Attribute
	commands       []entity.Attribute
}

// call is one outbound request.
type call struct {
	op     string
	method string
	url    string
	body   any
	scope  scope
}

// reply is a Broker answer read into memory.
type reply struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) send(ctx context.Context, rq call) (*reply, error) {
	var body io.Reader
	if rq.body != nil {
		data, err := json.Marshal(rq.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", rq.op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, rq.method, rq.url, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", rq.op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if rq.scope.service != "" {
		req.Header.Set(HeaderService, rq.scope.service)
	}
	if rq.scope.subservice != "" {
		req.Header.Set(HeaderServicePath, rq.scope.subservice)
	}
	if rq.scope.token != "" {
		req.Header.Set(HeaderAuthToken, rq.scope.token)
	}
	correlator := uuid.NewString()
	req.Header.Set(HeaderCorrelator, correlator)

	c.log.Debug("sending broker request",
		"op", rq.op,
		"method", rq.method,
		"url", rq.url,
		"correlator", correlator,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("broker connection failed", "op", rq.op, "url", rq.url, "error", err)
		return nil, fault.Transport(rq.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fault.Transport(rq.op, err)
	}

	c.log.Debug("broker replied", "op", rq.op, "status", resp.StatusCode, "correlator", correlator)
	return &reply{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// decodeLegacy parses a legacy reply body. Empty and non-JSON bodies decode
// to an empty reply.
func decodeLegacy(r *reply) legacyReply {
	var out legacyReply
	if len(bytes.TrimSpace(r.body)) > 0 {
		_ = json.Unmarshal(r.body, &out) //nolint:errcheck // Non-JSON bodies carry no embedded error
	}
	return out
}

// legacyOutcome maps the answer to a legacy update, query or subscription.
func legacyOutcome(r *reply, e entity.Entity, sc scope) (legacyReply, error) {
	body := decodeLegacy(r)

	if body.OrionError != nil {
		return body, fault.BadRequest(body.OrionError.Details)
	}

	switch {
	case r.status == http.StatusOK:
		if embedded := body.embeddedError(); embedded != nil {
			if embedded.Code == "404" {
				return body, fault.DeviceNotFound(e.ID)
			}
			return body, fault.EntityGeneric(e.ID, e.Type, embedded.String())
		}
		return body, nil
	case r.status == http.StatusForbidden:
		return body, fault.AccessForbidden(sc.token, sc.service, sc.subservice)
	default:
		return body, fault.EntityGeneric(e.ID, e.Type, "HTTP "+http.StatusText(r.status))
	}
}

// currentOutcome maps the answer to a current-variant data operation.
func currentOutcome(r *reply, e entity.Entity, sc scope) error {
	switch {
	case r.status >= 200 && r.status < 300:
		return nil
	case r.status == http.StatusNotFound:
		return fault.DeviceNotFound(e.ID)
	case r.status == http.StatusForbidden:
		return fault.AccessForbidden(sc.token, sc.service, sc.subservice)
	default:
		var body currentErrorBody
		_ = json.Unmarshal(r.body, &body) //nolint:errcheck // Details are best effort
		if body.Error == "" {
			body.Error = http.StatusText(r.status)
		}
		return fault.EntityGeneric(e.ID, e.Type, body.String())
	}
}

func formatRegistrationAttributes(lists ...[]entity.Attribute) []registrationAttribute {
	out := []registrationAttribute{}
	for _, list := range lists {
		for _, a := range list {
			out = append(out, registrationAttribute{Name: a.Name, Type: a.Type, IsDomain: "false"})
		}
	}
	return out
}

// Register sends a context availability registration and returns the
// registration id the Broker assigned. With unregister set the registration
// is renewed with MinimalDuration instead.
func (c *Client) Register(ctx context.Context, sc scope, reg registration, unregister bool) (string, error) {
	duration := c.duration
	if unregister {
		duration = MinimalDuration
	}

	rq := registerContextRequest{
		ContextRegistrations: []contextRegistration{{
			Entities:             []EntityRef{{Type: reg.entityType, IsPattern: "false", ID: reg.name}},
			Attributes:           formatRegistrationAttributes(reg.lazy, reg.commands),
			ProvidingApplication: c.provider,
		}},
		Duration:       duration,
		RegistrationID: reg.registrationID,
	}

	r, err := c.send(ctx, call{
		op:     "registerContext",
		method: http.MethodPost,
		url:    sc.host + "/NGSI9/registerContext",
		body:   rq,
		scope:  sc,
	})
	if err != nil {
		return "", err
	}

	if r.status != http.StatusOK {
		c.log.Error("broker rejected registration", "device", reg.id, "status", r.status)
		if unregister {
			return "", fault.Unregistration(reg.id, reg.entityType)
		}
		return "", fault.Registration(reg.id, reg.entityType)
	}

	body := decodeLegacy(r)
	if embedded := body.embeddedError(); embedded != nil {
		details, _ := json.Marshal(embedded) //nolint:errcheck // Marshalling a plain struct
		return "", fault.BadRequest(string(details))
	}
	return body.RegistrationID, nil
}

// CreateEntity creates or completes the entity in the Broker.
func (c *Client) CreateEntity(ctx context.Context, sc scope, e entity.Entity) error {
	if c.shape == entity.ShapeCurrent {
		r, err := c.send(ctx, call{
			op:     "createEntity",
			method: http.MethodPost,
			url:    sc.host + "/v2/entities?options=upsert",
			body:   entity.Encode(c.shape, e),
			scope:  sc,
		})
		if err != nil {
			return err
		}
		return currentOutcome(r, e, sc)
	}
	return c.UpdateEntity(ctx, sc, e)
}

// UpdateEntity appends the attributes of e to the Broker entity, creating
// the entity when it does not exist yet.
func (c *Client) UpdateEntity(ctx context.Context, sc scope, e entity.Entity) error {
	wire := entity.Encode(c.shape, e)

	if c.shape == entity.ShapeCurrent {
		r, err := c.send(ctx, call{
			op:     "update",
			method: http.MethodPost,
			url:    sc.host + "/v2/op/update",
			body: BatchUpdateRequest{
				ActionType: ActionAppend,
				Entities:   []entity.CurrentEntity{*wire.Current},
			},
			scope: sc,
		})
		if err != nil {
			return err
		}
		return currentOutcome(r, e, sc)
	}

	r, err := c.send(ctx, call{
		op:     "update",
		method: http.MethodPost,
		url:    sc.host + "/v1/updateContext",
		body: UpdateContextRequest{
			ContextElements: []entity.LegacyContextElement{*wire.Legacy},
			UpdateAction:    "APPEND",
		},
		scope: sc,
	})
	if err != nil {
		return err
	}
	_, err = legacyOutcome(r, e, sc)
	return err
}

// QueryEntity reads the named attributes of the entity. No names reads all.
func (c *Client) QueryEntity(ctx context.Context, sc scope, e entity.Entity, names []string) ([]entity.Attribute, error) {
	if c.shape == entity.ShapeCurrent {
		q := url.Values{}
		if e.Type != "" {
			q.Set("type", e.Type)
		}
		if len(names) > 0 {
			q.Set("attrs", strings.Join(names, ","))
		}
		r, err := c.send(ctx, call{
			op:     "query",
			method: http.MethodGet,
			url:    sc.host + "/v2/entities/" + url.PathEscape(e.ID) + "/attrs" + encodeQuery(q),
			scope:  sc,
		})
		if err != nil {
			return nil, err
		}
		if err := currentOutcome(r, e, sc); err != nil {
			return nil, err
		}

		attrs := map[string]entity.CurrentAttribute{}
		if err := json.Unmarshal(r.body, &attrs); err != nil {
			return nil, fault.BadRequest("decoding query reply: " + err.Error())
		}
		return entity.FromCurrent(entity.CurrentEntity{ID: e.ID, Type: e.Type, Attributes: attrs}).Attributes, nil
	}

	r, err := c.send(ctx, call{
		op:     "query",
		method: http.MethodPost,
		url:    sc.host + "/v1/queryContext",
		body: QueryContextRequest{
			Entities:   []EntityRef{{Type: e.Type, IsPattern: "false", ID: e.ID}},
			Attributes: names,
		},
		scope: sc,
	})
	if err != nil {
		return nil, err
	}
	body, err := legacyOutcome(r, e, sc)
	if err != nil {
		return nil, err
	}
	if len(body.ContextResponses) == 0 {
		return nil, fault.DeviceNotFound(e.ID)
	}
	return entity.FromLegacy(body.ContextResponses[0].ContextElement).Attributes, nil
}

// Subscribe asks the Broker to notify the agent when any trigger attribute
// of e changes. The notification carries the content attributes.
func (c *Client) Subscribe(ctx context.Context, sc scope, e entity.Entity, triggers, content []string) (string, error) {
	if c.shape == entity.ShapeCurrent {
		rq := subscriptionRequest{
			Description: fmt.Sprintf("Managed by IOTA: %s %s %s", e.ID, e.Type, strings.Join(triggers, ",")),
			Subject: subscriptionSubject{
				Entities:  []currentRef{{ID: e.ID, Type: e.Type}},
				Condition: subscriptionCondition{Attrs: triggers},
			},
			Notification: subscriptionNotify{
				HTTP:  subscriptionHTTP{URL: c.notifyURL},
				Attrs: content,
			},
		}
		if c.subTTL > 0 {
			rq.Expires = c.now().UTC().Add(c.subTTL).Format("2006-01-02T15:04:05.000Z07:00")
		}

		r, err := c.send(ctx, call{
			op:     "subscribe",
			method: http.MethodPost,
			url:    sc.host + "/v2/subscriptions",
			body:   rq,
			scope:  sc,
		})
		if err != nil {
			return "", err
		}
		if err := currentOutcome(r, e, sc); err != nil {
			return "", err
		}

		id := path.Base(r.header.Get("Location"))
		if id == "" || id == "." || id == "/" {
			return "", fault.BadRequest("subscription reply without Location header")
		}
		return id, nil
	}

	if content == nil {
		content = []string{}
	}
	r, err := c.send(ctx, call{
		op:     "subscribe",
		method: http.MethodPost,
		url:    sc.host + "/v1/subscribeContext",
		body: subscribeContextRequest{
			Entities:         []EntityRef{{Type: e.Type, IsPattern: "false", ID: e.ID}},
			Attributes:       content,
			Reference:        c.notifyURL,
			Duration:         c.duration,
			NotifyConditions: []notifyCondition{{Type: "ONCHANGE", CondValues: triggers}},
		},
		scope: sc,
	})
	if err != nil {
		return "", err
	}
	body, err := legacyOutcome(r, e, sc)
	if err != nil {
		return "", err
	}
	if body.SubscribeResponse == nil || body.SubscribeResponse.SubscriptionID == "" {
		return "", fault.BadRequest("subscription reply without subscription id")
	}
	return body.SubscribeResponse.SubscriptionID, nil
}

// Unsubscribe removes a subscription created by Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, sc scope, e entity.Entity, id string) error {
	if c.shape == entity.ShapeCurrent {
		r, err := c.send(ctx, call{
			op:     "unsubscribe",
			method: http.MethodDelete,
			url:    sc.host + "/v2/subscriptions/" + url.PathEscape(id),
			scope:  sc,
		})
		if err != nil {
			return err
		}
		return currentOutcome(r, e, sc)
	}

	r, err := c.send(ctx, call{
		op:     "unsubscribe",
		method: http.MethodPost,
		url:    sc.host + "/v1/unsubscribeContext",
		body:   unsubscribeContextRequest{SubscriptionID: id},
		scope:  sc,
	})
	if err != nil {
		return err
	}
	_, err = legacyOutcome(r, e, sc)
	return err
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
