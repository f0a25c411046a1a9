package ngsi

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// Legacy (v1) wire messages, shared by the client and the context-provider server.

// EntityRef identifies an entity in legacy requests.
type EntityRef struct {
	Type      string `json:"type,omitempty"`
	IsPattern string `json:"isPattern"`
	ID        string `json:"id"`
}

// Code is a status code as sent by the Broker, which uses both JSON strings
// and numbers for it.
type Code string

// UnmarshalJSON accepts "404" and 404 alike.
func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// StatusCode is the legacy status block.
type StatusCode struct {
	Code         Code   `json:"code"`
	ReasonPhrase string `json:"reasonPhrase,omitempty"`
	Details      string `json:"details,omitempty"`
}

// StatusOK is the status block of a successful context response.
var StatusOK = StatusCode{Code: "200", ReasonPhrase: "OK"}

// ContextResponse pairs a context element with its status.
type ContextResponse struct {
	ContextElement entity.LegacyContextElement `json:"contextElement"`
	StatusCode     StatusCode                  `json:"statusCode"`
}

// ContextResponses is the body of legacy update, query and notification messages.
type ContextResponses struct {
	SubscriptionID   string            `json:"subscriptionId,omitempty"`
	Originator       string            `json:"originator,omitempty"`
	ContextResponses []ContextResponse `json:"contextResponses"`
}

// UpdateContextRequest is the body of POST /v1/updateContext.
type UpdateContextRequest struct {
	ContextElements []entity.LegacyContextElement `json:"contextElements"`
	UpdateAction    string                        `json:"updateAction"`
}

// QueryContextRequest is the body of POST /v1/queryContext.
type QueryContextRequest struct {
	Entities   []EntityRef `json:"entities"`
	Attributes []string    `json:"attributes,omitempty"`
}

type registerContextRequest struct {
	ContextRegistrations []contextRegistration `json:"contextRegistrations"`
	Duration             string                `json:"duration"`
	RegistrationID       string                `json:"registrationId,omitempty"`
}

type contextRegistration struct {
	Entities             []EntityRef             `json:"entities"`
	Attributes           []registrationAttribute `json:"attributes"`
	ProvidingApplication string                  `json:"providingApplication"`
}

type registrationAttribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsDomain string `json:"isDomain"`
}

type subscribeContextRequest struct {
	Entities         []EntityRef       `json:"entities"`
	Attributes       []string          `json:"attributes"`
	Reference        string            `json:"reference"`
	Duration         string            `json:"duration"`
	NotifyConditions []notifyCondition `json:"notifyConditions"`
}

type notifyCondition struct {
	Type       string   `json:"type"`
	CondValues []string `json:"condValues"`
}

type unsubscribeContextRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// legacyReply collects every field a legacy Broker answer may carry.
type legacyReply struct {
	ErrorCode         *StatusCode       `json:"errorCode,omitempty"`
	OrionError        *StatusCode       `json:"orionError,omitempty"`
	ContextResponses  []ContextResponse `json:"contextResponses,omitempty"`
	RegistrationID    string            `json:"registrationId,omitempty"`
	SubscribeResponse *struct {
		SubscriptionID string `json:"subscriptionId"`
	} `json:"subscribeResponse,omitempty"`
	SubscribeError *struct {
		ErrorCode StatusCode `json:"errorCode"`
	} `json:"subscribeError,omitempty"`
	StatusCode *StatusCode `json:"statusCode,omitempty"`
}

// embeddedError returns the Broker-level error of a reply, if any.
// A failed first context response takes precedence over errorCode and orionError.
func (r *legacyReply) embeddedError() *StatusCode {
	switch {
	case len(r.ContextResponses) > 0 && r.ContextResponses[0].StatusCode.Code != "" &&
		r.ContextResponses[0].StatusCode.Code != StatusOK.Code:
		return &r.ContextResponses[0].StatusCode
	case r.ErrorCode != nil:
		return r.ErrorCode
	case r.OrionError != nil:
		return r.OrionError
	case r.SubscribeError != nil:
		return &r.SubscribeError.ErrorCode
	case r.StatusCode != nil && r.StatusCode.Code != "" && r.StatusCode.Code != StatusOK.Code:
		return r.StatusCode
	}
	return nil
}

func (s StatusCode) String() string {
	out := string(s.Code)
	if s.ReasonPhrase != "" {
		out += " " + s.ReasonPhrase
	}
	if s.Details != "" {
		out += ": " + s.Details
	}
	return out
}

// Current (v2) wire messages.

// Notification is the body the Broker posts to the notification endpoint
// for current-variant subscriptions.
type Notification struct {
	SubscriptionID string                 `json:"subscriptionId"`
	Data           []entity.CurrentEntity `json:"data"`
}

// ActionAppend adds or replaces attributes and creates missing entities.
const ActionAppend = "append"

// BatchUpdateRequest is the body of POST /v2/op/update.
type BatchUpdateRequest struct {
	ActionType string                 `json:"actionType"`
	Entities   []entity.CurrentEntity `json:"entities"`
}

// BatchQueryRequest is the body of POST /v2/op/query.
type BatchQueryRequest struct {
	Entities []struct {
		ID   string `json:"id"`
		Type string `json:"type,omitempty"`
	} `json:"entities"`
	Attrs []string `json:"attrs,omitempty"`
}

type subscriptionRequest struct {
	Description  string              `json:"description,omitempty"`
	Subject      subscriptionSubject `json:"subject"`
	Notification subscriptionNotify  `json:"notification"`
	Expires      string              `json:"expires,omitempty"`
}

type subscriptionSubject struct {
	Entities  []currentRef          `json:"entities"`
	Condition subscriptionCondition `json:"condition"`
}

type currentRef struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type subscriptionCondition struct {
	Attrs []string `json:"attrs"`
}

type subscriptionNotify struct {
	HTTP  subscriptionHTTP `json:"http"`
	Attrs []string         `json:"attrs,omitempty"`
}

type subscriptionHTTP struct {
	URL string `json:"url"`
}

// currentErrorBody is the error document of the current API.
type currentErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

func (b currentErrorBody) String() string {
	if b.Description == "" {
		return b.Error
	}
	return b.Error + ": " + b.Description
}
