package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// handleLegacyUpdate serves POST /v1/updateContext.
func (s *Server) handleLegacyUpdate(w http.ResponseWriter, r *http.Request) {
	var body ngsi.UpdateContextRequest
	if err := decodeBody(r, &body); err != nil {
		writeLegacyError(w, err)
		return
	}

	resp := ngsi.ContextResponses{ContextResponses: make([]ngsi.ContextResponse, 0, len(body.ContextElements))}
	for _, ce := range body.ContextElements {
		e := entity.FromLegacy(ce)
		if err := s.update(r.Context(), e); err != nil {
			writeLegacyError(w, err)
			return
		}
		resp.ContextResponses = append(resp.ContextResponses, ngsi.ContextResponse{
			ContextElement: entity.ToLegacy(blankValues(e)),
			StatusCode:     ngsi.StatusOK,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLegacyQuery serves POST /v1/queryContext.
func (s *Server) handleLegacyQuery(w http.ResponseWriter, r *http.Request) {
	var body ngsi.QueryContextRequest
	if err := decodeBody(r, &body); err != nil {
		writeLegacyError(w, err)
		return
	}

	resp := ngsi.ContextResponses{ContextResponses: make([]ngsi.ContextResponse, 0, len(body.Entities))}
	for _, ref := range body.Entities {
		e, err := s.query(r.Context(), ref.ID, ref.Type, body.Attributes)
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		resp.ContextResponses = append(resp.ContextResponses, ngsi.ContextResponse{
			ContextElement: entity.ToLegacy(e),
			StatusCode:     ngsi.StatusOK,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCurrentUpdate serves POST /v2/op/update.
func (s *Server) handleCurrentUpdate(w http.ResponseWriter, r *http.Request) {
	var body ngsi.BatchUpdateRequest
	if err := decodeBody(r, &body); err != nil {
		writeCurrentError(w, err)
		return
	}

	for _, ce := range body.Entities {
		if err := s.update(r.Context(), entity.FromCurrent(ce)); err != nil {
			writeCurrentError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCurrentQuery serves POST /v2/op/query.
func (s *Server) handleCurrentQuery(w http.ResponseWriter, r *http.Request) {
	var body ngsi.BatchQueryRequest
	if err := decodeBody(r, &body); err != nil {
		writeCurrentError(w, err)
		return
	}

	out := make([]entity.CurrentEntity, 0, len(body.Entities))
	for _, ref := range body.Entities {
		e, err := s.query(r.Context(), ref.ID, ref.Type, body.Attrs)
		if err != nil {
			writeCurrentError(w, err)
			return
		}
		out = append(out, entity.ToCurrent(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleNotification serves the notification path. Both notification
// shapes are accepted; legacy context responses with a non-200 status are
// skipped.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	entities, legacy, err := decodeNotification(r.Body)
	if err != nil {
		writeCurrentError(w, err)
		return
	}

	for _, e := range entities {
		if err := s.engine.HandleNotification(r.Context(), e); err != nil {
			s.logger.Warn("notification rejected", "entity", e.ID, "error", err)
			if legacy {
				writeLegacyError(w, err)
			} else {
				writeCurrentError(w, err)
			}
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// notificationEnvelope holds either notification shape with the entities
// left raw, so each decodes through its wire container.
type notificationEnvelope struct {
	ContextResponses []struct {
		ContextElement json.RawMessage `json:"contextElement"`
		StatusCode     ngsi.StatusCode `json:"statusCode"`
	} `json:"contextResponses"`
	Data []json.RawMessage `json:"data"`
}

func decodeNotification(body io.Reader) ([]entity.Entity, bool, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, false, badRequestError{err}
	}

	var n notificationEnvelope
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, false, badRequestError{err}
	}

	if n.ContextResponses != nil {
		var out []entity.Entity
		for _, cr := range n.ContextResponses {
			if cr.StatusCode.Code != "" && cr.StatusCode.Code != ngsi.StatusOK.Code {
				continue
			}
			c, err := entity.DecodeContainer(entity.ShapeLegacy, cr.ContextElement)
			if err != nil {
				return nil, true, badRequestError{err}
			}
			out = append(out, c.Decode())
		}
		return out, true, nil
	}

	if n.Data == nil {
		return nil, false, badRequestError{fmt.Errorf("notification carries no data")}
	}
	out := make([]entity.Entity, 0, len(n.Data))
	for _, raw := range n.Data {
		c, err := entity.DecodeContainer(entity.ShapeCurrent, raw)
		if err != nil {
			return nil, false, badRequestError{err}
		}
		out = append(out, c.Decode())
	}
	return out, false, nil
}

func (s *Server) update(ctx context.Context, e entity.Entity) error {
	t := tenantFrom(ctx)
	err := s.engine.HandleContextUpdate(ctx, ngsi.ContextRequest{
		EntityID:   e.ID,
		EntityType: e.Type,
		Service:    t.service,
		Subservice: t.subservice,
		Attributes: e.Attributes,
	})
	if err != nil {
		s.logger.Warn("context update failed", "entity", e.ID, "error", err)
	}
	return err
}

func (s *Server) query(ctx context.Context, id, typ string, names []string) (entity.Entity, error) {
	t := tenantFrom(ctx)
	attrs := make([]entity.Attribute, 0, len(names))
	for _, n := range names {
		attrs = append(attrs, entity.Attribute{Name: n})
	}
	e, err := s.engine.HandleContextQuery(ctx, ngsi.ContextRequest{
		EntityID:   id,
		EntityType: typ,
		Service:    t.service,
		Subservice: t.subservice,
		Attributes: attrs,
	})
	if err != nil {
		s.logger.Warn("context query failed", "entity", id, "error", err)
	}
	return e, err
}
