package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"calgrid/internal/dayview"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// eventsResponse is the JSON shape for GET /api/events.
type eventsResponse struct {
	Events   []model.Event `json:"events"`
	Timezone string        `json:"timezone"`
}

// handleListEvents returns all events, or only those touching one local day
// when ?date= is given.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := s.store.List()

	if v := r.URL.Query().Get("date"); v != "" {
		day, err := s.parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		events = dayview.Bucket(events, day, s.loc)
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Timezone: s.loc.String()})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.store.Create(in)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	appLog.Info("event created", "id", ev.ID, "title", ev.Title)
	w.Header().Set("Location", "/api/events/"+ev.ID)
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleReplaceEvent overwrites every editable field.
func (s *Server) handleReplaceEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Normalize()

	patch := model.EventPatch{
		Title:       &in.Title,
		Description: &in.Description,
		Start:       &in.Start,
		End:         &in.End,
		Color:       &in.Color,
		Category:    &in.Category,
	}
	s.applyPatch(w, r.PathValue("id"), patch)
}

func (s *Server) handlePatchEvent(w http.ResponseWriter, r *http.Request) {
	var patch model.EventPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	s.applyPatch(w, r.PathValue("id"), patch)
}

func (s *Server) applyPatch(w http.ResponseWriter, id string, patch model.EventPatch) {
	ev, err := s.store.Update(id, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Info("event updated", "id", ev.ID)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Info("event deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

type categoriesResponse struct {
	Categories []model.CategoryOption `json:"categories"`
	Colors     []string               `json:"colors"`
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, categoriesResponse{
		Categories: model.Categories(),
		Colors:     model.Palette,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := ics.WriteCalendar(&buf, s.store.List(), "", s.now()); err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calgrid.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
	default:
		appLog.Error("store operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
