package timelapse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"raster-timelapse/internal/platform/logger"
)

// Handler exposes the viewer controls over HTTP using go-chi.
type Handler struct {
	viewer *Viewer
	log    *slog.Logger
}

// NewHandler returns a Handler driving viewer. log may be nil.
func NewHandler(viewer *Viewer, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{viewer: viewer, log: log}
}

// Routes returns the control API router, meant to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Get("/timestamps", h.ListTimestamps)
	r.Route("/playback", func(r chi.Router) {
		r.Post("/play", h.Play)
		r.Post("/pause", h.Pause)
		r.Post("/reset", h.Reset)
	})
	r.Post("/seek", h.Seek)
	r.Put("/selection", h.PutSelection)
	r.Route("/view", func(r chi.Router) {
		r.Put("/opacity", h.PutOpacity)
		r.Put("/basemap", h.PutBasemap)
		r.Post("/toggle", h.ToggleLayer)
		r.Post("/zoom", h.ZoomToLayer)
	})
	return r
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.viewer.Status())
}

// ListTimestamps handles GET /timestamps with the catalog in playback order.
func (h *Handler) ListTimestamps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.viewer.Catalog().Entries())
}

// Play handles POST /playback/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	if err := h.viewer.Play(); err != nil {
		h.fail(w, "play", err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewer.Status().Playback)
}

// Pause handles POST /playback/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.viewer.Pause()
	writeJSON(w, http.StatusOK, h.viewer.Status().Playback)
}

// Reset handles POST /playback/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.viewer.Reset(); err != nil {
		h.fail(w, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewer.Status().Playback)
}

type seekBody struct {
	Index *int `json:"index"`
}

// Seek handles POST /seek. Body: { "index": 3 }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body seekBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Index == nil {
		h.log.Debug("invalid seek body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.viewer.Seek(*body.Index); err != nil {
		h.fail(w, "seek", err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.viewer.Status().Playback)
}

// PutSelection handles PUT /selection. Body: { "variable": "SIS", "colormap": "viridis" };
// either field may be omitted.
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var sel Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	next, err := h.viewer.SetSelection(sel)
	if err != nil {
		h.fail(w, "set selection", err)
		return
	}
	writeJSON(w, http.StatusAccepted, next)
}

type opacityBody struct {
	Percent *int `json:"percent"`
}

// PutOpacity handles PUT /view/opacity. Body: { "percent": 70 }.
func (h *Handler) PutOpacity(w http.ResponseWriter, r *http.Request) {
	var body opacityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Percent == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.viewer.Compositor().SetOpacity(r.Context(), *body.Percent); err != nil {
		h.fail(w, "set opacity", err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewer.Compositor().View())
}

type basemapBody struct {
	Kind    string `json:"kind"`
	Opacity *int   `json:"opacity"`
}

// PutBasemap handles PUT /view/basemap. Body: { "kind": "dark", "opacity": 80 }.
func (h *Handler) PutBasemap(w http.ResponseWriter, r *http.Request) {
	var body basemapBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Kind == "" && body.Opacity == nil) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c := h.viewer.Compositor()
	if body.Kind != "" {
		if _, err := c.SetBasemap(r.Context(), body.Kind); err != nil {
			h.fail(w, "set basemap", err)
			return
		}
	}
	if body.Opacity != nil {
		if err := c.SetBasemapOpacity(r.Context(), *body.Opacity); err != nil {
			h.fail(w, "set basemap opacity", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, c.View())
}

// ToggleLayer handles POST /view/toggle.
func (h *Handler) ToggleLayer(w http.ResponseWriter, r *http.Request) {
	visible, err := h.viewer.Compositor().ToggleVisibility(r.Context())
	if err != nil {
		h.fail(w, "toggle layer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}

// ZoomToLayer handles POST /view/zoom. 404 when no layer is shown yet.
func (h *Handler) ZoomToLayer(w http.ResponseWriter, r *http.Request) {
	ok, err := h.viewer.Compositor().ZoomToLayer(r.Context())
	if err != nil {
		h.fail(w, "zoom to layer", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.log.Info(op+" rejected", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrIndexOutOfRange), errors.Is(err, ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptyCatalog), errors.Is(err, ErrCatalogLoad):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
