package tracker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/ghostwatch/bus"
	"github.com/hazyhaar/ghostwatch/kit"
)

// NewHTTPHandler exposes the message bus and the common queries over HTTP.
// POST /v1/messages accepts any bus message; the convenience routes cover
// the read side.
func NewHTTPHandler(t *Tracker, router *bus.Router, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", func(w http.ResponseWriter, req *http.Request) {
			var msg bus.Message
			if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if msg.Sender == "" {
				msg.Sender = req.RemoteAddr
			}
			ctx := kit.WithTransport(req.Context(), "http")
			ctx = kit.WithSender(ctx, msg.Sender)
			ctx = kit.WithRequestID(ctx, middleware.GetReqID(req.Context()))

			reply, err := router.Call(ctx, msg)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, err)
				return
			}
			writeJSON(w, http.StatusOK, reply)
		})

		r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
			records, err := t.Summary(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "records": records})
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, t.Status(req.Context()))
		})

		r.Get("/checks", func(w http.ResponseWriter, req *http.Request) {
			checks, err := t.RecentChecks(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "checks": checks})
		})

		r.Get("/logs", func(w http.ResponseWriter, req *http.Request) {
			limit := 100
			if s := req.URL.Query().Get("limit"); s != "" {
				if n, err := strconv.Atoi(s); err == nil && n > 0 {
					limit = n
				}
			}
			events, err := t.ViewLogs(req.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "logs": events})
		})

		r.Get("/export", func(w http.ResponseWriter, req *http.Request) {
			res, err := t.Export(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if req.URL.Query().Get("format") == "tsv" {
				w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
				w.Header().Set("Content-Disposition", `attachment; filename="ias.tsv"`)
				w.Write([]byte(res.TSV))
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/update", func(w http.ResponseWriter, req *http.Request) {
			res, err := t.UpdateCache(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/clear", func(w http.ResponseWriter, req *http.Request) {
			if err := t.Clear(req.Context()); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, ack{OK: true})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}
