package boardwatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/boardwatch/kit"
	"github.com/hazyhaar/boardwatch/shield"
)

// Version is reported by the MCP server.
const Version = "0.1.0"

// Handler returns the HTTP API:
//
//	GET  /health
//	GET  /api/position
//	GET  /api/history?limit=
//	GET  /api/stats
//	POST /api/notify      optional feed message body
//	POST /api/bestmove    {"fen": "..."}, empty for the current position
//	PUT  /api/autoplay    {"enabled": true}
//	     /mcp             streamable MCP endpoint
func (w *Watcher) Handler() http.Handler {
	eps := w.endpoints()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}
	r.Use(requestContext)

	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/position", func(rw http.ResponseWriter, req *http.Request) {
			serve(rw, req, eps.position, nil)
		})
		r.Get("/history", func(rw http.ResponseWriter, req *http.Request) {
			limit, err := queryInt(req, "limit", defaultHistoryLimit)
			if err != nil {
				writeError(rw, http.StatusBadRequest, err)
				return
			}
			serve(rw, req, eps.history, &historyReq{Limit: limit})
		})
		r.Get("/stats", func(rw http.ResponseWriter, req *http.Request) {
			serve(rw, req, eps.stats, nil)
		})
		r.Post("/notify", func(rw http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				writeError(rw, http.StatusBadRequest, err)
				return
			}
			resp, err := w.handleNotify(req.Context(), body)
			if err != nil {
				writeError(rw, http.StatusInternalServerError, err)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusAccepted)
			rw.Write(resp)
		})
		r.Post("/bestmove", func(rw http.ResponseWriter, req *http.Request) {
			var body bestMoveReq
			if !decodeBody(rw, req, &body) {
				return
			}
			serve(rw, req, eps.bestMove, &body)
		})
		r.Put("/autoplay", func(rw http.ResponseWriter, req *http.Request) {
			var body autoplayReq
			if !decodeBody(rw, req, &body) {
				return
			}
			serve(rw, req, eps.autoplay, &body)
		})
	})

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "boardwatch", Version: Version}, nil)
	w.RegisterMCP(mcpSrv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	return r
}

// requestContext copies the chi request ID and client address into the
// kit context values read by endpoint middleware.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := kit.WithRequest(r.Context(), kit.Request{
			Transport:  "http",
			ID:         middleware.GetReqID(r.Context()),
			RemoteAddr: r.RemoteAddr,
		})
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func serve(rw http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(r.Context(), req)
	switch {
	case errors.Is(err, ErrNoPosition):
		writeError(rw, http.StatusNotFound, err)
	case err != nil:
		writeError(rw, http.StatusBadGateway, err)
	default:
		writeJSON(rw, http.StatusOK, resp)
	}
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(rw, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
