package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/sepush"
	"github.com/raterudder/loadshed/pkg/types"
)

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	valid, err := s.areas.ValidateCredentials(ctx, req.APIKey)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to validate api key", slog.Any("error", err))
		writeJSONError(w, "failed to reach EskomSePush", http.StatusBadGateway)
		return
	}
	writeJSON(w, struct {
		Valid bool `json:"valid"`
	}{Valid: valid}, http.StatusOK)
}

func (s *Server) handleSearchAreas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apiKey := r.URL.Query().Get("apiKey")
	text := r.URL.Query().Get("text")
	if apiKey == "" || text == "" {
		writeJSONError(w, "apiKey and text are required", http.StatusBadRequest)
		return
	}

	areas, err := s.areas.SearchAreas(ctx, apiKey, text)
	if err != nil {
		if errors.Is(err, sepush.ErrAuth) {
			writeJSONError(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		log.Ctx(ctx).WarnContext(ctx, "failed to search areas", slog.Any("error", err))
		writeJSONError(w, "failed to reach EskomSePush", http.StatusBadGateway)
		return
	}
	writeJSON(w, struct {
		Areas []types.Area `json:"areas"`
	}{Areas: areas}, http.StatusOK)
}
