package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/pkg/restapi"
)

type InfoResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	ActiveSwaps int    `json:"activeSwaps"`
}

func InfoEndpoints(svc SwapService, name, version string, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		r.HandleFunc("/info", infoHandler(svc, name, version, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func infoHandler(svc SwapService, name, version string, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := InfoResponse{
			Name:        name,
			Version:     version,
			ActiveSwaps: len(svc.GetActiveSwaps()),
		}
		w.Header().Set(restapi.ContentType, restapi.ApplicationJson)
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(i); err != nil {
			log.WarnContext(r.Context(), "failed to write info message", logger.Error(err))
		}
	}
}
