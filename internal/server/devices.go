package server

import (
	"net/http"
	"strconv"
)

// GET /devices[?paired=true]
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	paired := false
	if v := r.URL.Query().Get("paired"); v != "" {
		var err error
		if paired, err = strconv.ParseBool(v); err != nil {
			s.badRequest(w, "paired must be a boolean")
			return
		}
	}

	if paired {
		s.writeJSON(w, http.StatusOK, s.devices.ListPaired())
		return
	}
	s.writeJSON(w, http.StatusOK, s.devices.List())
}

// GET /devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.devices.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type connectResponse struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

// POST /devices/{id}/connect starts the connect sequence; the outcome shows up in the device state
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.connector.ConnectAsync(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, connectResponse{Identity: id, Status: "connecting"})
}
