package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// maxWriteBody bounds PUT bodies; characteristic values are small
const maxWriteBody = 4 << 10

type valueBody struct {
	Value string `json:"value"` // hex
}

// GET /devices/{id}/characteristics/{name}
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	data, err := s.gateway.Read(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, valueBody{Value: hex.EncodeToString(data)})
}

// PUT /devices/{id}/characteristics/{name} with {"value": "<hex>"}
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body valueBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWriteBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.badRequest(w, "body must be {\"value\": \"<hex>\"}")
		return
	}

	payload, err := hex.DecodeString(body.Value)
	if err != nil {
		s.badRequest(w, "value must be hex encoded")
		return
	}

	if err := s.gateway.Write(r.Context(), r.PathValue("id"), r.PathValue("name"), payload); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /characteristics
func (s *Server) handleCharacteristics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gateway.Characteristics())
}
