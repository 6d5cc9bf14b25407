package api

import "net/http"

func (s *Server) handleListGames(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.games.List())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gov.Diagnostics())
}
