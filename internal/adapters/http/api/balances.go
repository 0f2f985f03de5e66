package api

import "net/http"

// handleGetBalance serves GET /balances/{address}.
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_balance"
	owner, err := pathAddress(r, "address")
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	b, err := s.deps.Balances.Balance(r.Context(), owner)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
