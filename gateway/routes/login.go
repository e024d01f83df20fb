package routes

import (
	"net/http"

	"nhbmarket/gateway/auth"
)

type loginRoutes struct {
	svc LoginService
}

func (lr *loginRoutes) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	resp, err := lr.svc.Login(r.Context(), req)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// Remaining login failures are malformed input.
			writeBadRequest(w, err)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
