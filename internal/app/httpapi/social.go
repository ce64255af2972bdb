package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *handler) block(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Accounts.Block(r.Context(), caller(r), mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": u.Blocked})
}

func (h *handler) unblock(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Accounts.Unblock(r.Context(), caller(r), mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": u.Blocked})
}

func (h *handler) follow(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Accounts.Follow(r.Context(), caller(r), mux.Vars(r)["address"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Accounts.Unfollow(r.Context(), caller(r), mux.Vars(r)["address"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
