package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/walletchat/internal/domain"
	model "github.com/R3E-Network/walletchat/internal/domain/ledger"
)

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Accounts.Ensure(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      u,
		"operator":  h.app.Ledger.IsOperator(*u),
		"unlimited": h.app.Ledger.HasUnlimitedAccess(*u),
	})
}

func (h *handler) costs(w http.ResponseWriter, r *http.Request) {
	costs, err := h.app.Ledger.CostSchedule(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (h *handler) setCosts(w http.ResponseWriter, r *http.Request) {
	var costs model.CostSchedule
	if err := decodeJSON(r, &costs); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.app.Accounts.Ensure(r.Context(), caller(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Ledger.SetCostSchedule(r.Context(), caller(r), costs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (h *handler) catalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Ledger.Catalog(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// credit tops up a balance. Operators only.
func (h *handler) credit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address   string `json:"address"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	actor, err := h.app.Accounts.Ensure(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.app.Ledger.IsOperator(*actor) {
		h.writeError(w, r, fmt.Errorf("%w: only operators may grant credits", domain.ErrForbidden))
		return
	}
	if payload.Amount <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount))
		return
	}
	target := strings.TrimSpace(payload.Address)
	if _, err := h.app.Accounts.Ensure(r.Context(), target); err != nil {
		h.writeError(w, r, err)
		return
	}

	ref := payload.Reference
	if ref == "" {
		ref = "operator:" + actor.Address
	}
	balance, err := h.app.Ledger.Credit(r.Context(), target, payload.Amount, ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target, "credits": balance})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.app.Ledger.History(r.Context(), caller(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	if _, err := h.app.Accounts.Ensure(r.Context(), caller(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.app.Ledger.MintItem(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}
