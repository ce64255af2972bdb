package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/messaging"
)

func (h *handler) sendDirect(w http.ResponseWriter, r *http.Request) {
	var payload chat.Payload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.app.Messaging.SendDirect(r.Context(), caller(r), mux.Vars(r)["peer"], payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var spec messaging.GroupSpec
	if err := decodeJSON(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}
	conv, err := h.app.Messaging.CreateGroup(r.Context(), caller(r), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *handler) joinGroup(w http.ResponseWriter, r *http.Request) {
	conv, err := h.app.Messaging.JoinGroup(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	if _, err := h.app.Messaging.Authorize(r.Context(), convID, caller(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.app.Messaging.ListMessages(r.Context(), convID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.Payload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.app.Messaging.PostMessage(r.Context(), mux.Vars(r)["id"], caller(r), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) createPoll(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Caption  string   `json:"caption"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.app.Messaging.CreatePoll(r.Context(), mux.Vars(r)["id"], caller(r), payload.Question, payload.Options, payload.Caption)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Messaging.DeleteMessage(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, err := h.app.Messaging.AddReaction(r.Context(), vars["id"], caller(r), vars["emoji"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handler) removeReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, err := h.app.Messaging.RemoveReaction(r.Context(), vars["id"], caller(r), vars["emoji"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handler) vote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Option string `json:"option"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, changed, err := h.app.Messaging.Vote(r.Context(), mux.Vars(r)["id"], caller(r), payload.Option)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "changed": changed})
}

func (h *handler) tally(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Messaging.Tally(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
