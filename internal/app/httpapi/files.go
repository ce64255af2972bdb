package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Folder paths travel as "id/id/id"; empty means the root folder.

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	folder, err := h.app.Files.List(r.Context(), caller(r), splitPath(r.URL.Query().Get("path")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.app.Files.Usage(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// upload takes base64 content in "data".
func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
		Name string `json:"name"`
		Data []byte `json:"data"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.app.Files.Upload(r.Context(), caller(r), splitPath(payload.Path), payload.Name, payload.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *handler) createFolder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.app.Files.CreateFolder(r.Context(), caller(r), splitPath(payload.Path), payload.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *handler) rename(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.app.Files.Rename(r.Context(), caller(r), splitPath(payload.Path), mux.Vars(r)["id"], payload.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	freed, err := h.app.Files.Delete(r.Context(), caller(r), splitPath(r.URL.Query().Get("path")), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"freed": freed})
}

func (h *handler) move(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	node, err := h.app.Files.Move(r.Context(), caller(r), splitPath(payload.From), mux.Vars(r)["id"], splitPath(payload.To))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}
