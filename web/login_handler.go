package web

import (
	"net/http"

	"github.com/dyadchat/dyad/types"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in types.Login
	if err := decodeJSON(r, &in); err != nil {
		h.respondErr(w, err)
		return
	}

	out, err := h.Service.Login(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusOK)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Service.Me(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, user, http.StatusOK)
}

func (h *Handler) connections(w http.ResponseWriter, r *http.Request) {
	out, err := h.Service.Connections(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusOK)
}
