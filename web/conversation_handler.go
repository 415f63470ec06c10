package web

import (
	"net/http"

	"github.com/dyadchat/dyad/types"
)

func (h *Handler) ensureConversation(w http.ResponseWriter, r *http.Request) {
	var in types.EnsureConversation
	if err := decodeJSON(r, &in); err != nil {
		h.respondErr(w, err)
		return
	}

	out, err := h.Service.EnsureConversation(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusOK)
}

func (h *Handler) conversations(w http.ResponseWriter, r *http.Request) {
	pageArgs, err := parsePageArgs(r)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	out, err := h.Service.Conversations(r.Context(), types.ListConversations{
		PageArgs: pageArgs,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusOK)
}

func (h *Handler) markConversationRead(w http.ResponseWriter, r *http.Request) {
	err := h.Service.MarkConversationRead(r.Context(), types.MarkConversationRead{
		ConversationID: r.PathValue("conversationID"),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleConversationMute(w http.ResponseWriter, r *http.Request) {
	muted, err := h.Service.ToggleConversationMute(r.Context(), types.ToggleConversationMute{
		ConversationID: r.PathValue("conversationID"),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, map[string]bool{"muted": muted}, http.StatusOK)
}
