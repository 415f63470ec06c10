package web

import (
	"net/http"

	"github.com/dyadchat/dyad/types"
)

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in types.SendMessage
	if err := decodeJSON(r, &in); err != nil {
		h.respondErr(w, err)
		return
	}

	in.ConversationID = r.PathValue("conversationID")

	out, err := h.Service.SendMessage(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusCreated)
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	pageArgs, err := parsePageArgs(r)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	out, err := h.Service.Messages(r.Context(), types.ListMessages{
		ConversationID: r.PathValue("conversationID"),
		PageArgs:       pageArgs,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}

	h.respond(w, out, http.StatusOK)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteMessage(r.Context(), types.DeleteMessage{
		MessageID: r.PathValue("messageID"),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
