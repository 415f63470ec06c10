package web

import (
	"net/http"

	"github.com/dyadchat/dyad/types"
)

func (h *Handler) savePushSubscription(w http.ResponseWriter, r *http.Request) {
	var in types.SavePushSubscription
	if err := decodeJSON(r, &in); err != nil {
		h.respondErr(w, err)
		return
	}

	if err := h.Service.SavePushSubscription(r.Context(), in); err != nil {
		h.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
