package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"syscall"

	"github.com/nicolasparada/go-errs"
	"github.com/nicolasparada/go-errs/httperrs"

	"github.com/dyadchat/dyad/ptr"
	"github.com/dyadchat/dyad/types"
)

var errBadRequest = errs.InvalidArgumentError("bad request")

func (h *Handler) respond(w http.ResponseWriter, v any, statusCode int) {
	b, err := json.Marshal(v)
	if err != nil {
		h.respondErr(w, fmt.Errorf("could not json marshal http response body: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, err = w.Write(b)
	if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, context.Canceled) {
		h.Logger.Error("write http response", "error", err)
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	statusCode := httperrs.Code(err)
	if statusCode == http.StatusInternalServerError {
		if !errors.Is(err, context.Canceled) {
			h.Logger.Error("internal error", "error", err)
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.Error(w, err.Error(), statusCode)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

// parsePageArgs reads relay-style pagination from the query string:
// first/after paging forward, last/before paging backwards.
func parsePageArgs(r *http.Request) (types.PageArgs, error) {
	var out types.PageArgs

	q := r.URL.Query()

	if s := q.Get("first"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return out, errs.InvalidArgumentError("invalid first")
		}
		out.First = ptr.From(uint(n))
	}

	if s := q.Get("last"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return out, errs.InvalidArgumentError("invalid last")
		}
		out.Last = ptr.From(uint(n))
	}

	if s := q.Get("after"); s != "" {
		out.After = ptr.From(s)
	}

	if s := q.Get("before"); s != "" {
		out.Before = ptr.From(s)
	}

	return out, out.Validate()
}
