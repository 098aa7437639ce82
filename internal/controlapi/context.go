package controlapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type correlationIDKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// pathPeerID reads a single {name} path parameter as an int, writing a 400
// response and returning ok=false on failure.
func pathPeerID(w http.ResponseWriter, r *http.Request, name string) (id int, ok bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid peer id "+raw)
		return 0, false
	}
	return n, true
}

// pathPeerIDs reads the fromID/toID path parameter pair used by the
// connect and disconnect routes.
func pathPeerIDs(w http.ResponseWriter, r *http.Request) (fromID, toID int, ok bool) {
	fromID, ok = pathPeerID(w, r, "fromID")
	if !ok {
		return 0, 0, false
	}
	toID, ok = pathPeerID(w, r, "toID")
	if !ok {
		return 0, 0, false
	}
	return fromID, toID, true
}
