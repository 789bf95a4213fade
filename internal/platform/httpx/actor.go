package httpx

import (
	"net/http"
	"strconv"
)

// ActorID extracts the acting user id forwarded by the gateway. Zero means
// the request is unattributed (system or unauthenticated caller).
func ActorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
