package middleware

import (
	"net/http"

	"github.com/SteveJiangWorkPlace/otium/internal/api/shared"
	"github.com/google/uuid"
)

// OwnerHeader is the request header carrying the caller's owner ID. The
// service runs behind a gateway that authenticates callers and forwards their
// identity in this header.
const OwnerHeader = "X-Owner-ID"

// Owner extracts the owner ID from the request header and stores it in the
// context. Requests without a valid owner ID are rejected.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OwnerHeader)
		if raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner ID")
			return
		}

		ownerID, err := uuid.Parse(raw)
		if err != nil || ownerID == uuid.Nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid owner ID")
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.WithOwnerID(r.Context(), ownerID)))
	})
}
