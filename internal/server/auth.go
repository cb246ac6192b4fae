package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/OpenSourceInternetV2/grimwire/internal/relay"
	"github.com/OpenSourceInternetV2/grimwire/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// appDomainHeader carries the requesting application's domain. The
// broker trusts the resolved identity completely; resolving it is this
// middleware's whole job.
const appDomainHeader = "X-App-Domain"

type ctxKey int

const identityKey ctxKey = iota

// authenticate resolves Basic credentials against the account store
// and attaches the session identity to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}

		rec, err := s.accounts.GetUser(r.Context(), user)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unauthorized(w)
				return
			}
			s.log.Error("account lookup failed", zap.String("user", user), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "account store unavailable")
			return
		}
		if bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(pass)) != nil {
			unauthorized(w)
			return
		}

		id := relay.Identity{UserID: rec.ID, App: r.Header.Get(appDomainHeader)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(ctx context.Context) relay.Identity {
	id, _ := ctx.Value(identityKey).(relay.Identity)
	return id
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="grimwire"`)
	writeError(w, http.StatusUnauthorized, "authentication required")
}
