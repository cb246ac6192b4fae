package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/OpenSourceInternetV2/grimwire/internal/relay"
	"github.com/OpenSourceInternetV2/grimwire/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

func (s *Server) handleNoContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateUser registers a new account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !isJSONRequest(r) {
		writeError(w, http.StatusUnsupportedMediaType, "request body must be application/json")
		return
	}

	var body struct {
		ID       string `json:"id"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "`id` and `password` must be strings")
		return
	}
	if body.ID == "" || body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "`id` and `password` are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcryptCost)
	if err != nil {
		s.log.Error("hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := &store.User{ID: body.ID, PasswordHash: hash, Email: body.Email}
	if err := s.accounts.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "user id is taken")
			return
		}
		s.log.Error("create user", zap.String("user", body.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	s.log.Info("user created", zap.String("user", user.ID))
	w.WriteHeader(http.StatusNoContent)
}

type userRow struct {
	ID                string           `json:"id"`
	Online            bool             `json:"online"`
	TrustsThisSession bool             `json:"trusts_this_session"`
	Streams           map[string][]int `json:"streams"`
	CreatedAt         *time.Time       `json:"created_at,omitempty"`
}

// handleListUsers serves the user directory. `?online` restricts the
// listing to users with open relays; `?trusted` filters to the session
// user's own trusted peers. Stream inventories are disclosed only to
// requesters the listed user trusts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(r) {
		writeError(w, http.StatusNotAcceptable, "only application/json is served")
		return
	}
	session := identityFrom(r.Context())

	var trusted map[string]struct{}
	if r.URL.Query().Get("trusted") != "" {
		rec, err := s.accounts.GetUser(r.Context(), session.UserID)
		if err != nil {
			s.log.Error("load session user", zap.String("user", session.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "account store unavailable")
			return
		}
		trusted = make(map[string]struct{}, len(rec.TrustedPeers))
		for _, id := range rec.TrustedPeers {
			trusted[id] = struct{}{}
		}
	}

	include := func(id string) bool {
		if trusted == nil {
			return true
		}
		_, ok := trusted[id]
		return ok
	}

	rows := []userRow{}
	if r.URL.Query().Get("online") != "" {
		for _, view := range s.broker.Online() {
			if !include(view.ID) {
				continue
			}
			rows = append(rows, s.directoryRow(session, view.ID, nil))
		}
	} else {
		users, err := s.accounts.GetUsers(r.Context())
		if err != nil {
			s.log.Error("load users", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "account store unavailable")
			return
		}
		for _, u := range users {
			if !include(u.ID) {
				continue
			}
			created := u.CreatedAt
			rows = append(rows, s.directoryRow(session, u.ID, &created))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) directoryRow(session relay.Identity, id string, createdAt *time.Time) userRow {
	view, online := s.broker.Snapshot(id)
	trusts := online && s.broker.Trusted(session.UserID, id)
	streams := map[string][]int{}
	if trusts {
		streams = view.Streams
	}
	return userRow{
		ID:                id,
		Online:            online,
		TrustsThisSession: trusts,
		Streams:           streams,
		CreatedAt:         createdAt,
	}
}

// handleUser negotiates between a presence snapshot (JSON) and opening
// a relay stream (text/event-stream).
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if acceptsEventStream(r) {
		s.handleOpenRelay(w, r)
		return
	}
	if !acceptsJSON(r) {
		writeError(w, http.StatusNotAcceptable, "only application/json or text/event-stream is served")
		return
	}

	session := identityFrom(r.Context())
	target := chi.URLParam(r, "userID")

	// Disclosure policy: unknown and offline are the same 404; 403 is
	// reserved for online-but-untrusted.
	view, ok := s.broker.Snapshot(target)
	if !ok {
		writeError(w, http.StatusNotFound, "user is not online")
		return
	}
	if !s.broker.Trusted(session.UserID, target) {
		writeError(w, http.StatusForbidden, "user has not trusted you")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"item": view})
}

// handleOpenRelay opens the long-lived push channel and holds the
// connection until the client goes away or the transport dies.
func (s *Server) handleOpenRelay(w http.ResponseWriter, r *http.Request) {
	session := identityFrom(r.Context())
	if target := chi.URLParam(r, "userID"); target != session.UserID {
		writeError(w, http.StatusForbidden, "relays can only be opened on your own id")
		return
	}

	stream := relay.StreamID(0)
	if qs := r.URL.Query().Get("stream"); qs != "" {
		n, err := strconv.Atoi(qs)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "`stream` must be numeric")
			return
		}
		stream = relay.StreamID(n)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sink := newEventSink(w, flusher)

	rl, err := s.broker.Open(r.Context(), session, stream, sink)
	if err != nil {
		if errors.Is(err, relay.ErrRelayBusy) {
			writeError(w, http.StatusLocked, "relay is already open")
			return
		}
		s.log.Error("open relay", zap.String("user", session.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	defer s.broker.Close(rl)

	if err := sink.begin(); err != nil {
		return
	}

	var heartbeat <-chan time.Time
	if s.cfg.Relay.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.Relay.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sink.done:
			return
		case <-heartbeat:
			if err := sink.comment("hb"); err != nil {
				return
			}
		}
	}
}

// handleUpdateUser updates the session user's settings: the online
// trust cache first, then the durable record.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !isJSONRequest(r) {
		writeError(w, http.StatusUnsupportedMediaType, "request body must be application/json")
		return
	}
	session := identityFrom(r.Context())
	if target := chi.URLParam(r, "userID"); target != session.UserID {
		writeError(w, http.StatusForbidden, "only your own account can be updated")
		return
	}

	var body struct {
		TrustedPeers *[]string `json:"trusted_peers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "`trusted_peers` must be an array of strings")
		return
	}
	if body.TrustedPeers == nil {
		writeError(w, http.StatusUnprocessableEntity, "no valid fields in the request body")
		return
	}
	peers := *body.TrustedPeers

	s.broker.UpdateTrustedPeers(session.UserID, peers)
	if err := s.accounts.UpdateUser(r.Context(), session.UserID, store.Update{TrustedPeers: peers}); err != nil {
		s.log.Error("update user", zap.String("user", session.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBroadcast forwards one signal to the addressed relay.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if !isJSONRequest(r) {
		writeError(w, http.StatusUnsupportedMediaType, "request body must be application/json")
		return
	}
	session := identityFrom(r.Context())
	if target := chi.URLParam(r, "userID"); target != session.UserID {
		writeError(w, http.StatusForbidden, "broadcasts go through your own relays")
		return
	}

	var env relay.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "body must include `msg`, `dst`, and `src`")
		return
	}

	switch result := s.broker.Dispatch(session, env); result {
	case relay.Delivered:
		w.WriteHeader(http.StatusNoContent)
	case relay.NotOnline:
		writeError(w, http.StatusGatewayTimeout, "destination relay is not open")
	case relay.Forbidden:
		writeError(w, http.StatusForbidden, "destination has not trusted you")
	default:
		writeError(w, http.StatusUnprocessableEntity, "invalid signal")
	}
}
