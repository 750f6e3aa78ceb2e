package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/jrsteele09/go-identity-bridge/settings"
	"github.com/jrsteele09/go-identity-bridge/signer"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

type sessionResponse struct {
	State            string `json:"state"`
	OwnerPublicKey   string `json:"ownerPublicKey,omitempty"`
	DerivedPublicKey string `json:"derivedPublicKey,omitempty"`
	Authenticated    bool   `json:"authenticated"`
	ExpirationBlock  *int64 `json:"expirationBlock,omitempty"`
	Flow             string `json:"flow,omitempty"`
	Transport        string `json:"transport,omitempty"`
}

type loginRequest struct {
	Derive *bool `json:"derive"`
}

type loginResponse struct {
	sessionResponse
	Accounts []string `json:"accounts,omitempty"`
	SignedUp *bool    `json:"signedUp,omitempty"`
}

type signRequest struct {
	TransactionHex string `json:"transactionHex"`
}

type signResponse struct {
	SignedTransactionHex string `json:"signedTransactionHex"`
}

type settingsRequest struct {
	NodeBase *string `json:"nodeBase"`
	Theme    *string `json:"theme"`
}

type settingsResponse struct {
	NodeBase string `json:"nodeBase"`
	Theme    string `json:"theme"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "nodeBase": s.NodeBase()})
	}
}

// SessionHandler reports who is signed in. Secrets (access signature, tokens) are never
// returned.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sessionView(s.services.Machine.Session()))
	}
}

// LoginHandler blocks until the provider round trips finish, so clients should allow for the
// callback timeout.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, "invalid_request", "body must be a JSON object", http.StatusBadRequest)
				return
			}
		}
		var opts []protocol.LoginOption
		if req.Derive != nil && !*req.Derive {
			opts = append(opts, protocol.WithoutDerive())
		}

		result, err := s.services.Machine.Login(r.Context(), opts...)
		if err != nil {
			writeProtocolError(w, r, err)
			return
		}

		resp := loginResponse{sessionResponse: s.sessionView(result.Session), SignedUp: result.Login.SignedUp}
		if accounts, err := result.Login.Accounts(); err == nil {
			for key := range accounts {
				resp.Accounts = append(resp.Accounts, key)
			}
			sort.Strings(resp.Accounts)
		} else {
			log.Warn().Err(err).Msg("login callback carried an unreadable account list")
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) DeriveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.services.Machine.DeriveIfNeeded(r.Context())
		if err != nil {
			writeProtocolError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessionView(sess))
	}
}

func (s *Server) SignHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "body must be a JSON object", http.StatusBadRequest)
			return
		}
		signed, err := s.services.Signer.SignHex(r.Context(), req.TransactionHex)
		if err != nil {
			writeProtocolError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, signResponse{SignedTransactionHex: signed})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.services.Machine.Logout(r.Context()); err != nil {
			writeProtocolError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) SettingsGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, settingsView(s.services.Settings.Current()))
	}
}

func (s *Server) SettingsPutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "body must be a JSON object", http.StatusBadRequest)
			return
		}
		updated, err := s.services.Settings.Update(r.Context(), func(st *settings.Settings) {
			if req.NodeBase != nil {
				st.NodeBase = *req.NodeBase
			}
			if req.Theme != nil {
				st.Theme = settings.Theme(*req.Theme)
			}
		})
		if err != nil {
			writeProtocolError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settingsView(updated))
	}
}

func (s *Server) sessionView(sess session.Session) sessionResponse {
	id := sess.Identity()
	resp := sessionResponse{
		State:            s.services.Machine.State().String(),
		OwnerPublicKey:   id.OwnerPublicKey,
		DerivedPublicKey: id.DerivedPublicKey,
		Authenticated:    id.Authenticated,
		ExpirationBlock:  sess.ExpirationBlock,
	}
	if attempt, ok := s.services.Machine.CurrentAttempt(); ok {
		resp.Flow = string(attempt.Flow)
		resp.Transport = string(attempt.Transport)
	}
	return resp
}

func settingsView(st settings.Settings) settingsResponse {
	return settingsResponse{NodeBase: st.NodeBase, Theme: string(st.Theme)}
}

var protocolErrors = []struct {
	err    error
	code   string
	status int
}{
	{protocol.ErrAlreadyInProgress, "already_in_progress", http.StatusConflict},
	{protocol.ErrUserCancelled, "user_cancelled", http.StatusConflict},
	{protocol.ErrTimeout, "timeout", http.StatusGatewayTimeout},
	{protocol.ErrNotAuthorized, "not_authorized", http.StatusUnauthorized},
	{protocol.ErrIncompleteDerivation, "incomplete_derivation", http.StatusUnauthorized},
	{protocol.ErrAuthFailure, "auth_failure", http.StatusBadGateway},
	{protocol.ErrSigningFailure, "signing_failure", http.StatusBadGateway},
	{protocol.ErrInvalidTransaction, "invalid_transaction", http.StatusBadRequest},
	{signer.ErrInvalidHex, "invalid_transaction", http.StatusBadRequest},
	{settings.ErrInvalidTheme, "invalid_settings", http.StatusBadRequest},
	{settings.ErrInvalidNodeBase, "invalid_settings", http.StatusBadRequest},
}

func writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	for _, pe := range protocolErrors {
		if errors.Is(err, pe.err) {
			writeJSONError(w, pe.code, pe.err.Error(), pe.status)
			return
		}
	}
	log.Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSONError(w, "server_error", "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
