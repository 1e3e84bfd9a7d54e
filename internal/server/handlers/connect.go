package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/response"
	"github.com/pricesync/pricesync/internal/server/session"
)

// Callback failure codes reported to the landing page as ?error=.
const (
	callbackNoCode        = "no_code"
	callbackInvalidState  = "invalid_state"
	callbackTokenExchange = "token_exchange"
	callbackAccountQuery  = "account_query"
	callbackStore         = "store"
)

// Status is the connection state of the current browser session.
type Status struct {
	Connected   bool   `json:"connected"`
	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HandleIndex handles GET /. It reports the session state and any error
// passed back from the connect flow.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	st := h.status(r)
	st.Error = r.URL.Query().Get("error")
	response.OK(w, st)
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.status(r))
}

func (h *Handlers) status(r *http.Request) Status {
	cred, ok := h.connected(r)
	if !ok {
		return Status{}
	}
	return Status{Connected: true, AccountID: cred.AccountID, AccountName: cred.AccountName}
}

// HandleConnect handles GET /connect by redirecting to the Jobber consent
// page with a fresh state.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := session.NewState()
	if err != nil {
		h.log(r).Error().Err(err).Msg("generate oauth state")
		response.InternalError(w, err)
		return
	}
	h.sessions.SetState(w, state)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback handles GET /oauth/callback: it checks the state, exchanges
// the code, looks up the account and stores the credential.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log(r)
	q := r.URL.Query()

	expected := h.sessions.State(r)
	h.sessions.ClearState(w)

	code := q.Get("code")
	if code == "" {
		redirectError(w, r, callbackNoCode)
		return
	}
	if expected == "" || q.Get("state") != expected {
		log.Warn().Msg("oauth callback state mismatch")
		redirectError(w, r, callbackInvalidState)
		return
	}

	tokens, err := h.auth.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("authorization code exchange failed")
		redirectError(w, r, callbackTokenExchange)
		return
	}

	account, err := h.jobber.Account(ctx, tokens.AccessToken)
	if err != nil || account.ID == "" {
		log.Warn().Err(err).Msg("account query failed")
		redirectError(w, r, callbackAccountQuery)
		return
	}

	err = h.store.Upsert(ctx, credentials.Credential{
		AccountID:    account.ID,
		AccountName:  account.Name,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("store credential")
		redirectError(w, r, callbackStore)
		return
	}

	log.Info().Str("account_id", account.ID).Str("account_name", account.Name).Msg("account connected")
	h.events.Publish(events.AccountConnected, account.ID, Status{
		Connected: true, AccountID: account.ID, AccountName: account.Name,
	})
	h.sessions.SetAccount(w, account.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleDisconnect handles GET and POST /disconnect. Jobber is told about
// the disconnect when a valid token is available; local state is cleared
// regardless.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log(r)

	if accountID, ok := h.sessions.Account(r); ok {
		if token, err := h.auth.GetValidToken(ctx, accountID); err == nil {
			if err := h.jobber.Disconnect(ctx, token); err != nil {
				log.Warn().Err(err).Str("account_id", accountID).Msg("remote disconnect failed")
			}
		}
		if err := h.store.Delete(ctx, accountID); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("delete credential")
			response.InternalError(w, err)
			return
		}
		log.Info().Str("account_id", accountID).Msg("account disconnected")
		h.events.Publish(events.AccountDisconnected, accountID, Status{AccountID: accountID})
	}

	h.sessions.ClearAccount(w)
	if wantsJSON(r) {
		response.OK(w, Status{})
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(code), http.StatusFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
