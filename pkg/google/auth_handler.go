package google

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/config"
	"github.com/solcal/solcal/internal/rest"
	"golang.org/x/oauth2"
)

type googleAuthRedirect struct {
	RedirectUrl string `json:"redirectUrl"`
}

func (g *GoogleAuth) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	account, ok := g.store.Get().Accounts[accountID]
	if !ok || account.Auth != config.AuthGoogle {
		rest.WriteError(w, http.StatusNotFound, "No Google account "+accountID, "")
		return
	}

	if _, err := g.db.ExecContext(r.Context(), "DELETE FROM oauth_tokens WHERE account_id = ?", accountID); err != nil {
		log.Errorf("failed to delete old Google auth row for account %s: %v", accountID, err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", "")
		return
	}

	stateNonce := uuid.New().String()
	finalUrl := r.URL.Query().Get("finalUrl")

	// the nonce ties the callback to this account
	if _, err := g.db.ExecContext(r.Context(), "INSERT INTO oauth_tokens (account_id, nonce) VALUES (?, ?)", accountID, stateNonce); err != nil {
		log.Errorf("failed to store Google auth nonce for account %s: %v", accountID, err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", "")
		return
	}

	log.Tracef("Redirecting to Google auth URL with nonce: %s", stateNonce)
	u := g.oauthConfig().AuthCodeURL(finalUrl+"|"+stateNonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	rest.WriteJSON(w, http.StatusOK, googleAuthRedirect{RedirectUrl: u})
}

func (g *GoogleAuth) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	state := r.FormValue("state")

	parts := strings.SplitN(state, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		rest.WriteError(w, http.StatusBadRequest, "Invalid OAuth state", "")
		return
	}
	finalUrl := parts[0]
	nonce := parts[1]

	var accountID string
	err := g.db.QueryRowContext(r.Context(), "SELECT account_id FROM oauth_tokens WHERE nonce = ?", nonce).Scan(&accountID)
	if err != nil {
		log.Errorf("unknown Google auth nonce %s: %v", nonce, err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}

	token, err := g.oauthConfig().Exchange(r.Context(), code)
	if err != nil {
		log.Errorf("unable to exchange code for token: %v", err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}

	if err := g.saveToken(r.Context(), accountID, token); err != nil {
		log.Error(err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}
	log.Debugf("Stored Google auth token of account %s", accountID)
	g.credentialsChanged(r.Context(), accountID)
	http.Redirect(w, r, finalUrl+"?success=true", http.StatusFound)
}

func (g *GoogleAuth) OAuthLogout(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if _, err := g.db.ExecContext(r.Context(), "DELETE FROM oauth_tokens WHERE account_id = ?", accountID); err != nil {
		log.Errorf("failed to delete Google auth row for account %s: %v", accountID, err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", "")
		return
	}
	g.credentialsChanged(r.Context(), accountID)
	w.WriteHeader(http.StatusNoContent)
}

