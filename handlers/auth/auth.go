// Package auth implements the optional owner login. A GitHub or OIDC login
// ends with an HS256 token the page sends back on API and socket.io calls.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"clipsync/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookie = "clipsync_state"
	tokenTTL    = 7 * 24 * time.Hour
)

var ErrLoginNotAllowed = errors.New("login not allowed")

var (
	loginHandler    http.HandlerFunc
	callbackHandler http.HandlerFunc

	githubOauthConfig *oauth2.Config
	oidcOauthConfig   *oauth2.Config
	verifier          *oidc.IDTokenVerifier

	jwtSecret     []byte
	allowedLogins map[string]bool
)

// OwnerClaims are the claims of an issued token.
type OwnerClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Name      string `json:"name,omitempty"`
}

type oidcClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

// InitAuth configures the login provider, the token secret and the login
// allowlist from the environment. OIDC wins when both providers are set.
func InitAuth() {
	oidcConfigured := os.Getenv("OIDC_ISSUER_URL") != "" && os.Getenv("OIDC_CLIENT_ID") != ""
	githubConfigured := os.Getenv("GITHUB_CLIENT_ID") != "" && os.Getenv("GITHUB_CLIENT_SECRET") != ""

	switch {
	case oidcConfigured:
		logrus.Info("Initializing OIDC login provider.")
		initOIDC()
		loginHandler = handleOIDCLogin
		callbackHandler = handleOIDCCallback
	case githubConfigured:
		logrus.Info("Initializing GitHub login provider.")
		initGitHub()
		loginHandler = handleGitHubLogin
		callbackHandler = handleGitHubCallback
	default:
		loginHandler = nil
		callbackHandler = nil
	}

	jwtSecret = []byte(os.Getenv("JWT_SECRET"))
	allowedLogins = parseAllowlist(os.Getenv("ALLOWED_LOGINS"))

	switch {
	case !Enabled():
		logrus.Warn("JWT_SECRET is not set. The clipboard is open to anyone who can reach it.")
	case loginHandler == nil:
		logrus.Warn("JWT_SECRET is set but no login provider is configured.")
	case len(allowedLogins) == 0:
		logrus.Warn("ALLOWED_LOGINS is empty. Any account of the provider can log in.")
	}
}

// Enabled reports whether tokens are required.
func Enabled() bool {
	return len(jwtSecret) > 0
}

func parseAllowlist(list string) map[string]bool {
	allowed := make(map[string]bool)
	for _, login := range strings.Split(list, ",") {
		login = strings.ToLower(strings.TrimSpace(login))
		if login != "" {
			allowed[login] = true
		}
	}
	return allowed
}

func allowed(owner *core.Owner) bool {
	if len(allowedLogins) == 0 {
		return true
	}
	return allowedLogins[strings.ToLower(owner.Login)] ||
		(owner.Email != "" && allowedLogins[strings.ToLower(owner.Email)])
}

func HandleLogin(w http.ResponseWriter, r *http.Request) {
	if loginHandler == nil {
		http.Error(w, "Login is not configured", http.StatusNotImplemented)
		return
	}
	loginHandler(w, r)
}

func HandleCallback(w http.ResponseWriter, r *http.Request) {
	if callbackHandler == nil {
		http.Error(w, "Login is not configured", http.StatusNotImplemented)
		return
	}
	callbackHandler(w, r)
}

func initGitHub() {
	githubOauthConfig = &oauth2.Config{
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}
}

func initOIDC() {
	providerURL := os.Getenv("OIDC_ISSUER_URL")
	clientID := os.Getenv("OIDC_CLIENT_ID")

	provider, err := oidc.NewProvider(context.Background(), providerURL)
	if err != nil {
		logrus.WithError(err).WithField("issuer", providerURL).Error("Failed to create OIDC provider")
		oidcOauthConfig = nil
		return
	}

	oidcOauthConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Endpoint:     provider.Endpoint(),
	}
	verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	logrus.WithField("issuer", providerURL).Info("OIDC provider initialized")
}

func setStateCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

func checkState(r *http.Request) error {
	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		return fmt.Errorf("missing state cookie: %w", err)
	}
	if cookie.Value == "" || cookie.Value != r.FormValue("state") {
		return errors.New("state mismatch")
	}
	return nil
}

func redirectToProvider(w http.ResponseWriter, r *http.Request, config *oauth2.Config, opts ...oauth2.AuthCodeOption) {
	if config == nil {
		http.Error(w, "Login provider is not available", http.StatusInternalServerError)
		return
	}
	state, err := setStateCookie(w, r)
	if err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, config.AuthCodeURL(state, opts...), http.StatusTemporaryRedirect)
}

func handleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	redirectToProvider(w, r, githubOauthConfig)
}

func handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	redirectToProvider(w, r, oidcOauthConfig)
}

func handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if err := checkState(r); err != nil {
		failLogin(w, r, err)
		return
	}

	token, err := githubOauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		failLogin(w, r, fmt.Errorf("exchange token: %w", err))
		return
	}

	resp, err := githubOauthConfig.Client(r.Context(), token).Get("https://api.github.com/user")
	if err != nil {
		failLogin(w, r, fmt.Errorf("get github user: %w", err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		failLogin(w, r, fmt.Errorf("read github user: %w", err))
		return
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		failLogin(w, r, fmt.Errorf("decode github user: %w", err))
		return
	}

	finishLogin(w, r, &core.Owner{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		Email:     githubUser.Email,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	})
}

func handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if err := checkState(r); err != nil {
		failLogin(w, r, err)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		failLogin(w, r, errors.New("no code in callback"))
		return
	}

	token, err := oidcOauthConfig.Exchange(r.Context(), code)
	if err != nil {
		failLogin(w, r, fmt.Errorf("exchange token: %w", err))
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		failLogin(w, r, errors.New("no id_token in token response"))
		return
	}

	idToken, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		failLogin(w, r, fmt.Errorf("verify id token: %w", err))
		return
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		failLogin(w, r, fmt.Errorf("read id token claims: %w", err))
		return
	}

	owner := &core.Owner{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if owner.Login == "" {
		owner.Login = owner.Email
	}
	finishLogin(w, r, owner)
}

func finishLogin(w http.ResponseWriter, r *http.Request, owner *core.Owner) {
	if !allowed(owner) {
		failLogin(w, r, fmt.Errorf("%w: %s", ErrLoginNotAllowed, owner.Login))
		return
	}

	token, err := IssueToken(owner)
	if err != nil {
		failLogin(w, r, fmt.Errorf("issue token: %w", err))
		return
	}

	logrus.WithFields(logrus.Fields{"subject": owner.Subject, "login": owner.Login}).Info("Owner logged in")
	http.Redirect(w, r, "/?token="+url.QueryEscape(token), http.StatusTemporaryRedirect)
}

func failLogin(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithError(err).Warn("Login failed")
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// IssueToken signs a token for owner.
func IssueToken(owner *core.Owner) (string, error) {
	if !Enabled() {
		return "", errors.New("JWT_SECRET is not set")
	}
	now := time.Now()
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     owner.Login,
		Email:     owner.Email,
		AvatarURL: owner.AvatarURL,
		Name:      owner.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OwnerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OwnerClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
