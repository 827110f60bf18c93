// auth.go implements the sign-in endpoints: password token issue, OIDC login
// and callback, and the current-user lookup.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/auth"
	"github.com/routedesk/routedesk/internal/auth/oidc"
	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/middleware"
)

// UserStore is the part of repositories.UserRepository the auth handlers use.
type UserStore interface {
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetUserByOIDCSub(ctx context.Context, sub string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
}

// OIDCAuthenticator is implemented by *oidc.Provider.
type OIDCAuthenticator interface {
	AuthURL(state string) string
	Authenticate(ctx context.Context, code string) (*oidc.Identity, error)
	IsAdmin(id *oidc.Identity) bool
}

// Emitter receives auth.login audit events. *audit.Channel implements it.
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event, caller audit.Caller)
}

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	users    UserStore
	oidc     OIDCAuthenticator // nil when OIDC is disabled
	states   StateStore
	emitter  Emitter
	tokenTTL time.Duration
	// syncAdmin makes the IdP's admin groups authoritative for OIDC users
	syncAdmin bool
}

// NewAuthHandlers creates the auth handlers. provider and emitter may be nil.
func NewAuthHandlers(cfg *config.Config, users UserStore, provider OIDCAuthenticator, states StateStore, emitter Emitter) *AuthHandlers {
	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if states == nil {
		states = NewMemoryStateStore()
	}
	return &AuthHandlers{
		users:     users,
		oidc:      provider,
		states:    states,
		emitter:   emitter,
		tokenTTL:  ttl,
		syncAdmin: len(cfg.Auth.OIDC.AdminGroups) > 0,
	}
}

type tokenRequest struct {
	Login    string   `form:"login" json:"login" binding:"required"`
	Password string   `form:"password" json:"password" binding:"required"`
	Scopes   []string `form:"scopes" json:"scopes"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *AuthHandlers) emitLogin(c *gin.Context, login, method string, user *models.User) {
	if h.emitter == nil {
		return
	}
	userID := ""
	if user != nil {
		userID = user.ID
	}
	h.emitter.Emit(c.Request.Context(),
		audit.Login{Login: login, Method: method, Success: user != nil},
		audit.NewCaller(c.ClientIP(), userID))
}

func (h *AuthHandlers) issue(c *gin.Context, user *models.User, scopes []string) {
	expiresAt := time.Now().Add(h.tokenTTL).UTC()
	token, err := auth.GenerateJWT(user.ID, user.Login, scopes, h.tokenTTL)
	if err != nil {
		slog.Error("failed to generate token", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// @Summary      Issue token
// @Description  Exchange a login and password for a JWT. An optional scopes list narrows the token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      400  {object}  map[string]interface{}  "Missing login or password, or invalid scopes"
// @Failure      401  {object}  map[string]interface{}  "Invalid login or password"
// @Router       /api/v1/auth/token [post]
// TokenHandler issues a JWT for a password account
// POST /api/v1/auth/token
func (h *AuthHandlers) TokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login and password are required"})
			return
		}
		if err := auth.ValidateScopes(req.Scopes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := h.users.GetUserByLogin(c.Request.Context(), req.Login)
		if err != nil {
			slog.Error("failed to look up user", "login", req.Login, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up user"})
			return
		}
		if user == nil || !user.HasPassword() || !auth.CheckPassword(req.Password, *user.PasswordHash) {
			h.emitLogin(c, req.Login, "password", nil)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid login or password"})
			return
		}

		h.emitLogin(c, req.Login, "password", user)
		h.issue(c, user, req.Scopes)
	}
}

// @Summary      Start OIDC login
// @Description  Redirects the browser to the identity provider.
// @Tags         Authentication
// @Success      302  {object}  string  "Redirect to the identity provider"
// @Failure      404  {object}  map[string]interface{}  "OIDC is not enabled"
// @Router       /api/v1/auth/oidc/login [get]
// OIDCLoginHandler starts the authorization code flow
// GET /api/v1/auth/oidc/login
func (h *AuthHandlers) OIDCLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.oidc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "OIDC login is not enabled"})
			return
		}

		state, err := generateState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
			return
		}
		if err := h.states.Put(c.Request.Context(), state, stateTTL); err != nil {
			slog.Error("failed to store OIDC state", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store login state"})
			return
		}

		c.Redirect(http.StatusFound, h.oidc.AuthURL(state))
	}
}

// @Summary      OIDC callback
// @Description  Exchanges the authorization code, finds or creates the user and returns a JWT.
// @Tags         Authentication
// @Produce      json
// @Param        code   query  string  true  "Authorization code"
// @Param        state  query  string  true  "State issued by the login endpoint"
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      400  {object}  map[string]interface{}  "Invalid or expired state"
// @Failure      401  {object}  map[string]interface{}  "Code exchange or token verification failed"
// @Router       /api/v1/auth/oidc/callback [get]
// OIDCCallbackHandler completes the authorization code flow
// GET /api/v1/auth/oidc/callback?code=...&state=...
func (h *AuthHandlers) OIDCCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.oidc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "OIDC login is not enabled"})
			return
		}
		ctx := c.Request.Context()

		ok, err := h.states.Consume(ctx, c.Query("state"))
		if err != nil {
			slog.Error("failed to read OIDC state", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read login state"})
			return
		}
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired state. Please try logging in again."})
			return
		}

		id, err := h.oidc.Authenticate(ctx, c.Query("code"))
		if err != nil {
			slog.Warn("OIDC authentication failed", "error", err)
			h.emitLogin(c, "", "oidc", nil)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication with the identity provider failed"})
			return
		}

		user, err := h.findOrCreate(ctx, id)
		if err != nil {
			slog.Error("failed to find or create OIDC user", "sub", id.Subject, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up or create your account"})
			return
		}

		h.emitLogin(c, user.Login, "oidc", user)
		h.issue(c, user, nil)
	}
}

func (h *AuthHandlers) findOrCreate(ctx context.Context, id *oidc.Identity) (*models.User, error) {
	user, err := h.users.GetUserByOIDCSub(ctx, id.Subject)
	if err != nil {
		return nil, err
	}

	if user == nil {
		sub := id.Subject
		user = &models.User{
			Login:   id.Login,
			Email:   id.Email,
			Name:    id.Name,
			OIDCSub: &sub,
			Admin:   h.oidc.IsAdmin(id),
		}
		if err := h.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		slog.Info("created user from OIDC login", "user_id", user.ID, "login", user.Login)
		return user, nil
	}

	changed := user.Email != id.Email || user.Name != id.Name
	user.Email, user.Name = id.Email, id.Name
	if h.syncAdmin {
		admin := h.oidc.IsAdmin(id)
		changed = changed || admin != user.Admin
		user.Admin = admin
	}
	if changed {
		if err := h.users.UpdateUser(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// @Summary      Current user
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user, scopes"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/user/me [get]
// MeHandler returns the authenticated user
// GET /api/v1/user/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":   user,
			"scopes": c.GetStringSlice(middleware.ContextScopes),
		})
	}
}
