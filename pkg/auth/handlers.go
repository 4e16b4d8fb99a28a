package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// RoleLookup returns the role keys assigned to a user
type RoleLookup interface {
	UserRoleKeys(ctx context.Context, userID int64) ([]string, error)
}

// Handlers serves the /auth identity endpoints
type Handlers struct {
	service *Service
	roles   RoleLookup
	audit   audit.Logger
}

// NewHandlers creates identity handlers. roles may be nil.
func NewHandlers(service *Service, roles RoleLookup, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Handlers{service: service, roles: roles, audit: auditLogger}
}

// RegisterRoutes mounts the identity routes on router, which is usually the
// /auth subrouter. guard wraps /info and /logout; it must authenticate the
// request and usually also checks the "users" permission.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(http.Handler) http.Handler) {
	router.HandleFunc("/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/login", h.login).Methods(http.MethodPost)
	router.Handle("/info", guard(http.HandlerFunc(h.info))).Methods(http.MethodGet)
	router.Handle("/logout", guard(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
}

// LoginResponse is the data block returned by a successful login
type LoginResponse struct {
	Token     string     `json:"token"`
	TokenType string     `json:"token_type"`
	ExpiresAt *time.Time `json:"expires_at"`
	Abilities []Ability  `json:"abilities"`
	User      *User      `json:"user"`
}

// InfoResponse is the current user with role keys
type InfoResponse struct {
	*User
	Roles []string `json:"roles"`
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "register failed")
		return
	}

	h.audit.Log(r.Context(), &audit.Event{
		Type:         audit.EventUserRegister,
		Status:       audit.StatusSuccess,
		UserID:       user.ID,
		Username:     user.Username,
		ResourceType: "users",
		ResourceID:   strconv.FormatInt(user.ID, 10),
	})

	httputil.WriteCreated(w, "Create new USER successfully!", user)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.audit.Log(r.Context(), &audit.Event{
			Type:     audit.EventLogin,
			Status:   audit.StatusFailure,
			Username: req.Username,
			Message:  apierr.Message(err),
		})
		h.writeError(w, r, err, "login failed")
		return
	}

	h.audit.Log(r.Context(), &audit.Event{
		Type:     audit.EventLogin,
		Status:   audit.StatusSuccess,
		UserID:   result.User.ID,
		Username: result.User.Username,
	})

	httputil.WriteOK(w, "Login success!", LoginResponse{
		Token:     result.PlainToken,
		TokenType: "Bearer",
		ExpiresAt: result.Token.ExpiresAt,
		Abilities: result.Token.Abilities,
		User:      result.User,
	})
}

func (h *Handlers) info(w http.ResponseWriter, r *http.Request) {
	authCtx := FromContext(r.Context())
	if authCtx == nil {
		httputil.WriteError(w, apierr.Unauthenticated(msgUnauthenticated))
		return
	}

	resp := InfoResponse{User: authCtx.User, Roles: []string{}}
	if h.roles != nil {
		roles, err := h.roles.UserRoleKeys(r.Context(), authCtx.User.ID)
		if err != nil {
			h.writeError(w, r, err, "failed to load roles")
			return
		}
		resp.Roles = roles
	}

	httputil.WriteOK(w, "Get User Login Info success!", resp)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	authCtx := FromContext(r.Context())
	if err := h.service.Logout(r.Context(), authCtx); err != nil {
		h.writeError(w, r, err, "logout failed")
		return
	}

	h.audit.Log(r.Context(), &audit.Event{
		Type:     audit.EventLogout,
		Status:   audit.StatusSuccess,
		UserID:   authCtx.UserID(),
		Username: authCtx.User.Username,
	})

	httputil.WriteOK(w, "Logout success!", nil)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if apierr.StatusCode(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error(msg)
		err = apierr.Internal(err)
	}
	httputil.WriteError(w, err)
}
