package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/middleware"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

const (
	msgUnauthorized = "This action is unauthorized."
	msgNoFunction   = "You have no permission for this function!"
)

// PermissionMiddleware guards routes with capability checks. It must run
// after the authentication middleware.
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
	}
}

// RequirePermission allows the request only when the user can manage resource
func (pm *PermissionMiddleware) RequirePermission(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "Unauthenticated.")
				return
			}

			r = r.WithContext(WithCapabilityMemo(r.Context()))
			allowed, err := pm.checker.CanManage(r.Context(), authCtx.UserID(), resource)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
				httputil.WriteError(w, apierr.Internal(err))
				return
			}

			if !allowed {
				denied(r, resource)
				httputil.WriteForbidden(w, msgUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole allows the request only when the user holds one of roleKeys
func (pm *PermissionMiddleware) RequireAnyRole(roleKeys ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "Unauthenticated.")
				return
			}

			r = r.WithContext(WithCapabilityMemo(r.Context()))
			ok, err := pm.checker.HasAnyRole(r.Context(), authCtx.UserID(), roleKeys...)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("role check failed")
				httputil.WriteError(w, apierr.Internal(err))
				return
			}

			if !ok {
				denied(r, "role:"+strings.Join(roleKeys, ","))
				httputil.WriteForbidden(w, msgNoFunction)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denied(r *http.Request, resource string) {
	ctx := r.Context()
	authCtx := middleware.GetAuthContext(r)

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"resource": resource,
		"path":     r.URL.Path,
	}).Info("access denied")

	_ = audit.FromContext(ctx).Log(ctx, &audit.Event{
		Type:         audit.EventAccessDenied,
		Status:       audit.StatusDenied,
		UserID:       authCtx.UserID(),
		Username:     authCtx.User.Username,
		ResourceType: resource,
		Method:       r.Method,
		Path:         r.URL.Path,
		StatusCode:   http.StatusForbidden,
	})
}
