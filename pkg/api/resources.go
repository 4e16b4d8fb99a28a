package api

import (
	"fmt"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/observability"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
)

// UserIDHeader tells the upstream which user the gate admitted
const UserIDHeader = "X-User-ID"

// Resource is a gated table mounted at its singular path
type Resource struct {
	Path  string
	Table string
}

// Resources lists the tables the gate protects
var Resources = []Resource{
	{Path: "/booking", Table: rbac.ResourceBookings},
	{Path: "/customer", Table: rbac.ResourceCustomers},
	{Path: "/invoice", Table: rbac.ResourceInvoices},
	{Path: "/product", Table: rbac.ResourceProducts},
	{Path: "/room", Table: rbac.ResourceRooms},
	{Path: "/song", Table: rbac.ResourceSongs},
	{Path: "/staff", Table: rbac.ResourceStaffs},
}

// ResourceProxy forwards admitted resource requests to the controller service
type ResourceProxy struct {
	target *url.URL
	proxy  *stdhttputil.ReverseProxy
}

// NewResourceProxy creates a proxy to rawURL. An empty rawURL yields a proxy
// that answers 501 for every request.
func NewResourceProxy(rawURL string, timeout time.Duration) (*ResourceProxy, error) {
	if rawURL == "" {
		return &ResourceProxy{}, nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", rawURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	proxy := stdhttputil.NewSingleHostReverseProxy(target)
	proxy.Transport = otelhttp.NewTransport(transport)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del(UserIDHeader)
		if authCtx := auth.FromContext(r.Context()); authCtx != nil {
			r.Header.Set(UserIDHeader, strconv.FormatInt(authCtx.UserID(), 10))
		}
		if requestID := observability.GetRequestID(r.Context()); requestID != "" {
			r.Header.Set(httputil.RequestIDHeader, requestID)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		observability.FromContext(r.Context()).WithError(err).
			WithField("upstream", target.Host).
			Error("upstream request failed")
		httputil.WriteFailure(w, http.StatusBadGateway, "Resource service is unavailable.")
	}

	return &ResourceProxy{target: target, proxy: proxy}, nil
}

// Configured reports whether an upstream is set
func (p *ResourceProxy) Configured() bool {
	return p != nil && p.proxy != nil
}

// ServeHTTP implements http.Handler
func (p *ResourceProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.Configured() {
		httputil.WriteFailure(w, http.StatusNotImplemented, "Resource service is not configured.")
		return
	}
	p.proxy.ServeHTTP(w, r)
}

// registerResources mounts every gated table. /product/stock additionally
// needs an inventory role and is registered first so it wins over /product/.
func (s *Server) registerResources(upstream *ResourceProxy, requireAuth func(http.Handler) http.Handler) {
	var next http.Handler = upstream

	stock := httputil.Chain(
		requireAuth,
		s.gate.RequirePermission(rbac.ResourceProducts),
		s.gate.RequireAnyRole(rbac.InventoryRoleKeys...),
	)(next)
	s.router.Handle("/product/stock", stock)

	for _, res := range Resources {
		gated := httputil.Chain(requireAuth, s.gate.RequirePermission(res.Table))(next)
		s.router.Handle(res.Path, gated)
		s.router.PathPrefix(res.Path + "/").Handler(gated)
	}
}
