package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/roomdesk/pkg/contextkeys"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Checker answers capability questions for a user
type Checker interface {
	// CanManage reports whether the user holds a permission whose key or
	// related resource equals resource
	CanManage(ctx context.Context, userID int64, resource string) (bool, error)

	// HasAnyRole reports whether the user holds at least one of roleKeys
	HasAnyRole(ctx context.Context, userID int64, roleKeys ...string) (bool, error)
}

// CapabilitySource loads assignment state for the checker
type CapabilitySource interface {
	UserRoleKeys(ctx context.Context, userID int64) ([]string, error)
	PermissionsForRoles(ctx context.Context, roleKeys []string) ([]Permission, error)
}

// Capabilities is a user's resolved roles and permissions at one point in time
type Capabilities struct {
	UserID    int64
	roleKeys  map[string]struct{}
	resources map[string]struct{}
}

// NewCapabilities builds a capability set from role keys and the permissions
// reachable from them
func NewCapabilities(userID int64, roleKeys []string, perms []Permission) *Capabilities {
	c := &Capabilities{
		UserID:    userID,
		roleKeys:  make(map[string]struct{}, len(roleKeys)),
		resources: make(map[string]struct{}, len(perms)*2),
	}
	for _, k := range roleKeys {
		c.roleKeys[k] = struct{}{}
	}
	for _, p := range perms {
		if p.Key != "" {
			c.resources[p.Key] = struct{}{}
		}
		if p.RelatedResource != nil && *p.RelatedResource != "" {
			c.resources[*p.RelatedResource] = struct{}{}
		}
	}
	return c
}

// Allows reports whether resource is in the capability set
func (c *Capabilities) Allows(resource string) bool {
	_, ok := c.resources[resource]
	return ok
}

// HasAnyRole reports whether any of roleKeys is assigned
func (c *Capabilities) HasAnyRole(roleKeys ...string) bool {
	for _, k := range roleKeys {
		if _, ok := c.roleKeys[k]; ok {
			return true
		}
	}
	return false
}

// capabilityMemo caches capability sets for the lifetime of one request
type capabilityMemo struct {
	mu     sync.Mutex
	byUser map[int64]*Capabilities
}

// WithCapabilityMemo installs a per-request capability memo. Checks made with
// the returned context load each user's capabilities at most once. The memo
// dies with the context; nothing is shared across requests.
func WithCapabilityMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(contextkeys.CapabilitiesKey).(*capabilityMemo); ok {
		return ctx
	}
	return context.WithValue(ctx, contextkeys.CapabilitiesKey, &capabilityMemo{byUser: make(map[int64]*Capabilities)})
}

func memoFrom(ctx context.Context) *capabilityMemo {
	memo, _ := ctx.Value(contextkeys.CapabilitiesKey).(*capabilityMemo)
	return memo
}

// PermissionChecker implements Checker by reading assignment state on every
// request
type PermissionChecker struct {
	source  CapabilitySource
	metrics *observability.Metrics
}

// NewPermissionChecker creates a new permission checker. metrics may be nil.
func NewPermissionChecker(source CapabilitySource, metrics *observability.Metrics) *PermissionChecker {
	return &PermissionChecker{
		source:  source,
		metrics: metrics,
	}
}

// Capabilities resolves userID's roles, then the permissions of those roles.
// Results are memoized when ctx carries a capability memo.
func (pc *PermissionChecker) Capabilities(ctx context.Context, userID int64) (*Capabilities, error) {
	memo := memoFrom(ctx)
	if memo != nil {
		memo.mu.Lock()
		defer memo.mu.Unlock()
		if caps, ok := memo.byUser[userID]; ok {
			return caps, nil
		}
	}

	ctx, span := observability.Tracer().Start(ctx, "rbac.LoadCapabilities")
	defer span.End()
	span.SetAttributes(attribute.Int64("rbac.user_id", userID))

	roleKeys, err := pc.source.UserRoleKeys(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	perms, err := pc.source.PermissionsForRoles(ctx, roleKeys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	caps := NewCapabilities(userID, roleKeys, perms)
	pc.metrics.ObserveCapabilityLoad()
	span.SetAttributes(
		attribute.Int("rbac.roles", len(roleKeys)),
		attribute.Int("rbac.permissions", len(perms)),
	)

	if memo != nil {
		memo.byUser[userID] = caps
	}
	return caps, nil
}

// CanManage implements Checker. A user with no roles is denied everything.
func (pc *PermissionChecker) CanManage(ctx context.Context, userID int64, resource string) (bool, error) {
	start := time.Now()

	caps, err := pc.Capabilities(ctx, userID)
	if err != nil {
		return false, err
	}

	allowed := caps.Allows(resource)
	pc.metrics.ObserveAuthz(resource, allowed, time.Since(start))
	return allowed, nil
}

// HasAnyRole implements Checker
func (pc *PermissionChecker) HasAnyRole(ctx context.Context, userID int64, roleKeys ...string) (bool, error) {
	caps, err := pc.Capabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	return caps.HasAnyRole(roleKeys...), nil
}
