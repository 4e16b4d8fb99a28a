// Package auth provides user identity and bearer token management.
//
// # Overview
//
// Users register with a username and password. Passwords are stored as
// bcrypt hashes. Logging in issues an opaque bearer token:
//
//	rd_<base64url(32 random bytes)>
//
// Only the SHA256 hash of a token is persisted, either in the access_tokens
// table (SQLTokenStore) or in Redis with the expiry as the key TTL
// (RedisTokenStore). Login tokens carry the "*" ability and expire after
// Config.TokenTTL.
//
// # Usage
//
//	svc, err := auth.NewService(auth.NewUserStore(db), auth.NewSQLTokenStore(db), cfg, metrics)
//	result, err := svc.Login(ctx, "frontdesk", "password")
//	authCtx, err := svc.Authenticate(ctx, result.PlainToken)
//	err = svc.Logout(ctx, authCtx) // revokes only this token
//
// Every authentication failure is reported as "Unauthenticated." and every
// login failure as "Login info is wrong!", so callers cannot tell which part
// of the credentials was wrong.
//
// The Sweeper deletes expired tokens from SQL stores on a cron schedule.
//
// Role assignment and capability checks live in the rbac package.
package auth
