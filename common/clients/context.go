package clients

import "context"

// contextKey is unexported so other packages cannot collide with our
// keys.
type contextKey string

const userIDKey contextKey = "user-id"

// WithUserID stamps the caller identity onto the context. HTTPClient
// turns it into the X-User-ID header on every outgoing request, so
// identity survives service-to-service hops.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the caller identity from context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
