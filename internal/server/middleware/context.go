package middleware

import "context"

type contextKey struct{ name string }

var (
	ownerIDKey  = contextKey{"owner_id"}
	deviceIDKey = contextKey{"device_id"}
	clientIPKey = contextKey{"client_ip"}
)

// WithIdentity returns a context with the verified owner_id and device_id set.
// Handlers read them via OwnerID and DeviceID; services receive the owner explicitly.
func WithIdentity(ctx context.Context, ownerID, deviceID string) context.Context {
	ctx = context.WithValue(ctx, ownerIDKey, ownerID)
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	return ctx
}

// OwnerID returns the owner_id from context and true if set; otherwise "", false.
func OwnerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ownerIDKey).(string)
	return v, ok
}

// DeviceID returns the device_id from context and true if set; otherwise "", false.
func DeviceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(deviceIDKey).(string)
	return v, ok
}

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP stored by the ClientIP middleware, or "".
// It matches audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}
