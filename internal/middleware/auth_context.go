package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the authenticated service behind a request.
type Caller struct {
	Service string
	TokenID string
	Scopes  []string
}

func GetCaller(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey).(*Caller)
	return c, ok
}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
