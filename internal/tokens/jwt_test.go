package tokens_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vigil/internal/tokens"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	signed, issued, err := mgr.IssueServiceToken("doorbell-bridge", []string{tokens.ScopeTriggers}, time.Hour)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "doorbell-bridge", claims.Service)
	assert.Equal(t, issued.ID, claims.ID)
	assert.True(t, claims.HasScope(tokens.ScopeTriggers))
	assert.False(t, claims.HasScope(tokens.ScopeEvents))
}

func TestWildcardScope(t *testing.T) {
	c := &tokens.Claims{Scopes: []string{tokens.ScopeAll}}
	assert.True(t, c.HasScope(tokens.ScopeEvents))
}

func TestInvalidSignature(t *testing.T) {
	signed, _, err := tokens.NewManager("secret-1").IssueServiceToken("svc", nil, time.Hour)
	require.NoError(t, err)

	_, err = tokens.NewManager("secret-2").ValidateToken(signed)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	claims := tokens.Claims{
		Service: "svc",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ts-vigil",
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	mgr := tokens.NewManager("secret")
	_, err = mgr.ValidateToken(signed)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = mgr.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestRedisRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rev := tokens.NewRedisRevocations(rdb)
	ctx := context.Background()

	revoked, err := rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, rev.Revoke(ctx, "jti-1", time.Minute))
	revoked, err = rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
