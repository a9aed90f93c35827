package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

// CookieName is the session cookie checked when no bearer token is sent.
const CookieName = "sb-access-token"

// ErrUnauthenticated - 토큰이 없거나 유효하지 않음
var ErrUnauthenticated = errors.New("unauthenticated")

type ctxKey struct{}

// Verifier resolves an access token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) { return f(ctx, token) }

// SupabaseVerifier - Supabase Auth 로 토큰 검증
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(cfg *config.Config) (*SupabaseVerifier, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseVerifier{client: client}, nil
}

func (v *SupabaseVerifier) Verify(_ context.Context, token string) (string, error) {
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return user.ID.String(), nil
}

// TokenFromRequest reads "Authorization: Bearer", then the session cookie,
// then the ?token= query parameter (websocket clients cannot set headers).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// RequireAuth - 인증된 사용자만 통과, 아니면 401
func RequireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
				return
			}
			userID, err := v.Verify(r.Context(), token)
			if err != nil || userID == "" {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("🔒 [Auth] Rejected request")
				utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID stores the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user id or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
