package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/salah-ledger/salah/internal/domain"
)

// ─── Bearer Auth ────────────────────────────────────────────────────────────
// Tokens are HS256 JWTs. The subject is the user id, and a user may only
// touch documents under users/{sub}.

type ctxKey string

const subjectKey ctxKey = "salah-subject"

// Authenticator issues and verifies bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns an authenticator for the shared secret.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// IssueToken signs a token for userID valid for ttl.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", domain.ErrNotSignedIn)
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token: %v", domain.ErrNotSignedIn, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrNotSignedIn)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return "", fmt.Errorf("%w: wrong issuer %q", domain.ErrNotSignedIn, claims.Issuer)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sub, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, sub)))
	})
}

// SubjectFrom returns the authenticated user id, if any.
func SubjectFrom(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey).(string)
	return sub, ok && sub != ""
}

// OwnerOf returns the user owning a document, or "" for documents outside
// the users tree.
func OwnerOf(collection, id string) string {
	if collection == domain.UsersCollection {
		return id
	}
	rest, ok := strings.CutPrefix(collection, domain.UsersCollection+"/")
	if !ok {
		return ""
	}
	owner, _, _ := strings.Cut(rest, "/")
	return owner
}

var errForeignDocument = errors.New("document belongs to another user")

// authorize checks the request subject against a document's owner. Requests
// on an unauthenticated server pass.
func authorize(ctx context.Context, collection, id string) error {
	sub, ok := SubjectFrom(ctx)
	if !ok {
		return nil
	}
	if owner := OwnerOf(collection, id); owner == "" || owner != sub {
		return fmt.Errorf("%w: %s/%s: %v", domain.ErrPermissionDenied, collection, id, errForeignDocument)
	}
	return nil
}
