package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newLocalAuth(t *testing.T, audience, issuer string) *Auth {
	t.Helper()
	auth, err := NewAuth(nil, AuthConfig{Audience: audience, Issuer: issuer, LocalMode: "hs256", LocalSecret: testSecret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	return auth
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	auth := newLocalAuth(t, "api://aud", "https://issuer/")
	token := signHS256(t, testSecret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejects(t *testing.T) {
	auth := newLocalAuth(t, "api://aud", "")
	valid := jwt.MapClaims{"sub": "u", "aud": "api://aud", "exp": time.Now().Add(time.Minute).Unix()}
	with := func(key string, value any) jwt.MapClaims {
		c := jwt.MapClaims{}
		for k, v := range valid {
			c[k] = v
		}
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "no bearer prefix", header: signHS256(t, testSecret, valid)},
		{name: "not a jwt", header: "Bearer abc"},
		{name: "wrong secret", header: "Bearer " + signHS256(t, "other", valid)},
		{name: "expired", header: "Bearer " + signHS256(t, testSecret, with("exp", time.Now().Add(-time.Hour).Unix()))},
		{name: "no expiry", header: "Bearer " + signHS256(t, testSecret, with("exp", nil))},
		{name: "wrong audience", header: "Bearer " + signHS256(t, testSecret, with("aud", "api://other"))},
		{name: "missing sub", header: "Bearer " + signHS256(t, testSecret, with("sub", nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if user, err := auth.UserIDFromAuthHeader(tt.header); err == nil {
				t.Fatalf("expected error, got user %q", user)
			}
		})
	}
}

func TestUserIDFromBearerRejectsUnsignedToken(t *testing.T) {
	auth := newLocalAuth(t, "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Minute).Unix()})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.UserIDFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected unsigned token to be rejected")
	}
}

func TestNewAuthConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  AuthConfig
	}{
		{name: "no jwks", cfg: AuthConfig{}},
		{name: "no secret", cfg: AuthConfig{LocalMode: "hs256"}},
		{name: "unknown mode", cfg: AuthConfig{LocalMode: "rs512", LocalSecret: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAuth(nil, tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBearerTokenFromString(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: "Bearer h.p.s", want: "h.p.s"},
		{name: "padded", raw: "  Bearer  h.p.s ", want: "h.p.s"},
		{name: "lower case scheme", raw: "bearer h.p.s", want: "h.p.s"},
		{name: "blank", raw: "   ", wantErr: errMissingAuthorization},
		{name: "basic scheme", raw: "Basic dXNlcg==", wantErr: errBadAuthorization},
		{name: "prefix only", raw: "Bearer ", wantErr: errBadAuthorization},
		{name: "many periods", raw: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerTokenFromString(tt.raw)
			if err != tt.wantErr {
				t.Fatalf("bearerTokenFromString(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Fatalf("bearerTokenFromString(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
