package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/auctionroom/internal/store/memstore"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newService(clock clockwork.Clock) (*AuthService, *memstore.Store) {
	st := memstore.New()
	return NewAuthService(st, testSecret, time.Hour, clock), st
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		password  string
		expectErr error
	}{
		{"Success", "alice", "password123", nil},
		{"EmptyUsername", "", "password123", ErrInvalidInput},
		{"EmptyPassword", "bob", "", ErrInvalidInput},
		{"DuplicateUsername", "alice", "newpass", ErrUsernameTaken},
		{"LongUsername", strings.Repeat("a", 1000), "password123", ErrInvalidInput},
		{"LongPassword", "carol", strings.Repeat("p", 73), ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, st := newService(nil)

			// For duplicate test, ensure the user exists first
			if tt.name == "DuplicateUsername" {
				_, err := s.Register(ctx, "alice", "password123")
				require.NoError(t, err)
			}

			user, err := s.Register(ctx, tt.username, tt.password)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)

			stored, err := st.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s, _ := newService(nil)
	_, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{"Success", "alice", "password123", false},
		{"WrongPassword", "alice", "wrongpass", true},
		{"NonExistentUser", "bob", "password123", true},
		{"LongPassword", "alice", strings.Repeat("p", 1000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)

			parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
				return []byte(testSecret), nil
			})
			require.NoError(t, err)
			claims, ok := parsed.Claims.(jwt.MapClaims)
			assert.True(t, ok)
			assert.Equal(t, "alice", claims["username"])
		})
	}
}

func TestAuthService_GetUserFromToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	s, _ := newService(clock)
	_, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)
	token, err := s.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims, key string) string {
		str, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return str
	}
	exp := clock.Now().Add(time.Hour).Unix()
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": 1, "exp": exp}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name         string
		token        string
		expectUserID int
		expectError  bool
	}{
		{"Success", token, 1, false},
		{"ExpiredToken", sign(jwt.MapClaims{"user_id": 1, "exp": clock.Now().Add(-time.Minute).Unix()}, testSecret), 0, true},
		{"InvalidSignature", sign(jwt.MapClaims{"user_id": 1, "exp": exp}, "wrong-key"), 0, true},
		{"MissingExpiry", sign(jwt.MapClaims{"user_id": 1}, testSecret), 0, true},
		{"MissingUserID", sign(jwt.MapClaims{"exp": exp}, testSecret), 0, true},
		{"NoneAlgorithm", none, 0, true},
		{"EmptyToken", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := s.GetUserFromToken(tt.token)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectUserID, userID)
		})
	}

	// the issued token expires with the configured ttl
	clock.Advance(61 * time.Minute)
	_, err = s.GetUserFromToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
