package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lucciole/backend/internal/domain"
)

type stubUserStore struct {
	users     []domain.UserAccount
	passwords map[string]string
}

func (s *stubUserStore) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.users = append(s.users, user)
	return nil
}

func (s *stubUserStore) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return s.users, nil
}

func (s *stubUserStore) UpdateUserPassword(_ context.Context, username string, password string) error {
	if s.passwords == nil {
		s.passwords = make(map[string]string)
	}
	s.passwords[username] = password
	return nil
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	store := &stubUserStore{users: []domain.UserAccount{
		{Username: "direzione", Password: mustHash(t, "segreto"), Role: domain.RoleSeniorManager, Active: true},
	}}
	auth := NewAuthManager("test-secret-key", time.Hour, store)

	resp, err := auth.Login(domain.LoginRequest{Username: "Direzione", Password: "segreto"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Role != domain.RoleSeniorManager {
		t.Fatalf("expected senior manager role, got %q", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.Username != "direzione" || actor.Role != domain.RoleSeniorManager {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := &stubUserStore{users: []domain.UserAccount{
		{Username: "bar", Password: mustHash(t, "pw"), Role: domain.RoleBar, Active: false},
	}}
	auth := NewAuthManager("test-secret-key", time.Hour, store)

	if _, err := auth.Login(domain.LoginRequest{Username: "bar", Password: "pw"}); err == nil {
		t.Fatalf("inactive account must not log in")
	}
}

func TestParseTokenRejectsTamperedToken(t *testing.T) {
	store := &stubUserStore{users: []domain.UserAccount{
		{Username: "manager", Password: mustHash(t, "pw"), Role: domain.RoleManager, Active: true},
	}}
	auth := NewAuthManager("test-secret-key", time.Hour, store)

	resp, err := auth.Login(domain.LoginRequest{Username: "manager", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatalf("tampered token must be rejected")
	}

	other := NewAuthManager("a-completely-different-secret", time.Hour, store)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
}

func TestBootstrapUpgradesPlaintextPasswords(t *testing.T) {
	store := &stubUserStore{users: []domain.UserAccount{
		{Username: "cucina", Password: "plaintext-legacy", Role: domain.RoleKitchen, Active: true},
	}}
	auth := NewAuthManager("test-secret-key", time.Hour, store)

	if _, err := auth.Login(domain.LoginRequest{Username: "cucina", Password: "plaintext-legacy"}); err != nil {
		t.Fatalf("legacy plaintext login: %v", err)
	}
	upgraded, ok := store.passwords["cucina"]
	if !ok {
		t.Fatalf("expected password upgrade to be written back")
	}
	if !strings.HasPrefix(upgraded, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", upgraded)
	}
}
