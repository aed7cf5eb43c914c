package authpw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"sitedesk/api/internal/store"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	created      []store.User
	resets       map[string]string // token -> userID
	resetsUsed   map[string]bool
	verified     []string
	passwords    map[string]string // userID -> hash
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		resets:       map[string]string{},
		resetsUsed:   map[string]bool{},
		passwords:    map[string]string{},
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	user, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	for _, u := range f.usersByEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.created = append(f.created, user)
	f.usersByEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for email, u := range f.usersByEmail {
		if u.VerificationToken == token {
			u.IsEmailVerified = true
			f.usersByEmail[email] = u
			f.verified = append(f.verified, u.ID)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.passwords[userID] = passwordHash
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok || f.resetsUsed[token] {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.resetsUsed[token] = true
	return nil
}

func seedUser(f *fakeUserStore, email, password string, verified bool) store.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := store.User{
		ID:              "usr_" + email,
		DisplayName:     "Seeded User",
		Email:           email,
		PasswordHash:    string(hash),
		Role:            "member",
		IsEmailVerified: verified,
	}
	f.usersByEmail[email] = user
	return user
}

func TestSignUpCreatesUnverifiedUser(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "Foreman@Site.dev",
		Password:    "solid-password",
		DisplayName: "Site Foreman",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if !resp.RequiresEmailVerify {
		t.Error("expected RequiresEmailVerify")
	}
	if resp.VerificationToken == "" {
		t.Error("expected a verification token")
	}
	if len(fs.created) != 1 {
		t.Fatalf("created %d users, want 1", len(fs.created))
	}
	if got := fs.created[0].Email; got != "foreman@site.dev" {
		t.Errorf("email = %q, want lowercased", got)
	}
	if fs.created[0].PasswordHash == "solid-password" {
		t.Error("password stored in the clear")
	}
}

func TestSignUpValidation(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	cases := []struct {
		name string
		req  SignUpRequest
	}{
		{name: "missing email", req: SignUpRequest{Password: "solid-password", DisplayName: "X"}},
		{name: "missing password", req: SignUpRequest{Email: "a@b.c", DisplayName: "X"}},
		{name: "short password", req: SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "X"}},
		{name: "missing name", req: SignUpRequest{Email: "a@b.c", Password: "solid-password"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(context.Background(), tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	seedUser(fs, "taken@site.dev", "solid-password", true)
	svc := NewService(fs)

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "taken@site.dev",
		Password:    "solid-password",
		DisplayName: "Dup",
	}); err == nil {
		t.Error("expected duplicate email to fail")
	}
}

func TestSignInSuccess(t *testing.T) {
	fs := newFakeUserStore()
	user := seedUser(fs, "pm@site.dev", "solid-password", true)
	svc := NewService(fs)

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "pm@site.dev", Password: "solid-password"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.RequiresVerify {
		t.Error("verified user should not require verification")
	}
	if resp.User.ID != user.ID {
		t.Errorf("user = %q, want %q", resp.User.ID, user.ID)
	}
}

func TestSignInWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	fs := newFakeUserStore()
	seedUser(fs, "pm@site.dev", "solid-password", true)
	svc := NewService(fs)

	_, errWrong := svc.SignIn(context.Background(), SignInRequest{Email: "pm@site.dev", Password: "nope-nope"})
	_, errUnknown := svc.SignIn(context.Background(), SignInRequest{Email: "ghost@site.dev", Password: "nope-nope"})
	if errWrong == nil || errUnknown == nil {
		t.Fatal("expected both sign-ins to fail")
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Errorf("error messages differ (%q vs %q); account probing possible", errWrong, errUnknown)
	}
}

func TestSignInUnverifiedUser(t *testing.T) {
	fs := newFakeUserStore()
	seedUser(fs, "new@site.dev", "solid-password", false)
	svc := NewService(fs)

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "new@site.dev", Password: "solid-password"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !resp.RequiresVerify {
		t.Error("unverified user must require verification")
	}
}

func TestVerifyEmail(t *testing.T) {
	fs := newFakeUserStore()
	user := seedUser(fs, "new@site.dev", "solid-password", false)
	user.VerificationToken = "tok-123"
	fs.usersByEmail[user.Email] = user
	svc := NewService(fs)

	if err := svc.VerifyEmail(context.Background(), "tok-123"); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), "bogus"); err == nil {
		t.Error("expected invalid token to fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeUserStore()
	user := seedUser(fs, "pm@site.dev", "old-password", true)
	svc := NewService(fs)

	token, err := svc.RequestPasswordReset(context.Background(), "pm@site.dev")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	hash, ok := fs.passwords[user.ID]
	if !ok {
		t.Fatal("password not updated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("brand-new-pass")); err != nil {
		t.Errorf("stored hash does not match new password: %v", err)
	}
	if !fs.resetsUsed[token] {
		t.Error("reset token not marked used")
	}
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	token, err := svc.RequestPasswordReset(context.Background(), "ghost@site.dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Error("unknown email must not produce a token")
	}
}
