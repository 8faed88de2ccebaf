package handlers

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"battletrails/events"
	"battletrails/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	f := newFixture()
	id := f.users.add(models.User{Email: "ana@example.com", Name: "Ana", AuthProvider: models.ProviderEmail})

	w := serve(http.MethodPost, "/r", f.h.RequestPasswordReset, primitive.NilObjectID, "/r", PasswordResetRequest{Email: "ana@example.com"})
	expectStatus(t, w, http.StatusOK)

	if len(f.events.events) != 1 {
		t.Fatalf("published %v, want one reset event", f.events.subjects())
	}
	ev := f.events.events[0]
	if ev.subject != events.SubjectPasswordReset {
		t.Fatalf("subject = %s", ev.subject)
	}
	reset := ev.v.(events.PasswordReset)
	if reset.Email != "ana@example.com" || reset.ExpiresAt != f.now.Add(time.Hour).Unix() {
		t.Errorf("event = %+v", reset)
	}

	link, err := url.Parse(reset.ResetURL)
	if err != nil {
		t.Fatal(err)
	}
	token := link.Query().Get("token")
	if token == "" || link.Host != "battletrails.app" {
		t.Fatalf("reset url = %s", reset.ResetURL)
	}

	stored, _ := f.users.GetUser(t.Context(), id)
	if stored.ResetTokenHash != hashResetToken(token) {
		t.Error("stored hash does not match the emailed token")
	}

	w = serve(http.MethodPost, "/c", f.h.ConfirmPasswordReset, primitive.NilObjectID, "/c", PasswordResetConfirmRequest{Token: token, Password: "newpass"})
	expectStatus(t, w, http.StatusOK)

	stored, _ = f.users.GetUser(t.Context(), id)
	if stored.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte("newpass")) != nil {
		t.Error("password was not replaced")
	}

	// tokens are single use
	w = serve(http.MethodPost, "/c", f.h.ConfirmPasswordReset, primitive.NilObjectID, "/c", PasswordResetConfirmRequest{Token: token, Password: "another"})
	expectStatus(t, w, http.StatusBadRequest)
	var body errorBody
	decode(t, w, &body)
	if body.Code != CodeExpiredActionCode {
		t.Errorf("code = %s", body.Code)
	}
}

func TestPasswordResetDoesNotLeakAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.users.add(models.User{Email: "google@example.com", AuthProvider: models.ProviderGoogle})

	for _, email := range []string{"nobody@example.com", "google@example.com"} {
		w := serve(http.MethodPost, "/r", f.h.RequestPasswordReset, primitive.NilObjectID, "/r", PasswordResetRequest{Email: email})
		expectStatus(t, w, http.StatusOK)
	}
	if got := f.events.subjects(); len(got) != 0 {
		t.Errorf("published %v", got)
	}
}

func TestPasswordResetExpired(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.users.add(models.User{
		Email:          "ana@example.com",
		AuthProvider:   models.ProviderEmail,
		ResetTokenHash: hashResetToken("tok"),
		ResetExpires:   f.now.Add(-time.Minute).Unix(),
	})

	w := serve(http.MethodPost, "/c", f.h.ConfirmPasswordReset, primitive.NilObjectID, "/c", PasswordResetConfirmRequest{Token: "tok", Password: "newpass"})
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(http.MethodPost, "/c", f.h.ConfirmPasswordReset, primitive.NilObjectID, "/c", PasswordResetConfirmRequest{Token: "tok", Password: "123"})
	var body errorBody
	decode(t, w, &body)
	if body.Code != CodeWeakPassword {
		t.Errorf("code = %s, want weak password", body.Code)
	}
}

func TestResetLink(t *testing.T) {
	t.Parallel()

	h := &Handler{ResetURL: "https://battletrails.app/reset?lang=es"}
	if got, want := h.resetLink("abc"), "https://battletrails.app/reset?lang=es&token=abc"; got != want {
		t.Errorf("resetLink = %q, want %q", got, want)
	}
}
