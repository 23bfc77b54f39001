package middleware

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestContextHelpersReportPresence(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context must not report a user id")
	}
	if _, ok := EmailFromContext(context.Background()); ok {
		t.Fatal("empty context must not report an email")
	}

	userID := uuid.New()
	ctx := WithEmail(WithUserID(context.Background(), userID.String()), "user@example.com")

	got, ok := UserIDFromContext(ctx)
	if !ok || got != userID.String() {
		t.Fatalf("expected user id %s, got %q ok=%v", userID, got, ok)
	}
	email, ok := EmailFromContext(ctx)
	if !ok || email != "user@example.com" {
		t.Fatalf("expected email, got %q ok=%v", email, ok)
	}

	parsed, ok := UserUUIDFromContext(ctx)
	if !ok || parsed != userID {
		t.Fatalf("expected parsed uuid %s, got %s ok=%v", userID, parsed, ok)
	}
	if _, ok := UserUUIDFromContext(WithUserID(context.Background(), "not-a-uuid")); ok {
		t.Fatal("malformed user ids must not parse")
	}
}
