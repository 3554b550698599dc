package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Message(t *testing.T) {
	e := Wrap(Persistence, "records.CreateVisit", "store operation failed", fmt.Errorf("conn reset"))
	want := "records.CreateVisit: store operation failed: conn reset"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	plain := New(Validation, "", "name is required")
	if plain.Error() != "name is required" {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestError_IsSentinelAfterRewrap(t *testing.T) {
	err := &Error{Kind: ErrRoleMissing.Kind, Op: "identity.GrantRole", Message: ErrRoleMissing.Message}
	wrapped := fmt.Errorf("create patient: %w", err)
	if !errors.Is(wrapped, ErrRoleMissing) {
		t.Error("expected errors.Is to match ErrRoleMissing")
	}
	if errors.Is(wrapped, ErrRoleNotFound) {
		t.Error("did not expect match with ErrRoleNotFound")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validationf("op", "%s is required", "phone"), Validation},
		{"wrapped auth", fmt.Errorf("login: %w", ErrInvalidCredentials), Auth},
		{"plain error", errors.New("boom"), Persistence},
		{"not found", ErrNotOwner, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPersist_KeepsClassifiedKind(t *testing.T) {
	if err := Persist("op", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if got := Persist("op", ErrNotOwner); !IsNotFound(got) {
		t.Errorf("expected NotFound to survive, got %v", got)
	}
	got := Persist("records.UpdatePatient", errors.New("timeout"))
	if KindOf(got) != Persistence {
		t.Errorf("expected Persistence, got %s", KindOf(got))
	}
}
