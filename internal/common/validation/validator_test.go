package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidator_RequireString(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid string", "hello", false},
		{"empty string", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequireString(tt.value, "name")

			if v.HasErrors() != tt.wantErr {
				t.Errorf("RequireString() hasError = %v, wantErr %v", v.HasErrors(), tt.wantErr)
			}
		})
	}
}

func TestValidator_RequireHTTPURL(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"https", "https://example.com/oauth/token", false},
		{"http with port", "http://127.0.0.1:8080/token", false},
		{"empty", "", true},
		{"relative", "/oauth/token", true},
		{"other scheme", "ftp://example.com/token", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequireHTTPURL(tt.value, "IDENTITY_ENDPOINT")

			if v.HasErrors() != tt.wantErr {
				t.Errorf("RequireHTTPURL(%q) hasError = %v, wantErr %v", tt.value, v.HasErrors(), tt.wantErr)
			}
		})
	}
}

func TestValidator_Durations(t *testing.T) {
	v := NewValidator()
	v.RequirePositiveDuration(time.Second, "A")
	v.RequireNonNegativeDuration(0, "B")
	if v.HasErrors() {
		t.Fatalf("unexpected errors: %v", v.Errors())
	}

	v.RequirePositiveDuration(0, "POLL_INTERVAL")
	v.RequireNonNegativeDuration(-time.Second, "MARGIN")
	if len(v.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %v", v.Errors())
	}
	if got := v.Errors()[0].Error(); got != "POLL_INTERVAL must be positive" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestValidator_RequireOneOf(t *testing.T) {
	allowed := []string{"memory", "sqlite"}

	v := NewValidator().RequireOneOf("sqlite", allowed, "STORE_TYPE")
	if v.HasErrors() {
		t.Errorf("unexpected error: %v", v.Error())
	}

	v = NewValidator().RequireOneOf("keychain", allowed, "STORE_TYPE")
	if err := v.Error(); err == nil || !strings.Contains(err.Error(), "memory, sqlite") {
		t.Errorf("expected allowed values in error, got %v", err)
	}
}

func TestValidator_RangeAndPositive(t *testing.T) {
	v := NewValidator()
	v.RequireRange(15, 0, 15, "REDIS_DB")
	v.RequirePositive(1, "REDIS_POOL_SIZE")
	if v.HasErrors() {
		t.Fatalf("unexpected errors: %v", v.Errors())
	}

	v.RequireRange(16, 0, 15, "REDIS_DB")
	v.RequirePositive(0, "REDIS_POOL_SIZE")
	if len(v.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %v", v.Errors())
	}
}

func TestValidator_ValidateIf(t *testing.T) {
	v := NewValidator()
	v.ValidateIf(false, func(v *Validator) { v.AddError("skipped") })
	if v.HasErrors() {
		t.Fatal("ValidateIf(false) ran the validation")
	}

	v.ValidateIf(true, func(v *Validator) { v.AddError("ran") })
	if err := v.Error(); err == nil || err.Error() != "ran" {
		t.Errorf("ValidateIf(true) error = %v", err)
	}
}

func TestValidator_ErrorCombines(t *testing.T) {
	v := NewValidator()
	if v.Error() != nil {
		t.Fatal("empty validator returned an error")
	}

	v.RequireString("", "A")
	v.RequireString("", "B")

	err := v.Error()
	if err == nil {
		t.Fatal("expected an error")
	}
	want := "validation failed: A is required; B is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
