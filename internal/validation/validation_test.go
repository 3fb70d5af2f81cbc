package validation

import (
	"testing"
)

func TestIsValidPrincipal(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"agent-1", true},
		{"owner.service_7", true},
		{"a", true},
		{"treasury", true},

		// Invalid cases
		{"Agent-1", false},    // uppercase
		{"-agent", false},     // leading separator
		{"agent-", false},     // trailing separator
		{"agent 1", false},    // space
		{"agent/1", false},    // slash
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidPrincipal(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidPrincipal(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizePrincipal(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"agent-1", "agent-1"},
		{"Agent-1", "agent-1"},
		{"  agent-1  ", "agent-1"},
	}

	for _, tc := range tests {
		result := SanitizePrincipal(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizePrincipal(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "John"),
		ValidPrincipal("principal", "agent-1"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidPrincipal("principal", "Not Valid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},
		{"0.000001", true},

		// Invalid
		{".50", false},
		{"1.", false},
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
