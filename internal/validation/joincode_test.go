package validation

import "testing"

func TestIsValidJoinCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "valid code",
			code:  "12345674",
			valid: true,
		},
		{
			name:  "valid all zeros",
			code:  "00000000",
			valid: true,
		},
		{
			name:  "invalid check digit",
			code:  "12345670",
			valid: false,
		},
		{
			name:  "luhn-valid but wrong length",
			code:  "79927398713",
			valid: false,
		},
		{
			name:  "too short",
			code:  "1234567",
			valid: false,
		},
		{
			name:  "contains letters",
			code:  "1234a674",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidJoinCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidJoinCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}
