package validation

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "3f1c2a8e-7d4b-4c1a-9e0f-1234567890ab", false},
		{"slug", "child_1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"spaces", "child 1", true},
		{"slash", "child/1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "NurseryA", false},
		{"with spaces", "Kinderzimmer Oben", false},
		{"blank", "   ", true},
		{"too long", strings.Repeat("n", 64), true},
		{"invalid utf8", "\xff\xfe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceType(t *testing.T) {
	for _, ok := range []string{"parent", "child"} {
		if err := ValidateDeviceType(ok); err != nil {
			t.Errorf("ValidateDeviceType(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "Parent", "baby"} {
		if err := ValidateDeviceType(bad); err == nil {
			t.Errorf("ValidateDeviceType(%q) expected error", bad)
		}
	}
}

func TestValidateAudioPayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		max     int
		wantErr bool
	}{
		{"two samples", base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0}), 0, false},
		{"empty", "", 0, true},
		{"not base64", "%%%", 0, true},
		{"odd byte count", base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), 0, true},
		{"too large", base64.StdEncoding.EncodeToString(make([]byte, 8)), 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAudioPayload(tt.data, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAudioPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("http://relay.local:8080"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateURL("ftp://relay.local"); err == nil {
		t.Error("expected scheme error")
	}
	if err := ValidateURL("http://"); err == nil {
		t.Error("expected host error")
	}
}

func TestValidateUnitInterval(t *testing.T) {
	if err := ValidateUnitInterval(0.5, "sensitivity"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateUnitInterval(1.01, "volume"); err == nil {
		t.Error("expected error above 1")
	}
}
