package validation

import (
	"encoding/base64"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// DeviceIDRegex allows UUIDs and simple slug style ids.
	DeviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// ValidateDeviceID validates a device id
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("device ID is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("device ID is too long (max 128 characters)")
	}
	if !DeviceIDRegex.MatchString(id) {
		return fmt.Errorf("invalid device ID format")
	}
	return nil
}

// ValidateDeviceName validates the human readable device name
func ValidateDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("device name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("device name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > 63 {
		// DNS-SD instance labels are limited to 63 octets
		return fmt.Errorf("device name is too long (max 63 characters)")
	}
	return nil
}

// ValidateDeviceType validates device type
func ValidateDeviceType(t string) error {
	if t != "parent" && t != "child" {
		return fmt.Errorf(`device_type must be either "parent" or "child"`)
	}
	return nil
}

// ValidateAudioPayload checks that the payload is non-empty standard base64
// holding whole 16-bit samples.
func ValidateAudioPayload(data string, maxBytes int) error {
	if data == "" {
		return fmt.Errorf("audio_data must not be empty")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("audio_data is not valid base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return fmt.Errorf("audio_data must contain whole 16-bit samples")
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return fmt.Errorf("audio_data is too large (max %d bytes)", maxBytes)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateUnitInterval validates that v lies within [0,1]
func ValidateUnitInterval(v float64, fieldName string) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", fieldName, v)
	}
	return nil
}
