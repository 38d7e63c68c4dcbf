package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

var (
	tenantRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	patientRe = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)
)

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantRe.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidatePatientID validates an external patient reference.
func ValidatePatientID(id string) error {
	if id == "" {
		return fmt.Errorf("patient_id cannot be empty")
	}
	if !patientRe.MatchString(id) {
		return fmt.Errorf("invalid patient_id format")
	}
	return nil
}

// ValidateAnalysisID: analysis IDs are UUIDs.
func ValidateAnalysisID(id string) error {
	if id == "" {
		return fmt.Errorf("analysis ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid analysis ID format")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidatePage clamps a 1-based page number.
func ValidatePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// SanitizeVariables cleans template values coming from the client.
// Newlines are kept; clinical notes are multi-line.
func SanitizeVariables(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = SanitizeString(k)
		if k == "" {
			continue
		}
		out[k] = SanitizeString(v)
	}
	return out
}
