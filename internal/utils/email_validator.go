package utils

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/lindell/go-burner-email-providers/burner"
)

// EmailValidationError represents an error during email validation
type EmailValidationError struct {
	Message string
	Code    string
}

func (e EmailValidationError) Error() string {
	return e.Message
}

// ValidateEmailAddress validates the format of an email address and rejects
// disposable providers.
func ValidateEmailAddress(email string) error {
	return ValidateEmailAddressWithConfig(email, nil)
}

// EmailValidationConfig holds configuration for email validation
type EmailValidationConfig struct {
	BlockDisposableEmails bool
	// AllowedDomains restricts registration to the listed company domains
	// when non-empty.
	AllowedDomains []string
}

// ValidateEmailAddressWithConfig validates an email address with configuration options
func ValidateEmailAddressWithConfig(email string, cfg *EmailValidationConfig) error {
	if cfg == nil {
		cfg = &EmailValidationConfig{BlockDisposableEmails: true}
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return &EmailValidationError{
			Message: "Invalid email format",
			Code:    "INVALID_FORMAT",
		}
	}

	domain, err := extractDomain(email)
	if err != nil {
		return &EmailValidationError{
			Message: "Could not extract domain from email",
			Code:    "DOMAIN_EXTRACTION_ERROR",
		}
	}

	if cfg.BlockDisposableEmails && IsDisposableEmail(domain) {
		return &EmailValidationError{
			Message: fmt.Sprintf("Email from disposable domain '%s' is not allowed. Please use a permanent email address.", domain),
			Code:    "DISPOSABLE_EMAIL",
		}
	}

	if len(cfg.AllowedDomains) > 0 && !domainAllowed(domain, cfg.AllowedDomains) {
		return &EmailValidationError{
			Message: "Please use your company email address.",
			Code:    "DOMAIN_NOT_ALLOWED",
		}
	}

	return nil
}

// IsDisposableEmail checks if an email domain belongs to a burner provider.
// Subdomains of a burner domain are treated as burner too.
func IsDisposableEmail(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}

	if burner.IsBurnerEmail("probe@" + domain) {
		return true
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		return burner.IsBurnerEmail("probe@" + strings.Join(parts[len(parts)-2:], "."))
	}

	return false
}

func domainAllowed(domain string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(domain, strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

// extractDomain extracts the domain part from an email address
func extractDomain(email string) (string, error) {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid email format")
	}
	return strings.ToLower(parts[1]), nil
}
