package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups LDAP failures by what the operator has to fix.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// resultCategories maps LDAP result codes to categories. Codes not listed
// are ErrorCategoryUnknown.
var resultCategories = map[uint16]ErrorCategory{
	ldap.LDAPResultInvalidCredentials:          ErrorCategoryAuthentication,
	ldap.LDAPResultInappropriateAuthentication: ErrorCategoryAuthentication,
	ldap.LDAPResultStrongAuthRequired:          ErrorCategoryAuthentication,

	ldap.LDAPResultInsufficientAccessRights: ErrorCategoryPermission,
	ldap.LDAPResultUnwillingToPerform:       ErrorCategoryPermission,

	// A search base that does not exist; an absent user is an empty result.
	ldap.LDAPResultNoSuchObject:           ErrorCategoryNotFound,
	ldap.LDAPResultNoSuchAttribute:        ErrorCategoryNotFound,
	ldap.LDAPResultUndefinedAttributeType: ErrorCategoryNotFound,

	ldap.LDAPResultInvalidAttributeSyntax: ErrorCategoryValidation,
	ldap.LDAPResultInvalidDNSyntax:        ErrorCategoryValidation,
	ldap.LDAPResultFilterError:            ErrorCategoryValidation,
	ldap.ErrorFilterCompile:               ErrorCategoryValidation,

	ldap.LDAPResultServerDown:         ErrorCategoryServer,
	ldap.LDAPResultUnavailable:        ErrorCategoryServer,
	ldap.LDAPResultBusy:               ErrorCategoryServer,
	ldap.LDAPResultTimeLimitExceeded:  ErrorCategoryServer,
	ldap.LDAPResultSizeLimitExceeded:  ErrorCategoryServer,
	ldap.LDAPResultAdminLimitExceeded: ErrorCategoryServer,

	ldap.LDAPResultConnectError:  ErrorCategoryConnection,
	ldap.LDAPResultProtocolError: ErrorCategoryConnection,
	ldap.ErrorNetwork:            ErrorCategoryConnection,
}

var retryableCodes = map[uint16]bool{
	ldap.LDAPResultBusy:              true,
	ldap.LDAPResultUnavailable:       true,
	ldap.LDAPResultServerDown:        true,
	ldap.LDAPResultTimeLimitExceeded: true,
	ldap.LDAPResultConnectError:      true,
	ldap.ErrorNetwork:                true,
}

// Message fragments used to classify errors that carry no result code, such
// as dial and Kerberos failures.
var (
	connectionHints     = []string{"connection", "network", "timeout", "broken pipe"}
	authenticationHints = []string{"authentication", "credentials", "password", "kerberos"}
	permissionHints     = []string{"permission", "access", "denied"}
	retryableHints      = []string{"connection", "timeout", "network", "broken pipe", "temporary failure", "server temporarily unavailable"}
)

// LDAPError describes a failed directory operation.
type LDAPError struct {
	Operation string
	Category  ErrorCategory
	LDAPCode  uint16
	Message   string
	ServerMsg string // diagnostic message from the server
	DN        string
	Retryable bool
	Cause     error
}

func (e *LDAPError) Error() string {
	head := "LDAP " + e.Operation + " failed"
	if e.LDAPCode > 0 {
		head = fmt.Sprintf("%s (code %d)", head, e.LDAPCode)
	}

	parts := []string{head}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, "server: "+e.ServerMsg)
	}
	if e.DN != "" {
		parts = append(parts, "DN: "+e.DN)
	}
	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool { return e.Retryable }

func (e *LDAPError) Unwrap() error { return e.Cause }

// NewLDAPError classifies err for operation. It returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	out := &LDAPError{Operation: operation, Cause: err}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		code := resultErr.ResultCode
		out.LDAPCode = code
		if resultErr.Err != nil {
			out.ServerMsg = resultErr.Err.Error()
		}
		out.Category = categorizeError(code)
		out.Retryable = retryableCodes[code]
		out.Message = resultCodeMessage(code)
		return out
	}

	out.Category = categorizeGenericError(err)
	out.Retryable = isGenericErrorRetryable(err)
	out.Message = err.Error()
	return out
}

func resultCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

func categorizeError(code uint16) ErrorCategory {
	if category, ok := resultCategories[code]; ok {
		return category
	}
	return ErrorCategoryUnknown
}

func categorizeGenericError(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, connectionHints...):
		return ErrorCategoryConnection
	case containsAny(msg, authenticationHints...):
		return ErrorCategoryAuthentication
	case containsAny(msg, permissionHints...):
		return ErrorCategoryPermission
	default:
		return ErrorCategoryUnknown
	}
}

func isGenericErrorRetryable(err error) bool {
	return containsAny(strings.ToLower(err.Error()), retryableHints...)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether an operation failing with err may
// succeed when repeated.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return retryableCodes[resultErr.ResultCode]
	}
	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of err, looking through wrapping.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}
	return categorizeGenericError(err)
}
