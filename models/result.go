package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Status is the outcome of one parse attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// PaymentMethod is one top-up option offered by a site.
type PaymentMethod struct {
	Name      string `json:"method_name"`
	MinAmount int64  `json:"min_amount"`
}

// ParseResult is the unit persisted per attempt and rendered to the operator.
//
// Status error implies no payment methods and a non-empty ErrorMessage;
// status success implies an empty ErrorMessage. Use NewSuccess / NewFailure
// to build values that hold this.
type ParseResult struct {
	SiteID         string          `json:"site_id"`
	Status         Status          `json:"status"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	SiteURL        string          `json:"site_url,omitempty"`
	ScreenshotPath string          `json:"screenshot_path,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ParsedAt       time.Time       `json:"parsed_at"`
}

// NewSuccess builds a success result. A nil method list is stored as empty.
func NewSuccess(siteID, siteURL, screenshotPath string, methods []PaymentMethod, at time.Time) ParseResult {
	if methods == nil {
		methods = []PaymentMethod{}
	}
	return ParseResult{
		SiteID:         siteID,
		Status:         StatusSuccess,
		PaymentMethods: methods,
		SiteURL:        siteURL,
		ScreenshotPath: screenshotPath,
		ParsedAt:       at,
	}
}

// NewFailure builds an error result from err.
func NewFailure(siteID, siteURL string, err error, at time.Time) ParseResult {
	msg := ErrCodeInternal + ": unknown failure"
	if err != nil {
		msg = Describe(err)
	}
	return ParseResult{
		SiteID:         siteID,
		Status:         StatusError,
		PaymentMethods: []PaymentMethod{},
		SiteURL:        siteURL,
		ErrorMessage:   msg,
		ParsedAt:       at,
	}
}

// Valid reports whether r satisfies the status/error-message invariant.
func (r ParseResult) Valid() bool {
	switch r.Status {
	case StatusError:
		return r.ErrorMessage != "" && len(r.PaymentMethods) == 0
	case StatusSuccess:
		return r.ErrorMessage == ""
	default:
		return false
	}
}

// Capitalize upper-cases the first letter of s and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
