package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseResult_StatusInvariant(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	methods := []PaymentMethod{{Name: "Sbp", MinAmount: 100}}

	tests := []struct {
		name string
		r    ParseResult
	}{
		{"success with methods", NewSuccess("pinco", "https://p.example", "/tmp/p.png", methods, at)},
		{"success without methods", NewSuccess("pinco", "https://p.example", "", nil, at)},
		{"coded failure", NewFailure("pinco", "https://p.example", NewScrapeError(ErrCodeTimeout, "wait", nil), at)},
		{"wrapped failure", NewFailure("pinco", "", fmt.Errorf("extract: %w", context.DeadlineExceeded), at)},
		{"nil failure", NewFailure("pinco", "", nil, at)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.r
			isErr := r.Status == StatusError
			hasMsgNoMethods := r.ErrorMessage != "" && len(r.PaymentMethods) == 0
			if isErr != hasMsgNoMethods {
				t.Errorf("invariant broken: status=%s msg=%q methods=%d", r.Status, r.ErrorMessage, len(r.PaymentMethods))
			}
			if !r.Valid() {
				t.Errorf("Valid() = false for %+v", r)
			}
			if r.PaymentMethods == nil {
				t.Error("payment methods should never be nil")
			}
		})
	}
}

func TestParseResult_Valid_RejectsBrokenValues(t *testing.T) {
	bad := []ParseResult{
		{Status: StatusError},
		{Status: StatusError, ErrorMessage: "x", PaymentMethods: []PaymentMethod{{Name: "a"}}},
		{Status: StatusSuccess, ErrorMessage: "x"},
		{Status: "unknown"},
	}
	for i, r := range bad {
		if r.Valid() {
			t.Errorf("case %d: expected invalid result, got valid: %+v", i, r)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		prefix  string
		contain string
	}{
		{"scrape error", NewScrapeError(ErrCodeTimeout, "waiting for #cashbox", context.DeadlineExceeded), "Timeout: ", "waiting for #cashbox"},
		{"wrapped scrape error", fmt.Errorf("navigate: %w", NewScrapeError(ErrCodeNetwork, "goto", nil)), "NetworkError: ", "navigate"},
		{"bare deadline", context.DeadlineExceeded, "Timeout: ", "deadline"},
		{"plain error", errors.New("boom"), "Internal: ", "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("Describe() = %q, want prefix %q", got, tt.prefix)
			}
			if !strings.Contains(got, tt.contain) {
				t.Errorf("Describe() = %q, want it to contain %q", got, tt.contain)
			}
		})
	}
}

func TestCapitalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"sbp", "Sbp"},
		{"VISA / MasterCard", "Visa / mastercard"},
		{"сбп", "Сбп"},
		{"ЮMONEY", "Юmoney"},
	}
	for _, tt := range tests {
		if got := Capitalize(tt.in); got != tt.want {
			t.Errorf("Capitalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
