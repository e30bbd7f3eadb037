package service

import (
	"fmt"
	"strings"
)

// ErrorKind buckets backend failures by cause. The taxonomy is not
// exhaustive; anything unrecognized lands in ErrKindUnexpected.
type ErrorKind string

const (
	ErrKindQuota       ErrorKind = "quota_exceeded"
	ErrKindAuth        ErrorKind = "auth_invalid"
	ErrKindTooLarge    ErrorKind = "payload_too_large"
	ErrKindUnavailable ErrorKind = "service_unavailable"
	ErrKindSafety      ErrorKind = "content_blocked"
	ErrKindMalformed   ErrorKind = "malformed_response"
	ErrKindUnexpected  ErrorKind = "unexpected"
)

// LLMError is a backend failure classified into the error taxonomy.
type LLMError struct {
	Kind    ErrorKind
	Message string // human-readable, safe to surface to the user
	Err     error  // underlying cause
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// userMessages maps each kind to the message shown to the user.
var userMessages = map[ErrorKind]string{
	ErrKindQuota:       "The analysis service is receiving too many requests right now. Please wait a moment and try again.",
	ErrKindAuth:        "The analysis service rejected the configured credentials. Check the API key.",
	ErrKindTooLarge:    "The document is too large for the analysis service.",
	ErrKindUnavailable: "The analysis service is temporarily unavailable. Please try again shortly.",
	ErrKindSafety:      "The document was blocked by the analysis service's content filter.",
	ErrKindMalformed:   "The analysis service returned a response that could not be understood.",
	ErrKindUnexpected:  "An unexpected error occurred while analyzing the document.",
}

// classifyError maps a raw backend error to exactly one taxonomy kind by
// substring matching on the error text.
func classifyError(err error) *LLMError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LLMError); ok {
		return le
	}

	msg := strings.ToLower(err.Error())
	kind := ErrKindUnexpected

	switch {
	case containsAny(msg, "429", "quota", "rate limit", "too many requests", "resource_exhausted"):
		kind = ErrKindQuota
	case containsAny(msg, "401", "403", "api key", "unauthorized", "unauthenticated", "permission", "invalid_api_key"):
		kind = ErrKindAuth
	case containsAny(msg, "413", "too large", "payload size", "request entity", "exceeds the maximum"):
		kind = ErrKindTooLarge
	case containsAny(msg, "503", "502", "unavailable", "overloaded", "bad gateway", "timeout", "deadline exceeded"):
		kind = ErrKindUnavailable
	case containsAny(msg, "safety", "content filter", "blocked", "content_policy"):
		kind = ErrKindSafety
	case containsAny(msg, "unmarshal", "invalid character", "unexpected end of json", "missing required"):
		kind = ErrKindMalformed
	}

	return &LLMError{Kind: kind, Message: userMessages[kind], Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
