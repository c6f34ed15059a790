package platform

import (
	"errors"
	"fmt"

	"warmbot/pkg/boterrors"
)

// Platform API status codes the bot reacts to specifically.
const (
	codeThrottled        = 412    // request gate triggered, back off hard
	codeAuthFailed       = -401   // cookie expired or account restricted
	codePostForbidden    = -403   // posting temporarily blocked by risk control
	codeRootDeleted      = 12022  // root comment no longer exists
	codeCommentsDisabled = 12002  // comment section closed by the uploader
	codeDuplicate        = 12051  // identical content posted too recently
)

// Sentinel errors for thread-level conditions the conversation layer handles.
var (
	ErrRootDeleted      = errors.New("root comment deleted")
	ErrCommentsDisabled = errors.New("comment section disabled")
	ErrDuplicateContent = errors.New("duplicate comment content")
)

// APIError is a non-zero status code returned by the platform API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error %d: %s", e.Code, e.Message)
}

// classifyAPIError maps a platform status code onto the bot's error taxonomy.
func classifyAPIError(code int, message string) error {
	apiErr := &APIError{Code: code, Message: message}

	switch code {
	case codeThrottled, codePostForbidden:
		return boterrors.Wrap(boterrors.KindThrottled, apiErr, "platform throttled request")
	case codeAuthFailed:
		return boterrors.Wrap(boterrors.KindFatal, apiErr, "platform authentication failed")
	case codeRootDeleted:
		return boterrors.Wrap(boterrors.KindUpstreamGone,
			fmt.Errorf("%w: %w", ErrRootDeleted, apiErr), "root comment gone")
	case codeCommentsDisabled:
		return boterrors.Wrap(boterrors.KindUpstreamGone,
			fmt.Errorf("%w: %w", ErrCommentsDisabled, apiErr), "comment section closed")
	case codeDuplicate:
		return boterrors.Wrap(boterrors.KindFatal,
			fmt.Errorf("%w: %w", ErrDuplicateContent, apiErr), "duplicate comment rejected")
	default:
		return boterrors.Wrap(boterrors.KindTransient, apiErr, "platform request failed")
	}
}
