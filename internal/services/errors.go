package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDriveUnavailable    = errors.New("drive unavailable")
	ErrNoTitleFound        = errors.New("no title found")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrTranscodeFailed     = errors.New("transcode failed")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrDeliveryAuth        = errors.New("delivery authentication failed")
	ErrDeliveryConnect     = errors.New("delivery connection failed")
	ErrDeliveryTransfer    = errors.New("delivery transfer failed")
	ErrCancelled           = errors.New("cancelled")

	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrTimeout       = errors.New("timeout")
)

// Kind is the stable, user-facing name of a failure class.
type Kind string

const (
	KindNone                   Kind = ""
	KindDriveUnavailable       Kind = "DriveUnavailable"
	KindNoTitleFound           Kind = "NoTitleFound"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindTranscodeFailed        Kind = "TranscodeFailed"
	KindMetadataUnavailable    Kind = "MetadataUnavailable"
	KindDeliveryAuthFailure    Kind = "DeliveryAuthFailure"
	KindDeliveryConnectFailure Kind = "DeliveryConnectFailure"
	KindDeliveryTransfer       Kind = "DeliveryTransferFailure"
	KindCancelled              Kind = "Cancelled"
	KindConfiguration          Kind = "Configuration"
	KindValidation             Kind = "Validation"
	KindUnknown                Kind = "Unknown"
)

var kindMarkers = []struct {
	marker error
	kind   Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrNoTitleFound, KindNoTitleFound},
	{ErrDriveUnavailable, KindDriveUnavailable},
	{ErrExtractionFailed, KindExtractionFailed},
	{ErrTranscodeFailed, KindTranscodeFailed},
	{ErrMetadataUnavailable, KindMetadataUnavailable},
	{ErrDeliveryAuth, KindDeliveryAuthFailure},
	{ErrDeliveryConnect, KindDeliveryConnectFailure},
	{ErrDeliveryTransfer, KindDeliveryTransfer},
	{ErrConfiguration, KindConfiguration},
	{ErrValidation, KindValidation},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		if err == nil {
			return errors.New(detail)
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err against the taxonomy. A bare context cancellation is
// reported as Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, km := range kindMarkers {
		if errors.Is(err, km.marker) {
			return km.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Retryable reports whether a failed job attempt may be repeated.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNoTitleFound, KindConfiguration, KindValidation, KindCancelled, KindNone:
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
