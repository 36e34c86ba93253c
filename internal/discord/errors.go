package discord

import (
	"errors"
	"fmt"
)

// DeliveryError is returned when Discord answers with a non-success status.
type DeliveryError struct {
	StatusCode  int
	Body        string
	RateLimited bool // still throttled after the single rate-limit retry
}

func (e *DeliveryError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("discord webhook rate limited: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("discord webhook failed: status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a DeliveryError caused by throttling.
func IsRateLimited(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.RateLimited
}
