package tado

import (
	"errors"
	"fmt"
)

// Error taxonomy callers rely on to decide retry vs. fatal. Network
// failures, timeouts and 5xx responses are transient; auth rejections and
// other 4xx responses are not.
var (
	ErrAuth      = errors.New("tado: authentication failed")
	ErrTransient = errors.New("tado: transient error")
	ErrPermanent = errors.New("tado: permanent error")
)

func classifyStatus(status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, status, body)
	case status == 408 || status == 429 || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, body)
	case status >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrPermanent, status, body)
	}
	return nil
}
