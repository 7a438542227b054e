package httpclient

import (
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// New returns the client used for payment network calls. A zero timeout
// falls back to a hard default: a payout request must never hang forever.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
