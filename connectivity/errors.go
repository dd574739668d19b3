package connectivity

import "fmt"

// ErrBreakerOpen is returned in place of a network call when the breaker
// guarding an endpoint is open.
type ErrBreakerOpen struct {
	Endpoint string
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("connectivity: breaker open for %s", e.Endpoint)
}
