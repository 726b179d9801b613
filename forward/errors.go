package forward

import "fmt"

// Upstream service names used in errors and observations
const (
	ServicePiston   = "piston"
	ServiceAnalysis = "analysis"
)

// UpstreamError reports a failed call to an upstream service
type UpstreamError struct {
	Service string
	Op      string
	// StatusCode is 0 when no reply was received
	StatusCode int
	// Message is safe to return to the client
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Service, e.Op, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
