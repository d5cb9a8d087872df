package capture

import "fmt"

// AccessLostError reports that the resolved target (window,
// application, or monitor) became unavailable mid-session and the
// capture loop must re-resolve before retrying.
type AccessLostError struct {
	Reason string
}

func (e *AccessLostError) Error() string {
	return fmt.Sprintf("capture: access lost: %s", e.Reason)
}
