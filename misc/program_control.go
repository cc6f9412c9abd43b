package misc

import "errors"

var (
	// EnablePrometheusIntegration is a program-global flag that determines whether to enable
	// integration with prometheus by collecting and serving performance metrics.
	EnablePrometheusIntegration bool
	// EmergencyLockDown is a flag checked by features and daemons, they should stop functioning
	// or refuse to serve when the flag is true.
	EmergencyLockDown bool
	// ErrEmergencyLockDown is returned by some daemons to inform user that lock-down is in effect.
	ErrEmergencyLockDown = errors.New("LOCKED DOWN")
)
