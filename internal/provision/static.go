package provision

import (
	"context"
	"errors"
)

// ErrNotProvisioned is returned by NoneProvisioner, the default when
// on-demand provisioning is disabled.
var ErrNotProvisioned = errors.New("provision: on-demand provisioning disabled")

// NoneProvisioner never allocates anything; the relay falls back to
// dropping connect requests for sessions with no registered host.
type NoneProvisioner struct{}

func (NoneProvisioner) Allocate(ctx context.Context, sessionID uint32) (string, error) {
	return "", ErrNotProvisioned
}
