package nbi

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi/types"
)

// ValidateConfigure checks site and host counts before they reach the
// topology.
func ValidateConfigure(req types.ConfigureRequest) error {
	if req.Sites < 1 {
		return fmt.Errorf("%w: sites must be >= 1, got %d", ErrInvalidEntity, req.Sites)
	}
	if req.HostsPerSite < 0 {
		return fmt.Errorf("%w: hosts_per_site must be >= 0, got %d", ErrInvalidEntity, req.HostsPerSite)
	}
	return nil
}

// ValidateLinkID requires a non-blank link id.
func ValidateLinkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	return nil
}
