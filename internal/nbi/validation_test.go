package nbi

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi/types"
)

func TestValidateConfigure(t *testing.T) {
	tests := []struct {
		name    string
		req     types.ConfigureRequest
		wantErr bool
	}{
		{name: "ok", req: types.ConfigureRequest{Sites: 3, HostsPerSite: 2}},
		{name: "no hosts", req: types.ConfigureRequest{Sites: 1}},
		{name: "zero sites", req: types.ConfigureRequest{Sites: 0, HostsPerSite: 1}, wantErr: true},
		{name: "negative hosts", req: types.ConfigureRequest{Sites: 2, HostsPerSite: -1}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfigure(tc.req)
			if tc.wantErr != (err != nil) {
				t.Fatalf("ValidateConfigure(%+v) error = %v, wantErr %v", tc.req, err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEntity) {
				t.Fatalf("error %v does not wrap ErrInvalidEntity", err)
			}
		})
	}
}

func TestValidateLinkID(t *testing.T) {
	if err := ValidateLinkID("wanlink-1"); err != nil {
		t.Fatalf("ValidateLinkID(wanlink-1) error: %v", err)
	}
	if err := ValidateLinkID("  "); !errors.Is(err, ErrInvalidEntity) {
		t.Fatalf("ValidateLinkID(blank) error = %v, want ErrInvalidEntity", err)
	}
}
