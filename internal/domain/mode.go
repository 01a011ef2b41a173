package domain

import (
	"fmt"
	"strings"
)

// EnvironmentMode selects how requests reach the exchange.
type EnvironmentMode int32

const (
	// ModeLive: production host, no sandbox marker.
	ModeLive EnvironmentMode = iota
	// ModeSandboxHeader: production host plus the simulated-trading header.
	ModeSandboxHeader
	// ModeSandboxAltHost: dedicated sandbox host, no marker header.
	ModeSandboxAltHost
)

func (m EnvironmentMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeSandboxHeader:
		return "sandbox_header"
	case ModeSandboxAltHost:
		return "sandbox_alt_host"
	default:
		return "unknown"
	}
}

// IsSandbox reports whether orders land on the demo account.
func (m EnvironmentMode) IsSandbox() bool {
	return m == ModeSandboxHeader || m == ModeSandboxAltHost
}

// Alternate returns the other sandbox strategy. Live has no alternate.
func (m EnvironmentMode) Alternate() (EnvironmentMode, bool) {
	switch m {
	case ModeSandboxHeader:
		return ModeSandboxAltHost, true
	case ModeSandboxAltHost:
		return ModeSandboxHeader, true
	default:
		return m, false
	}
}

// ParseEnvironmentMode accepts the String() forms plus a few aliases.
func ParseEnvironmentMode(s string) (EnvironmentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "real", "prod", "production":
		return ModeLive, nil
	case "sandbox_header", "sandbox", "demo", "paptrading":
		return ModeSandboxHeader, nil
	case "sandbox_alt_host", "sandbox_host":
		return ModeSandboxAltHost, nil
	default:
		return ModeLive, fmt.Errorf("unknown environment mode %q", s)
	}
}
