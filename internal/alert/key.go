package alert

import (
	"fmt"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// Key identifies one alertable condition. Two evaluations that produce an
// equal Key refer to the same live alert. Qualifier is empty for host-wide
// conditions, "gpuN" for a device and the session name for sessions.
type Key struct {
	Type      fleet.AlertType
	Host      string
	Qualifier string
}

func hostKey(t fleet.AlertType, host string) Key {
	return Key{Type: t, Host: host}
}

func gpuKey(t fleet.AlertType, host string, index int) Key {
	return Key{Type: t, Host: host, Qualifier: gpuQualifier(index)}
}

func sessionKey(t fleet.AlertType, host, session string) Key {
	return Key{Type: t, Host: host, Qualifier: session}
}

func gpuQualifier(index int) string {
	return fmt.Sprintf("gpu%d", index)
}

// String is for logs only; identity is the struct value.
func (k Key) String() string {
	if k.Qualifier == "" {
		return fmt.Sprintf("%s(%s)", k.Type, k.Host)
	}
	return fmt.Sprintf("%s(%s, %q)", k.Type, k.Host, k.Qualifier)
}
