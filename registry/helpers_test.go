package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/profile"
	"github.com/nanoncore/fcr/session"
	"github.com/nanoncore/fcr/transport"
)

func aristaTestTarget(t *testing.T) (*device.Target, *transport.Fake) {
	t.Helper()
	reg, err := profile.Load("")
	if err != nil {
		t.Fatalf("profile.Load: %v", err)
	}
	prof, ok := reg.Get("arista")
	if !ok {
		t.Fatalf("expected built-in arista profile")
	}

	fake := transport.NewFake(func(data []byte) [][]byte {
		if len(data) == 1 && data[0] == 0x15 {
			return nil
		}
		cmd := strings.TrimSuffix(string(data), "\n")
		return [][]byte{[]byte(cmd + "\nr1#")}
	})

	target := &device.Target{
		Addresses:    []string{"fake-addr"},
		Username:     "admin",
		Password:     "admin",
		Profile:      prof,
		SessionKind:  profile.SessionCLI,
		ClearCommand: prof.ClearCommand,
	}
	return target, fake
}

func fakeTestDialer(fake *transport.Fake) session.Dialer {
	return func(ctx context.Context, addr, username, password string, target *device.Target) (transport.Transport, error) {
		return fake, nil
	}
}
