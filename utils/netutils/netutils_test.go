package netutils

import "testing"

func TestIsInAddrAny(t *testing.T) {
	for _, addr := range []string{"", "0.0.0.0", "::/0"} {
		if !IsInAddrAny(addr) {
			t.Errorf("expected %q to be inaddr_any", addr)
		}
	}
	for _, addr := range []string{"127.0.0.1", "10.1.2.3", "::1"} {
		if IsInAddrAny(addr) {
			t.Errorf("expected %q not to be inaddr_any", addr)
		}
	}
}

func TestGetAdvertiseAddressConcreteBind(t *testing.T) {
	addr, err := GetAdvertiseAddress("10.1.2.3")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if addr != "10.1.2.3" {
		t.Fatalf("expected the bind address back, got %q", addr)
	}
}
