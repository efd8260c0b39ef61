package mcast

import (
	"testing"
)

func TestResolveInterfaceByName(t *testing.T) {
	ifaces, err := resolveInterface("")
	if err != nil {
		t.Skipf("no usable interface in this sandbox: %v", err)
	}
	if ifaces == nil {
		t.Fatal("expected a non-nil interface")
	}

	byName, err := resolveInterface(ifaces.Name)
	if err != nil {
		t.Fatalf("resolveInterface(%q) failed: %v", ifaces.Name, err)
	}
	if byName.Name != ifaces.Name {
		t.Fatalf("expected %q, got %q", ifaces.Name, byName.Name)
	}
}

func TestResolveInterfaceUnknownName(t *testing.T) {
	if _, err := resolveInterface("definitely-not-a-real-interface-0"); err == nil {
		t.Fatal("expected an error for an unknown interface name")
	}
}

func TestJoinSendReceiveLoopback(t *testing.T) {
	const group = "239.255.42.99"

	rx, err := Join(group, 23999, "", 1)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer rx.Leave()

	// tx joins the same group:port as rx — real IP multicast delivers a
	// datagram to every socket that joined that exact group:port, so the
	// sender must share it rather than send from an ephemeral port.
	tx, err := Join(group, 23999, "", 1)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer tx.Leave()

	payload := []byte("hello-mcast")
	if err := tx.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 1500)
	got, err := rx.Receive(buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	if _, err := Join("not-an-ip", 0, "", 1); err == nil {
		t.Fatal("expected an error for an invalid multicast address")
	}
}
