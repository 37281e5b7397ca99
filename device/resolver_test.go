package device

import (
	"testing"

	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/profile"
)

func testRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	reg, err := profile.Load("")
	if err != nil {
		t.Fatalf("profile.Load: %v", err)
	}
	return reg
}

func TestResolveUsesExplicitIPAddress(t *testing.T) {
	rec := &Record{Hostname: "r1", Vendor: "cisco", IPAddress: "10.0.0.9"}
	target, err := Resolve(rec, Snapshot{}, testRegistry(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(target.Addresses) != 1 || target.Addresses[0] != "10.0.0.9" {
		t.Fatalf("unexpected addresses: %v", target.Addresses)
	}
}

func TestResolveFirstAddressWithoutFailover(t *testing.T) {
	rec := &Record{Hostname: "r1", Vendor: "cisco"}
	inv := Snapshot{
		"r1": &Record{Hostname: "r1", PreferredIPs: []string{"10.0.0.1", "10.0.0.2"}},
	}
	target, err := Resolve(rec, inv, testRegistry(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(target.Addresses) != 1 || target.Addresses[0] != "10.0.0.1" {
		t.Fatalf("expected singleton first address, got %v", target.Addresses)
	}
}

func TestResolveFullListWithFailover(t *testing.T) {
	rec := &Record{Hostname: "r1", Vendor: "cisco", FailoverToBackupIPs: true}
	inv := Snapshot{
		"r1": &Record{Hostname: "r1", PreferredIPs: []string{"10.0.0.1", "10.0.0.2"}},
	}
	target, err := Resolve(rec, inv, testRegistry(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(target.Addresses) != 2 {
		t.Fatalf("expected full address list, got %v", target.Addresses)
	}
}

func TestResolveRestrictsToManagementAddresses(t *testing.T) {
	rec := &Record{Hostname: "r1", Vendor: "cisco", MgmtIP: true, FailoverToBackupIPs: true}
	inv := Snapshot{
		"r1": &Record{
			Hostname:      "r1",
			PreferredIPs:  []string{"10.0.0.1", "192.168.1.1"},
			ManagementIPs: []string{"192.168.1.1"},
		},
	}
	target, err := Resolve(rec, inv, testRegistry(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(target.Addresses) != 1 || target.Addresses[0] != "192.168.1.1" {
		t.Fatalf("expected only the management address, got %v", target.Addresses)
	}
}

func TestResolveFailsForUnknownVendor(t *testing.T) {
	rec := &Record{Hostname: "r1", Vendor: "nonexistent-vendor", IPAddress: "10.0.0.9"}
	_, err := Resolve(rec, Snapshot{}, testRegistry(t))
	if fcrerr.CodeOf(err) != fcrerr.UnsupportedDevice {
		t.Fatalf("expected UnsupportedDevice, got %v", err)
	}
}

func TestResolveFailsForMissingVendor(t *testing.T) {
	rec := &Record{Hostname: "r1", IPAddress: "10.0.0.9"}
	_, err := Resolve(rec, Snapshot{}, testRegistry(t))
	if fcrerr.CodeOf(err) != fcrerr.UnsupportedDevice {
		t.Fatalf("expected UnsupportedDevice, got %v", err)
	}
}

func TestResolveFailsWhenNoAddressKnown(t *testing.T) {
	rec := &Record{Hostname: "ghost", Vendor: "cisco"}
	_, err := Resolve(rec, Snapshot{}, testRegistry(t))
	if fcrerr.CodeOf(err) != fcrerr.Lookup {
		t.Fatalf("expected Lookup error, got %v", err)
	}
}
