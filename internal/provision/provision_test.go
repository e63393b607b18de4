package provision

import (
	"context"
	"testing"
)

func TestManagerRegisterGet(t *testing.T) {
	m := NewManager()
	if m.Get(TypeAgones) != nil {
		t.Fatal("expected no provisioner registered yet")
	}

	m.Register(TypeAgones, NewAgonesProvisioner())
	if m.Get(TypeAgones) == nil {
		t.Fatal("expected provisioner to be registered")
	}
}

func TestNoneProvisionerAlwaysFails(t *testing.T) {
	_, err := NoneProvisioner{}.Allocate(context.Background(), 12345)
	if err != ErrNotProvisioned {
		t.Fatalf("Allocate() error = %v, want ErrNotProvisioned", err)
	}
}
