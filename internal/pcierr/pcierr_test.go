package pcierr

import (
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New("pci.NewDevice", NoSuchDevice, nil)
	kind, ok := KindOf(err)
	if !ok || kind != NoSuchDevice {
		t.Errorf("KindOf = %v, %v, want NoSuchDevice, true", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf(plain error) = true, want false")
	}
}

func TestErrorIsWraps(t *testing.T) {
	cause := errors.New("permission denied")
	err := New("pci.NewDevice", MappingFailed, cause)

	if !errors.Is(err, err) {
		t.Error("errors.Is(err, err) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through to the wrapped cause")
	}
}

func TestAbortOnPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AbortOn handler did not panic")
		}
	}()
	h := AbortOn(nil)
	h(New("op", InvalidArgument, nil))
}
