package gpio

import (
	"errors"
	"testing"
)

func TestPowerSequence(t *testing.T) {
	reg := &FakeOutput{}
	rst := &FakeOutput{}
	p := &Power{Regulator: reg, Reset: rst}

	var order []string
	reg.OnSet = func(v bool) { order = append(order, "reg") }
	rst.OnSet = func(v bool) { order = append(order, "reset") }

	if err := p.SetPower(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reg.Value() || !rst.Value() {
		t.Errorf("power on: expected (true, true), got (%v, %v)", reg.Value(), rst.Value())
	}

	if err := p.SetPower(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Value() || rst.Value() {
		t.Errorf("power off: expected (false, false), got (%v, %v)", reg.Value(), rst.Value())
	}

	want := []string{"reg", "reset", "reg", "reset"}
	if len(order) != len(want) {
		t.Fatalf("expected %d sets, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("set %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestPowerWithoutRegulator(t *testing.T) {
	rst := &FakeOutput{}
	p := &Power{Reset: rst}

	if err := p.SetPower(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rst.Value() {
		t.Error("reset should be released")
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !rst.Closed {
		t.Error("reset should be closed")
	}
}

func TestPowerError(t *testing.T) {
	reg := &FakeOutput{SetError: errors.New("simulated error")}
	rst := &FakeOutput{}
	p := &Power{Regulator: reg, Reset: rst}

	err := p.SetPower(true)
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if !errors.Is(err, reg.SetError) {
		t.Errorf("unexpected error: %v", err)
	}
	if len(rst.Values()) != 0 {
		t.Error("reset should not be driven after regulator failure")
	}
}

func TestFakeInterruptMergesEdges(t *testing.T) {
	f := NewFakeInterrupt()

	f.Trigger()
	f.Trigger()

	select {
	case <-f.Events():
	default:
		t.Fatal("expected an edge")
	}
	select {
	case <-f.Events():
		t.Fatal("edges should be merged")
	default:
	}
}

func TestFakeInterruptAsserted(t *testing.T) {
	f := NewFakeInterrupt()
	f.HoldAsserted(true, true)

	for i := 0; i < 2; i++ {
		v, err := f.Asserted()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v {
			t.Errorf("read %d: expected asserted", i)
		}
	}

	v, _ := f.Asserted()
	if v {
		t.Error("script exhausted: expected released")
	}

	f.ReadError = errors.New("simulated error")
	if _, err := f.Asserted(); err == nil {
		t.Error("expected error to be returned")
	}
}

func TestFakeInterruptClose(t *testing.T) {
	f := NewFakeInterrupt()

	if f.Closed {
		t.Error("should not be closed initially")
	}

	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}
