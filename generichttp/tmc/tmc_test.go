package tmc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeGen struct {
	Setup
	calls []string
}

func (f *fakeGen) SetFunction(s string) error {
	if s == "" {
		return errors.New("no function")
	}
	f.calls = append(f.calls, "function")
	f.Function = s
	return nil
}
func (f *fakeGen) GetFunction() (string, error)   { return f.Function, nil }
func (f *fakeGen) SetFrequency(v float64) error   { f.Frequency = v; return nil }
func (f *fakeGen) GetFrequency() (float64, error) { return f.Frequency, nil }
func (f *fakeGen) SetVoltage(v float64) error     { f.Voltage = v; return nil }
func (f *fakeGen) GetVoltage() (float64, error)   { return f.Voltage, nil }
func (f *fakeGen) SetOffset(v float64) error      { f.Offset = v; return nil }
func (f *fakeGen) GetOffset() (float64, error)    { return f.Offset, nil }
func (f *fakeGen) GetOutput() (bool, error)       { return f.Output, nil }
func (f *fakeGen) EnableOutput() error {
	f.calls = append(f.calls, "on")
	f.Output = true
	return nil
}
func (f *fakeGen) DisableOutput() error {
	f.calls = append(f.calls, "off")
	f.Output = false
	return nil
}

func TestApplySetup(t *testing.T) {
	g := &fakeGen{Setup: Setup{Output: true}}
	want := Setup{Function: "SQU", Frequency: 1e3, Voltage: 2, Offset: 0.5, Output: true}
	if err := ApplySetup(g, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSetup(g)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected setup (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"off", "function", "on"}, g.calls); diff != "" {
		t.Errorf("unexpected call order (-want +got):\n%s", diff)
	}

	g = &fakeGen{Setup: Setup{Output: true}}
	if err := ApplySetup(g, Setup{Output: true}); err == nil {
		t.Fatal("expected an empty function to be rejected")
	}
	if g.Output {
		t.Error("expected the output to stay off after a rejected setup")
	}
}
