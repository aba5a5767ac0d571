package rigol

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/scopelab/rigolab/mathx"
)

func TestMeasure(t *testing.T) {
	scope, _ := newMockScope(t)
	cases := []struct {
		ch   int
		item string
		want float64
	}{
		{1, "VPP", 8},
		{1, "vmax", 4},
		{1, "VAVG", 0},
		{2, "FREQuency", 500e3},
		{2, "PER", 2e-6},
	}
	for _, c := range cases {
		got, err := scope.Measure(c.ch, c.item)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(c.want, got, cmpopts.EquateApprox(1e-6, 0)) {
			t.Errorf("CH%d %s: expected %g, got %g", c.ch, c.item, c.want, got)
		}
	}
	if _, err := scope.Measure(1, "jitter"); err == nil {
		t.Error("expected an unknown measurement to be rejected")
	}
	v, err := scope.Measure(4, "VPP")
	if err != nil {
		t.Fatal(err)
	}
	if mathx.Valid(v) {
		t.Errorf("expected an invalid reading on a disabled channel, got %g", v)
	}
}

func TestStatistics(t *testing.T) {
	scope, mock := newMockScope(t)
	st, err := scope.Statistics(1, "VPP")
	if err != nil {
		t.Fatal(err)
	}
	want := Statistics{Current: 8, Average: 8, Min: 8, Max: 8}
	if diff := cmp.Diff(want, st, cmpopts.EquateApprox(1e-6, 0)); diff != "" {
		t.Errorf("unexpected statistics (-want +got):\n%s", diff)
	}
	if got := mock.Setting(":MEASure:STATistic:MODE"); got != "EXTRemum" {
		t.Errorf("expected extremum statistics, got %q", got)
	}
	if err := scope.ResetStatistics(); err != nil {
		t.Fatal(err)
	}
}

func TestScreenshot(t *testing.T) {
	scope, _ := newMockScope(t)
	img, err := scope.Screenshot()
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 800 || cfg.Height != 480 {
		t.Errorf("expected an 800x480 screen, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestGenerator(t *testing.T) {
	scope, _ := newMockScope(t)
	if _, err := scope.Generator(3); err == nil {
		t.Error("expected output 3 to be rejected")
	}
	gen, err := scope.Generator(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := gen.SetFunction("SQUare"); err != nil {
		t.Fatal(err)
	}
	if fn, err := gen.GetFunction(); err != nil || fn != "SQUARE" {
		t.Errorf("expected SQUARE, got %q %v", fn, err)
	}
	if err := gen.SetFunction("triangle"); err == nil {
		t.Error("expected an unknown function to be rejected")
	}
	if err := gen.SetFrequency(1e6); err != nil {
		t.Fatal(err)
	}
	if f, err := gen.GetFrequency(); err != nil || f != 1e6 {
		t.Errorf("expected 1 MHz, got %g %v", f, err)
	}
	if err := gen.SetFrequency(50e6); err == nil {
		t.Error("expected 50 MHz to be rejected")
	}
	if err := gen.SetVoltage(2.5); err != nil {
		t.Fatal(err)
	}
	if err := gen.SetOffset(-0.1); err != nil {
		t.Fatal(err)
	}
	if v, err := gen.GetOffset(); err != nil || v != -0.1 {
		t.Errorf("expected -0.1 V offset, got %g %v", v, err)
	}
	if err := gen.EnableOutput(); err != nil {
		t.Fatal(err)
	}
	if on, err := gen.GetOutput(); err != nil || !on {
		t.Errorf("expected output on, got %v %v", on, err)
	}
	if err := gen.DisableOutput(); err != nil {
		t.Fatal(err)
	}
	if on, err := gen.GetOutput(); err != nil || on {
		t.Errorf("expected output off, got %v %v", on, err)
	}
}
