package rigol

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/comm"
)

func TestParseMemoryDepth(t *testing.T) {
	cases := map[string]int{
		"12k":          12000,
		"1.2M":         1200000,
		"24M":          24000000,
		"12m":          12000000,
		"3000000":      3000000,
		"1.200000e+07": 12000000,
	}
	for in, want := range cases {
		if got, ok := ParseMemoryDepth(in); !ok || got != want {
			t.Errorf("%q: expected %d, got %d %v", in, want, got, ok)
		}
	}
	for _, in := range []string{"AUTO", "", "lots", "-5"} {
		if _, ok := ParseMemoryDepth(in); ok {
			t.Errorf("%q: expected no depth", in)
		}
	}
}

func TestMaxMemoryDepth(t *testing.T) {
	cases := []struct {
		n    int
		deep bool
		want int
	}{
		{1, false, 12000000},
		{2, false, 6000000},
		{3, false, 3000000},
		{4, false, 3000000},
		{1, true, 24000000},
		{2, true, 12000000},
		{4, true, 6000000},
	}
	for _, c := range cases {
		if got := MaxMemoryDepth(c.n, c.deep); got != c.want {
			t.Errorf("%d channels, deep=%v: expected %d, got %d", c.n, c.deep, c.want, got)
		}
	}
}

func TestSetMemoryDepthClamps(t *testing.T) {
	scope, mock := newMockScope(t)
	// channels 1 and 2 are on, so 12M is out of reach
	md, err := scope.SetMemoryDepth("12M")
	if err != nil {
		t.Fatal(err)
	}
	if md.Points != 6000000 {
		t.Errorf("expected the depth lowered to 6M, got %+v", md)
	}
	log := mock.Log()
	if log[0] != ":STOP" || log[len(log)-1] != ":RUN" {
		t.Errorf("expected the change bracketed by STOP and RUN, got %v", log)
	}
	if _, err := scope.SetMemoryDepth("7M"); err == nil {
		t.Error("expected an unsupported depth to be rejected")
	}
	md, err = scope.SetMemoryDepth("auto")
	if err != nil {
		t.Fatal(err)
	}
	if !md.Auto() || md.Points != 12000 {
		t.Errorf("expected AUTO resolved to 12000 points, got %+v", md)
	}
}

func TestReadWaveformScreen(t *testing.T) {
	scope, _ := newMockScope(t)
	wav, err := scope.ReadWaveform(2)
	if err != nil {
		t.Fatal(err)
	}
	if wav.Points != ScreenPoints || len(wav.Time) != ScreenPoints {
		t.Fatalf("expected %d points, got %d", ScreenPoints, wav.Points)
	}
	pre, err := scope.Preamble(2)
	if err != nil {
		t.Fatal(err)
	}
	if want := pre.Scaling().Volts(MockSample(2, 1)); wav.Volts[0] != want {
		t.Errorf("expected first sample %g V, got %g", want, wav.Volts[0])
	}
}

// captureWindows pulls the STARt/STOP pairs out of the traffic log
func captureWindows(log []string) []string {
	var out []string
	for _, l := range log {
		if strings.HasPrefix(l, ":WAVeform:STARt") || strings.HasPrefix(l, ":WAVeform:STOP") {
			out = append(out, l)
		}
	}
	return out
}

func TestCaptureChunked(t *testing.T) {
	scope, mock := newMockScope(t)
	if _, err := scope.SetMemoryDepth("1.2M"); err != nil {
		t.Fatal(err)
	}
	var progress []int
	res, err := scope.Capture(context.Background(), CaptureRequest{
		Channel:   1,
		Points:    700000,
		ChunkSize: 250000,
		Progress:  func(chunk, chunks int, w capture.Window) { progress = append(progress, chunk) },
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		":WAVeform:STARt 1", ":WAVeform:STOP 250000",
		":WAVeform:STARt 250001", ":WAVeform:STOP 500000",
		":WAVeform:STARt 500001", ":WAVeform:STOP 700000",
	}
	if diff := cmp.Diff(want, captureWindows(mock.Log())); diff != "" {
		t.Errorf("unexpected windows (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, progress); diff != "" {
		t.Errorf("unexpected progress (-want +got):\n%s", diff)
	}
	if res.Chunks != 3 || res.Waveform.Points != 700000 {
		t.Fatalf("expected 700000 points in 3 chunks, got %d in %d", res.Waveform.Points, res.Chunks)
	}
	samples := make([]byte, 700000)
	for i := range samples {
		samples[i] = MockSample(1, i+1)
	}
	if res.Checksum != capture.Checksum(samples) {
		t.Error("checksum does not match the instrument memory")
	}
	s := res.Waveform.Scaling
	for _, i := range []int{0, 249999, 250000, 699999} {
		if got, want := res.Waveform.Volts[i], s.Volts(samples[i]); got != want {
			t.Errorf("point %d: expected %g V, got %g", i, want, got)
		}
	}
	log := mock.Log()
	if log[len(log)-1] != ":RUN" {
		t.Errorf("expected acquisition resumed last, got %q", log[len(log)-1])
	}
	if mock.Setting(":WAVeform:MODE") != "RAW" {
		t.Errorf("expected RAW mode, got %q", mock.Setting(":WAVeform:MODE"))
	}
}

func TestReadWaveformAfterCapture(t *testing.T) {
	scope, mock := newMockScope(t)
	if _, err := scope.SetMemoryDepth("1.2M"); err != nil {
		t.Fatal(err)
	}
	_, err := scope.Capture(context.Background(), CaptureRequest{Channel: 1, Points: 700000})
	if err != nil {
		t.Fatal(err)
	}
	wav, err := scope.ReadWaveform(1)
	if err != nil {
		t.Fatal(err)
	}
	if wav.Points != ScreenPoints {
		t.Fatalf("expected %d points after a chunked capture, got %d", ScreenPoints, wav.Points)
	}
	if got := mock.Setting(":WAVeform:STARt"); got != "1" {
		t.Errorf("expected the window to start at 1, got %q", got)
	}
	pre, err := scope.Preamble(1)
	if err != nil {
		t.Fatal(err)
	}
	if pre.Points != ScreenPoints {
		t.Errorf("expected a screen preamble of %d points, got %d", ScreenPoints, pre.Points)
	}
}

func TestCaptureSingleWindow(t *testing.T) {
	scope, mock := newMockScope(t)
	// AUTO depth is 12k points, one window
	res, err := scope.Capture(context.Background(), CaptureRequest{Channel: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 || res.Waveform.Points != 12000 {
		t.Errorf("expected 12000 points in one chunk, got %d in %d", res.Waveform.Points, res.Chunks)
	}
	if diff := cmp.Diff([]string{":WAVeform:STARt 1", ":WAVeform:STOP 12000"}, captureWindows(mock.Log())); diff != "" {
		t.Errorf("unexpected windows (-want +got):\n%s", diff)
	}
}

func TestCaptureDroppedBlock(t *testing.T) {
	scope, mock := newMockScope(t)
	if _, err := scope.SetMemoryDepth("1.2M"); err != nil {
		t.Fatal(err)
	}
	mock.DropData(2)
	_, err := scope.Capture(context.Background(), CaptureRequest{Channel: 1, ChunkSize: 250000})
	var cerr *capture.CaptureFailedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a CaptureFailedError, got %v", err)
	}
	if cerr.Chunk != 1 || cerr.Chunks != 5 {
		t.Errorf("expected failure on chunk 2 of 5, got %d of %d", cerr.Chunk+1, cerr.Chunks)
	}
	var terr *comm.TimeoutError
	if !errors.As(err, &terr) {
		t.Errorf("expected the timeout to be reachable, got %v", err)
	}
	log := mock.Log()
	if log[len(log)-1] != ":RUN" {
		t.Errorf("expected acquisition resumed after the failure, got %q", log[len(log)-1])
	}
	// the session is usable afterwards
	if _, err := scope.Identity(); err != nil {
		t.Errorf("expected the scope to recover, got %v", err)
	}
}

func TestCaptureCanceled(t *testing.T) {
	scope, mock := newMockScope(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scope.Capture(ctx, CaptureRequest{Channel: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, l := range mock.Log() {
		if strings.HasPrefix(l, ":WAVeform:DATA?") {
			t.Error("expected no data requested after cancelation")
		}
	}
}

func TestCaptureBadChannel(t *testing.T) {
	scope, mock := newMockScope(t)
	if _, err := scope.Capture(context.Background(), CaptureRequest{Channel: 0}); err != ErrBadChannel {
		t.Errorf("expected ErrBadChannel, got %v", err)
	}
	if len(mock.Log()) != 0 {
		t.Errorf("expected nothing sent, got %v", mock.Log())
	}
}

func TestCaptureAll(t *testing.T) {
	if testing.Short() {
		t.Skip("transfers 12M points")
	}
	scope, mock := newMockScope(t)
	if err := scope.SetDisplay(2, false); err != nil {
		t.Fatal(err)
	}
	if err := scope.SetDisplay(3, true); err != nil {
		t.Fatal(err)
	}
	out, err := scope.CaptureAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Waveform.Channel != 1 || out[3].Waveform.Channel != 3 {
		t.Fatalf("expected channels 1 and 3, got %v", len(out))
	}
	// two channels allow 6M, 24 windows each
	if out[3].Chunks != 24 || out[3].Waveform.Points != 6000000 {
		t.Errorf("expected 6M points in 24 chunks, got %d in %d", out[3].Waveform.Points, out[3].Chunks)
	}
	if mock.Setting(":ACQuire:MDEPth") != "6000000" {
		t.Errorf("expected the deepest memory set, got %q", mock.Setting(":ACQuire:MDEPth"))
	}
}
