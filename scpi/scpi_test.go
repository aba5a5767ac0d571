package scpi_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scopelab/rigolab/comm"
	"github.com/scopelab/rigolab/scpi"
)

// scripted answers each line written to it from a table of canned responses
type scripted struct {
	mu      sync.Mutex
	answers map[string][]byte
	out     bytes.Buffer
	written []string
}

func (s *scripted) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		s.written = append(s.written, line)
		for _, cmd := range strings.Split(line, ";") {
			if resp, ok := s.answers[cmd]; ok {
				s.out.Write(resp)
			}
		}
	}
	return len(b), nil
}

func (s *scripted) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Read(b)
}

func (s *scripted) Close() error { return nil }

func newSCPI(s *scripted) *scpi.SCPI {
	maker := func() (io.ReadWriteCloser, error) { return s, nil }
	return &scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker), Timeout: time.Second}
}

func TestReadString(t *testing.T) {
	s := &scripted{answers: map[string][]byte{"*IDN?": []byte("RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000,00.04.04\n")}}
	str, err := newSCPI(s).ReadString("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(str, "RIGOL") || strings.HasSuffix(str, "\n") {
		t.Errorf("unexpected identity %q", str)
	}
}

func TestReadIntScientific(t *testing.T) {
	s := &scripted{answers: map[string][]byte{":ACQuire:POINts?": []byte("1.200000e+04\n")}}
	i, err := newSCPI(s).ReadInt(":ACQuire:POINts?")
	if err != nil {
		t.Fatal(err)
	}
	if i != 12000 {
		t.Errorf("expected 12000, got %d", i)
	}
}

func TestReadBoolOnOff(t *testing.T) {
	s := &scripted{answers: map[string][]byte{
		":CHANnel1:DISPlay?": []byte("1\n"),
		":CHANnel2:BWLimit?": []byte("OFF\n"),
	}}
	sc := newSCPI(s)
	on, err := sc.ReadBool(":CHANnel1:DISPlay?")
	if err != nil || !on {
		t.Errorf("expected channel 1 displayed, got %v %v", on, err)
	}
	bw, err := sc.ReadBool(":CHANnel2:BWLimit?")
	if err != nil || bw {
		t.Errorf("expected bandwidth limit off, got %v %v", bw, err)
	}
}

func TestHandshakingSurfacesDeviceError(t *testing.T) {
	s := &scripted{answers: map[string][]byte{":SYSTem:ERRor?": []byte("-113,\"Undefined header\"\n")}}
	sc := newSCPI(s)
	sc.Handshaking = true
	err := sc.Write(":BOGus 1")
	if err == nil || !strings.Contains(err.Error(), "Undefined header") {
		t.Fatalf("expected device error to surface, got %v", err)
	}
	if !strings.HasPrefix(s.written[0], "*CLS;") {
		t.Errorf("expected handshake to clear status first, wrote %q", s.written[0])
	}
}

func TestReadBlockThenLine(t *testing.T) {
	s := &scripted{answers: map[string][]byte{
		":DISPlay:DATA? ON,0,PNG": append(scpi.EncodeBlock([]byte("\x89PNG")), '\n'),
		"*OPC?":                   []byte("1\n"),
	}}
	sc := newSCPI(s)
	blk, err := sc.ReadBlock(":DISPlay:DATA? ON,0,PNG")
	if err != nil {
		t.Fatal(err)
	}
	if string(blk.Data) != "\x89PNG" {
		t.Errorf("unexpected payload %q", blk.Data)
	}
	opc, err := sc.ReadInt("*OPC?")
	if err != nil || opc != 1 {
		t.Errorf("expected the following query to read cleanly, got %d %v", opc, err)
	}
}

func TestAllErrorsStopsAtZero(t *testing.T) {
	s := &scripted{answers: map[string][]byte{":SYSTem:ERRor?": []byte("0,\"No error\"\n")}}
	str, err := newSCPI(s).AllErrorsString()
	if err != nil || str != "" {
		t.Errorf("expected an empty queue, got %q %v", str, err)
	}
}

func TestReadBlockTimesOutMidPayload(t *testing.T) {
	s := &scripted{answers: map[string][]byte{":WAVeform:DATA?": []byte("#9000000010abc")}}
	_, err := newSCPI(s).ReadBlock(":WAVeform:DATA?")
	var terr *comm.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a *comm.TimeoutError for a stalled payload, got %v", err)
	}
}
