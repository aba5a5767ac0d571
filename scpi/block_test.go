package scpi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseBlockManualExample(t *testing.T) {
	blk, err := ParseBlock([]byte("#800000003\x00\x80\xff"))
	if err != nil {
		t.Fatal(err)
	}
	if blk.Declared != 3 {
		t.Errorf("expected declared length 3, got %d", blk.Declared)
	}
	if diff := cmp.Diff([]byte{0x00, 0x80, 0xff}, blk.Data); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBlockToleratesPrefixAndTerminator(t *testing.T) {
	blk, err := ParseBlock([]byte("\n#15hello\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(blk.Data) != "hello" {
		t.Errorf("expected hello, got %q", blk.Data)
	}
	if string(blk.Raw) != "#15hello" {
		t.Errorf("expected raw frame #15hello, got %q", blk.Raw)
	}
}

func TestParseBlockRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no marker":        "800000003abc",
		"zero digit count": "#0abc",
		"non digit count":  "#xabc",
		"bad length":       "#3a12abc",
		"short header":     "#9123",
		"short payload":    "#210abc",
		"signed length":    "#2+5hello",
		"spaced length":    "#2 5hello",
		"oversized length": "#9999999999",
		"empty":            "",
	}
	for name, in := range cases {
		blk, err := ParseBlock([]byte(in))
		var merr *MalformedBlockError
		if !errors.As(err, &merr) {
			t.Errorf("%s: expected MalformedBlockError, got %v", name, err)
		}
		if blk.Data != nil {
			t.Errorf("%s: expected no partial output, got %v", name, blk.Data)
		}
	}
}

func TestReadBlockStream(t *testing.T) {
	payload := []byte{'\n', 1, 2, '#', 3}
	stream := append(EncodeBlock(payload), '\n')
	stream = append(stream, "RIGOL\n"...)
	r := bufio.NewReader(bytes.NewReader(stream))
	blk, err := ReadBlock(r)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(payload, blk.Data); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	// the terminator must have been consumed, leaving the next response intact
	rest, _ := r.ReadString('\n')
	if rest != "RIGOL\n" {
		t.Errorf("expected the following line to be intact, got %q", rest)
	}
}

func TestReadBlockShortPayload(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("#9000000010abc")))
	_, err := ReadBlock(r)
	var merr *MalformedBlockError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedBlockError, got %v", err)
	}
}

func TestReadBlockRefusesHugeHeader(t *testing.T) {
	// the length is checked before any payload buffer is allocated
	r := bufio.NewReader(bytes.NewReader([]byte("#9999999999\x00\x01")))
	_, err := ReadBlock(r)
	var merr *MalformedBlockError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedBlockError, got %v", err)
	}
	if !strings.Contains(merr.Error(), "999999999") {
		t.Errorf("expected the declared length in the error, got %q", merr.Error())
	}
}

func TestEncodeBlockRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x7f}, 1200)
	enc := EncodeBlock(data)
	if string(enc[:11]) != "#9000001200" {
		t.Errorf("expected DS1000Z style header, got %q", enc[:11])
	}
	blk, err := ParseBlock(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blk.Data, data) {
		t.Error("payload did not survive encoding")
	}
}

func TestDeviceError(t *testing.T) {
	if err := deviceError(`0,"No error"`); err != nil {
		t.Errorf("expected nil for code 0, got %v", err)
	}
	if err := deviceError("+0,\"No error\""); err != nil {
		t.Errorf("expected nil for code +0, got %v", err)
	}
	err := deviceError(`-113,"Undefined header"`)
	de, ok := err.(*DeviceError)
	if !ok {
		t.Fatalf("expected a *DeviceError for code -113, got %v", err)
	}
	if de.Code != -113 || de.Msg != "Undefined header" {
		t.Errorf("unexpected device error %+v", de)
	}
	if !isDeviceError(fmt.Errorf("setting: %w", err)) {
		t.Error("expected a wrapped device error to be recognized")
	}
}
