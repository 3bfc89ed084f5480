package wire

import (
	"bytes"
	"testing"
)

func TestDecoderSingleToken(t *testing.T) {
	var d Decoder
	d.Feed(EncodeToken([]byte("SET")))
	toks, err := d.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 1 || string(toks[0]) != "SET" {
		t.Fatalf("got %v", toks)
	}
}

func TestDecoderResumability(t *testing.T) {
	raw := append(EncodeToken([]byte("SET")), EncodeToken([]byte("key"))...)
	raw = append(raw, EncodeToken([]byte("value"))...)

	for split := 0; split <= len(raw); split++ {
		var d Decoder
		d.Feed(raw[:split])
		toks, err := d.Decode()
		if err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		d.Feed(raw[split:])
		more, err := d.Decode()
		if err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		toks = append(toks, more...)
		if len(toks) != 3 {
			t.Fatalf("split %d: expected 3 tokens, got %d", split, len(toks))
		}
		if string(toks[0]) != "SET" || string(toks[1]) != "key" || string(toks[2]) != "value" {
			t.Fatalf("split %d: wrong tokens %v", split, toks)
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	raw := EncodeToken([]byte("hello world"))
	var d Decoder
	var got [][]byte
	for i := 0; i < len(raw); i++ {
		d.Feed(raw[i : i+1])
		toks, err := d.Decode()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, toks...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte("hello world")) {
		t.Fatalf("got %v", got)
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	var d Decoder
	d.Feed([]byte("99999999999999999999\r\n"))
	if _, err := d.Decode(); err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

func TestDecoderRejectsNonNumericLength(t *testing.T) {
	var d Decoder
	d.Feed([]byte("12a\r\nxxx"))
	if _, err := d.Decode(); err == nil {
		t.Fatal("expected error for non-numeric length prefix")
	}
}
