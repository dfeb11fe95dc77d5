package task

import (
	"bytes"
	"testing"
)

func TestCodecsRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, BinaryCodec{}} {
		in := New("acme", "build", []byte{0x01, 0x02})
		in.ExpiresAtMs = 99_000
		data, err := codec.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", codec.Name(), err)
		}
		out, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s decode: %v", codec.Name(), err)
		}
		if out.ID != in.ID || out.TenantID != "acme" || out.Type != "build" {
			t.Fatalf("%s identity lost: %+v", codec.Name(), out)
		}
		if !bytes.Equal(out.Payload, in.Payload) || out.ExpiresAtMs != 99_000 {
			t.Fatalf("%s payload/expiry lost: %+v", codec.Name(), out)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, BinaryCodec{}} {
		if _, err := codec.Decode([]byte("not a task")); err == nil {
			t.Fatalf("%s accepted garbage", codec.Name())
		}
	}
}

func TestDecodeRejectsMissingID(t *testing.T) {
	if _, err := (JSONCodec{}).Decode([]byte(`{"tenantId":"a","type":"x"}`)); err == nil {
		t.Fatalf("decode accepted task without id")
	}
}

func TestExpired(t *testing.T) {
	tk := New("a", "x", nil)
	if tk.Expired(1000) {
		t.Fatalf("no expiry set, never expired")
	}
	tk.ExpiresAtMs = 500
	if !tk.Expired(1000) {
		t.Fatalf("expected expired")
	}
}
