package rpc

import "testing"

func TestFrameHeaderRoundTrip(t *testing.T) {
	cases := []FrameHeader{
		{Version: 1, Flags: FlagRequest, ServiceID: 3, MessageID: 8, Seq: 11, PayloadBytes: 17, Aux: 55},
		{Version: 1, Flags: FlagResponse, ServiceID: 1, MessageID: 7, Seq: 42, PayloadBytes: 4, Aux: -6},
		{Version: 1, Flags: FlagNotify, ServiceID: 1, MessageID: 99, Seq: 0, PayloadBytes: 0, Aux: 0},
		{Version: 1, Flags: FlagResponse, ServiceID: 0xFFFFFFFF, MessageID: 0, Seq: 0, PayloadBytes: 0xFFFFFFFF, Aux: -1},
	}

	for _, want := range cases {
		encoded := encodeFrameHeader(want)
		if len(encoded) != FrameHeaderSize {
			t.Fatalf("encodeFrameHeader produced %d bytes, want %d", len(encoded), FrameHeaderSize)
		}
		var got FrameHeader
		if !decodeFrameHeader(encoded[:], &got) {
			t.Fatalf("decodeFrameHeader returned false for a valid header")
		}
		if got != want {
			t.Fatalf("decode(encode(%+v)) = %+v", want, got)
		}
	}
}

func TestDecodeFrameHeaderRejectsShortInput(t *testing.T) {
	for n := 0; n < FrameHeaderSize; n++ {
		var out FrameHeader
		if decodeFrameHeader(make([]byte, n), &out) {
			t.Fatalf("decodeFrameHeader accepted a %d-byte input, want false", n)
		}
	}
}

func TestEncodeFrameHeaderLittleEndian(t *testing.T) {
	h := FrameHeader{Version: 1, Flags: FlagRequest, ServiceID: 3, MessageID: 8, Seq: 11, PayloadBytes: 17, Aux: 55}
	b := encodeFrameHeader(h)

	if b[0] != 1 || b[1] != 0 {
		t.Fatalf("version not little-endian: %v", b[0:2])
	}
	if b[2] != 1 || b[3] != 0 {
		t.Fatalf("flags not little-endian: %v", b[2:4])
	}
	if b[4] != 3 || b[5] != 0 || b[6] != 0 || b[7] != 0 {
		t.Fatalf("serviceId not little-endian: %v", b[4:8])
	}
}
