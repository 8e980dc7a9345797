package htlc

import "testing"

func testContract() Contract {
	var c Contract
	for i := range c.Hashlock {
		c.Hashlock[i] = byte(i + 1)
	}
	for i := range c.DestA {
		c.DestA[i] = byte(0x10 + i)
	}
	for i := range c.DestB {
		c.DestB[i] = byte(0x20 + i)
	}
	c.Timelock = 1_700_000_000
	return c
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	want := testContract()
	script, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(script)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestEncode_RejectsNonPositiveTimelock(t *testing.T) {
	c := testContract()
	c.Timelock = 0
	if _, err := Encode(c); err != ErrNonPositiveTimelock {
		t.Errorf("Encode(timelock=0) err = %v, want ErrNonPositiveTimelock", err)
	}
	c.Timelock = -5
	if _, err := Encode(c); err != ErrNonPositiveTimelock {
		t.Errorf("Encode(timelock=-5) err = %v, want ErrNonPositiveTimelock", err)
	}
}

func TestDecode_RejectsTrailingGarbage(t *testing.T) {
	script, err := Encode(testContract())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	script = append(script, 0x00)
	if _, err := Decode(script); err != ErrTrailingGarbage {
		t.Errorf("Decode with trailing byte err = %v, want ErrTrailingGarbage", err)
	}
}

func TestDecode_RejectsWrongSizedHashlockPush(t *testing.T) {
	script, err := Encode(testContract())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// The hashlock push starts right after IF SHA256(1 byte opcode each)
	// and the SIZE-check push; corrupt its length byte to 31.
	idx := -1
	for i, b := range script {
		if b == opSha256 {
			idx = i + 1
			break
		}
	}
	if idx < 0 {
		t.Fatal("could not locate SHA256 opcode in encoded script")
	}
	corrupted := append([]byte(nil), script...)
	corrupted[idx] = HashlockSize - 1
	if _, err := Decode(corrupted); err == nil {
		t.Error("expected error decoding truncated hashlock push")
	}
}

func TestDecode_RejectsWrongSizedDestPush(t *testing.T) {
	script, err := Encode(testContract())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	idx := -1
	for i, b := range script {
		if b == opHash160 {
			idx = i + 1
			break
		}
	}
	if idx < 0 {
		t.Fatal("could not locate HASH160 opcode in encoded script")
	}
	corrupted := append([]byte(nil), script...)
	corrupted[idx] = DestSize + 1
	if _, err := Decode(corrupted); err == nil {
		t.Error("expected error decoding malformed dest push")
	}
}

func TestDecode_RejectsMalformedTemplate(t *testing.T) {
	if _, err := Decode([]byte{opCheckSig}); err == nil {
		t.Error("expected error decoding a single trailing opcode")
	}
	if _, err := Decode(nil); err == nil {
		t.Error("expected error decoding an empty script")
	}
}

func TestEncode_TimelockWidths(t *testing.T) {
	for _, tl := range []int64{1, 127, 128, 32767, 32768, 16777215, 1 << 32} {
		c := testContract()
		c.Timelock = tl
		script, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode(timelock=%d): %v", tl, err)
		}
		got, err := Decode(script)
		if err != nil {
			t.Fatalf("Decode(timelock=%d): %v", tl, err)
		}
		if got.Timelock != tl {
			t.Errorf("timelock round trip = %d, want %d", got.Timelock, tl)
		}
	}
}

func TestEncode_TimelockTooLargeForWidth(t *testing.T) {
	c := testContract()
	c.Timelock = 1 << 40 // needs 6 bytes, width is fixed at 5
	if _, err := Encode(c); err == nil {
		t.Error("expected error encoding a timelock too large for the fixed push width")
	}
}
