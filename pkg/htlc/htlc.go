// Package htlc implements the compact 2-branch hashlock-or-timeout script
// used for atomic swaps, component I of spec.md §4.I. It does not evaluate
// general scripts — only this one fixed shape, mirroring how the rest of
// the consensus core treats scripts as typed, not Turing-complete.
package htlc

import (
	"errors"
	"fmt"
)

// Opcodes used by the conditional script. Values match the standard
// Bitcoin-family script opcode set so the encoded bytes are recognizable
// to any script-aware tooling, even though this package only ever
// builds/parses this one template.
const (
	opIf                  = 0x63
	opElse                = 0x67
	opEndIf               = 0x68
	opDrop                = 0x75
	opDup                 = 0x76
	opSize                = 0x82
	opEqualVerify         = 0x88
	opSha256              = 0xa8
	opHash160             = 0xa9
	opCheckLockTimeVerify = 0xb1
	opCheckSig            = 0xac
)

// Fixed push sizes the template requires.
const (
	HashlockSize = 32
	DestSize     = 20
	// TimelockPushSize is the width spec.md mandates for the CLTV operand:
	// a 5-byte CScriptNum, one byte wider than the usual 4-byte ScriptNum
	// so block heights and Unix timestamps both fit without truncation —
	// the same convention BIP65 CHECKLOCKTIMEVERIFY uses.
	TimelockPushSize = 5
)

var (
	ErrTrailingGarbage     = errors.New("htlc: trailing garbage after script")
	ErrMalformed           = errors.New("htlc: script does not match the hashlock-or-timeout template")
	ErrBadPushSize         = errors.New("htlc: wrong-sized data push")
	ErrNonPositiveTimelock = errors.New("htlc: timelock must be positive")
)

// Contract is the decoded form of the hashlock-or-timeout script.
type Contract struct {
	Hashlock [HashlockSize]byte
	Timelock int64
	DestA    [DestSize]byte // hashlock-branch recipient (HASH160 of pubkey)
	DestB    [DestSize]byte // timeout-branch (refund) recipient
}

// Encode serializes c into the script bytes:
//
//	IF
//	  SIZE 32 EQUALVERIFY
//	  SHA256 <hashlock> EQUALVERIFY
//	  DUP HASH160 <destA>
//	ELSE
//	  <timelock> CHECKLOCKTIMEVERIFY DROP
//	  DUP HASH160 <destB>
//	ENDIF
//	EQUALVERIFY CHECKSIG
func Encode(c Contract) ([]byte, error) {
	if c.Timelock <= 0 {
		return nil, ErrNonPositiveTimelock
	}
	tl, err := encodeScriptNum(c.Timelock, TimelockPushSize)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 96)
	buf = append(buf, opIf)
	buf = append(buf, opSize)
	buf = appendPush(buf, []byte{HashlockSize})
	buf = append(buf, opEqualVerify)
	buf = append(buf, opSha256)
	buf = appendPush(buf, c.Hashlock[:])
	buf = append(buf, opEqualVerify)
	buf = append(buf, opDup)
	buf = append(buf, opHash160)
	buf = appendPush(buf, c.DestA[:])
	buf = append(buf, opElse)
	buf = appendPush(buf, tl)
	buf = append(buf, opCheckLockTimeVerify)
	buf = append(buf, opDrop)
	buf = append(buf, opDup)
	buf = append(buf, opHash160)
	buf = appendPush(buf, c.DestB[:])
	buf = append(buf, opEndIf)
	buf = append(buf, opEqualVerify)
	buf = append(buf, opCheckSig)
	return buf, nil
}

// appendPush appends a direct data push: a single length byte (valid for
// the ≤75-byte pushes this template ever uses) followed by the data.
func appendPush(buf, data []byte) []byte {
	buf = append(buf, byte(len(data)))
	return append(buf, data...)
}

// cursor walks a script byte slice, tracking position for trailing-garbage
// and malformed-push detection.
type cursor struct {
	script []byte
	pos    int
}

func (c *cursor) op() (byte, error) {
	if c.pos >= len(c.script) {
		return 0, ErrMalformed
	}
	op := c.script[c.pos]
	c.pos++
	return op, nil
}

func (c *cursor) expectOp(want byte) error {
	op, err := c.op()
	if err != nil {
		return err
	}
	if op != want {
		return ErrMalformed
	}
	return nil
}

// push reads a direct push (length byte 1..75 followed by that many data
// bytes) and returns the data. Any other opcode, or a push that runs past
// the end of the script, is malformed.
func (c *cursor) push() ([]byte, error) {
	n, err := c.op()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > 75 {
		return nil, ErrMalformed
	}
	if c.pos+int(n) > len(c.script) {
		return nil, ErrMalformed
	}
	data := c.script[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return data, nil
}

func (c *cursor) pushExactly(size int) ([]byte, error) {
	data, err := c.push()
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, ErrBadPushSize
	}
	return data, nil
}

// Decode parses script and returns the Contract it encodes. It rejects
// trailing garbage, wrong-sized pushes (hashlock must be 32 bytes, dests 20
// bytes), and a non-positive timelock, per spec.md §4.I.
func Decode(script []byte) (Contract, error) {
	c := &cursor{script: script}
	var out Contract

	if err := c.expectOp(opIf); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opSize); err != nil {
		return Contract{}, err
	}
	sizePush, err := c.push()
	if err != nil {
		return Contract{}, err
	}
	if len(sizePush) != 1 || sizePush[0] != HashlockSize {
		return Contract{}, ErrMalformed
	}
	if err := c.expectOp(opEqualVerify); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opSha256); err != nil {
		return Contract{}, err
	}
	hashlock, err := c.pushExactly(HashlockSize)
	if err != nil {
		return Contract{}, err
	}
	copy(out.Hashlock[:], hashlock)
	if err := c.expectOp(opEqualVerify); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opDup); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opHash160); err != nil {
		return Contract{}, err
	}
	destA, err := c.pushExactly(DestSize)
	if err != nil {
		return Contract{}, err
	}
	copy(out.DestA[:], destA)

	if err := c.expectOp(opElse); err != nil {
		return Contract{}, err
	}
	tlPush, err := c.pushExactly(TimelockPushSize)
	if err != nil {
		return Contract{}, err
	}
	timelock := decodeScriptNum(tlPush)
	if timelock <= 0 {
		return Contract{}, ErrNonPositiveTimelock
	}
	out.Timelock = timelock
	if err := c.expectOp(opCheckLockTimeVerify); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opDrop); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opDup); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opHash160); err != nil {
		return Contract{}, err
	}
	destB, err := c.pushExactly(DestSize)
	if err != nil {
		return Contract{}, err
	}
	copy(out.DestB[:], destB)

	if err := c.expectOp(opEndIf); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opEqualVerify); err != nil {
		return Contract{}, err
	}
	if err := c.expectOp(opCheckSig); err != nil {
		return Contract{}, err
	}

	if c.pos != len(c.script) {
		return Contract{}, ErrTrailingGarbage
	}
	return out, nil
}

// encodeScriptNum encodes v as a little-endian CScriptNum padded to
// exactly width bytes. v must be positive (a timelock); the sign bit lives
// in the top bit of the last byte, so a value whose natural encoding would
// set it gets an extra zero byte before padding.
func encodeScriptNum(v int64, width int) ([]byte, error) {
	if v <= 0 {
		return nil, ErrNonPositiveTimelock
	}
	n := uint64(v)
	var b []byte
	for n > 0 {
		b = append(b, byte(n&0xff))
		n >>= 8
	}
	if len(b) == 0 {
		b = append(b, 0)
	}
	if b[len(b)-1]&0x80 != 0 {
		b = append(b, 0)
	}
	if len(b) > width {
		return nil, fmt.Errorf("htlc: timelock %d does not fit in %d bytes", v, width)
	}
	for len(b) < width {
		b = append(b, 0)
	}
	return b, nil
}

// decodeScriptNum decodes a little-endian CScriptNum, honoring the sign bit
// in the top bit of the final byte.
func decodeScriptNum(data []byte) int64 {
	if len(data) == 0 {
		return 0
	}
	var result int64
	for i, b := range data {
		result |= int64(b) << uint(8*i)
	}
	if data[len(data)-1]&0x80 != 0 {
		result &^= int64(0x80) << uint(8*(len(data)-1))
		return -result
	}
	return result
}
