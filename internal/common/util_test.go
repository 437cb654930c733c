package common

import (
	"encoding/hex"
	"strings"
	"testing"
)

// ---------- MakeRandHexString ----------

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

// ---------- MakeInvitationCode ----------

func TestMakeInvitationCode_FixedLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := MakeInvitationCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != InvitationCodeLength {
			t.Fatalf("expected length %d, got %q", InvitationCodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(InvitationCodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}

func TestMakeInvitationCode_NoAmbiguousCharacters(t *testing.T) {
	for _, c := range "0O1I" {
		if strings.ContainsRune(InvitationCodeAlphabet, c) {
			t.Fatalf("alphabet must not contain ambiguous character %q", c)
		}
	}
}

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if buf == nil {
		t.Fatalf("expected non-nil slice")
	}
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}
