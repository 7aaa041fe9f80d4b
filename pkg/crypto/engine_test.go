package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	e, err := NewEngine(key)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := testEngine(t)
	ad := AssociatedData("photos", "2024/cat.jpg")

	for _, plaintext := range [][]byte{nil, []byte("x"), bytes.Repeat([]byte("payload"), 1000)} {
		blob, err := e.Encrypt(plaintext, ad)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(blob) != 24+len(plaintext)+16 {
			t.Errorf("blob length %d, want %d", len(blob), 24+len(plaintext)+16)
		}
		got, err := e.Decrypt(blob, ad)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip mismatch: %d bytes in, %d out", len(plaintext), len(got))
		}
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	e := testEngine(t)
	ad := AssociatedData("docs", "report.pdf")
	blob, err := e.Encrypt([]byte("sensitive"), ad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for _, i := range []int{0, 24, len(blob) - 1} {
		mutated := append([]byte(nil), blob...)
		mutated[i] ^= 0x01
		if _, err := e.Decrypt(mutated, ad); !errors.Is(err, ErrDecrypt) {
			t.Errorf("flip byte %d: got %v, want ErrDecrypt", i, err)
		}
	}
}

func TestDecryptRejectsRelocatedBlob(t *testing.T) {
	e := testEngine(t)
	blob, err := e.Encrypt([]byte("sensitive"), AssociatedData("docs", "report.pdf"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := e.Decrypt(blob, AssociatedData("docs", "other.pdf")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong key binding: got %v, want ErrDecrypt", err)
	}
	if _, err := e.Decrypt(blob, AssociatedData("other", "report.pdf")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong bucket binding: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	e := testEngine(t)
	ad := AssociatedData("docs", "report.pdf")
	blob, err := e.Encrypt([]byte("sensitive"), ad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	other, err := NewEngine(bytes.Repeat([]byte{0x43}, KeySize))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := other.Decrypt(blob, ad); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong key: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptShortBlob(t *testing.T) {
	e := testEngine(t)
	if _, err := e.Decrypt(make([]byte, 39), nil); !errors.Is(err, ErrCiphertext) {
		t.Errorf("short blob: got %v, want ErrCiphertext", err)
	}
}

func TestNewEngineKeySize(t *testing.T) {
	if _, err := NewEngine(make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("16-byte key: got %v, want ErrInvalidKeySize", err)
	}
}

func TestNonceUniqueness(t *testing.T) {
	e := testEngine(t)
	ad := AssociatedData("b01", "k")
	a, _ := e.Encrypt([]byte("same"), ad)
	b, _ := e.Encrypt([]byte("same"), ad)
	if bytes.Equal(a[:24], b[:24]) {
		t.Error("two encryptions reused a nonce")
	}
}
