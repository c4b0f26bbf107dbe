package security

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewTestHasher()
	hash, err := h.Hash([]byte("secret123"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=2$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	if err := h.Compare(hash, []byte("secret123")); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_SaltsDiffer(t *testing.T) {
	h := NewTestHasher()
	a, _ := h.Hash([]byte("same"))
	b, _ := h.Hash([]byte("same"))
	if a == b {
		t.Error("two hashes of the same password must differ")
	}
}

func TestHasher_CompareWrongPassword(t *testing.T) {
	h := NewTestHasher()
	hash, _ := h.Hash([]byte("secret123"))
	if err := h.Compare(hash, []byte("wrong")); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("want ErrPasswordMismatch, got %v", err)
	}
}

func TestHasher_LegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := NewTestHasher()
	if err := h.Compare(string(legacy), []byte("old-pass")); err != nil {
		t.Fatalf("Compare bcrypt: %v", err)
	}
	if err := h.Compare(string(legacy), []byte("nope")); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("want ErrPasswordMismatch, got %v", err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Error("bcrypt hashes should need rehash")
	}
}

func TestHasher_UnsupportedFormats(t *testing.T) {
	h := NewTestHasher()
	for _, enc := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=64,t=1,p=2$c2FsdA$a2V5",
		"$argon2id$v=18$m=64,t=1,p=2$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=2$c2FsdA$a2V5",
		"$argon2id$v=19$m=64,t=1,p=2$!!!$a2V5",
	} {
		if err := h.Compare(enc, []byte("pw")); !errors.Is(err, ErrUnsupportedHash) {
			t.Errorf("Compare(%q): want ErrUnsupportedHash, got %v", enc, err)
		}
	}
}

func TestHasher_NeedsRehash(t *testing.T) {
	weak := NewHasher(64, 1)
	strong := NewHasher(128, 2)
	hash, _ := weak.Hash([]byte("pw"))
	if weak.NeedsRehash(hash) {
		t.Error("hash made with the same params should not need rehash")
	}
	if !strong.NeedsRehash(hash) {
		t.Error("hash with weaker params should need rehash")
	}
}

func TestNewHasher_Defaults(t *testing.T) {
	h := NewHasher(0, 0)
	if h.Params() != DefaultArgon2Params() {
		t.Errorf("params = %+v, want defaults", h.Params())
	}
	if got := NewHasher(1, 1).Params().Memory; got != 16 {
		t.Errorf("memory should clamp to 8 KiB per lane, got %d", got)
	}
}
