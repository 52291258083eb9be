package common

import (
	"bytes"
	"testing"
)

func TestTableKeyRoundTrip(t *testing.T) {
	cases := []struct {
		table string
		key   []byte
	}{
		{"users", []byte("1")},
		{"t", []byte{}},
		{"orders", []byte{0x00, 0xff, 0x10}},
		{"", []byte("keyed")},
	}
	for _, tc := range cases {
		ck := EncodeTableKey(tc.table, tc.key)
		table, key, err := DecodeTableKey(ck)
		if err != nil {
			t.Fatalf("decode %q/%v: %v", tc.table, tc.key, err)
		}
		if table != tc.table || !bytes.Equal(key, tc.key) {
			t.Fatalf("round trip: got %q/%v, want %q/%v", table, key, tc.table, tc.key)
		}
	}
}

func TestTableKeyOrderingGroupsTables(t *testing.T) {
	// All keys of one table must sort inside that table's prefix
	// range, regardless of key bytes.
	a := EncodeTableKey("aa", []byte{0xff, 0xff})
	b := EncodeTableKey("ab", []byte{0x00})
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("table grouping broken: %v >= %v", a, b)
	}

	prefix := TablePrefix("aa")
	end := PrefixEnd(prefix)
	if !bytes.HasPrefix(a, prefix) {
		t.Fatal("composite key lost its prefix")
	}
	if bytes.Compare(a, end) >= 0 {
		t.Fatal("key sorts past its table's prefix end")
	}
	if bytes.Compare(b, end) < 0 {
		t.Fatal("neighbor table sorts inside the prefix range")
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := PrefixEnd([]byte{0x01, 0x02}); !bytes.Equal(got, []byte{0x01, 0x03}) {
		t.Fatalf("prefix end: %v", got)
	}
	if got := PrefixEnd([]byte{0x01, 0xff}); !bytes.Equal(got, []byte{0x02}) {
		t.Fatalf("prefix end with carry: %v", got)
	}
	if got := PrefixEnd([]byte{0xff, 0xff}); got != nil {
		t.Fatalf("all-ff prefix end must be nil, got %v", got)
	}
}

func TestDecodeTableKeyMalformed(t *testing.T) {
	if _, _, err := DecodeTableKey([]byte{0x20, 'x'}); err == nil {
		t.Fatal("short composite key must fail to decode")
	}
}
