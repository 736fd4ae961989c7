package valueindex

import (
	"net"
	"testing"

	"github.com/vastdb/vast/value"
	"github.com/vastdb/vast/vtype"
)

func TestEqualAndNotEqual(t *testing.T) {
	ix := New(vtype.New(vtype.String))
	ix.Append([]value.Data{value.OfString("tcp"), value.OfString("udp"), value.OfString("tcp")}, 0)

	got, err := ix.Lookup(vtype.Equal, value.OfString("tcp"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Count() != 2 || !got.Contains(0) || !got.Contains(2) {
		t.Fatalf("unexpected equal result: %v", got.ToSlice())
	}

	neq, err := ix.Lookup(vtype.NotEqual, value.OfString("tcp"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if neq.Count() != 1 || !neq.Contains(1) {
		t.Fatalf("unexpected not-equal result: %v", neq.ToSlice())
	}
}

func TestRelationalLookup(t *testing.T) {
	ix := New(vtype.New(vtype.Int))
	ix.Append([]value.Data{value.OfInt(1), value.OfInt(5), value.OfInt(10)}, 100)

	got, err := ix.Lookup(vtype.Greater, value.OfInt(4))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Count() != 2 || !got.Contains(101) || !got.Contains(102) {
		t.Fatalf("unexpected > result: %v", got.ToSlice())
	}
}

func TestMatchLookup(t *testing.T) {
	ix := New(vtype.New(vtype.String))
	ix.Append([]value.Data{value.OfString("foo.com"), value.OfString("bar.net")}, 0)

	got, err := ix.Lookup(vtype.Match, value.OfPattern("^foo"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Count() != 1 || !got.Contains(0) {
		t.Fatalf("unexpected match result: %v", got.ToSlice())
	}
}

func TestSubnetMembership(t *testing.T) {
	ix := New(vtype.New(vtype.Address))
	ix.Append([]value.Data{
		value.OfAddress(net.ParseIP("10.0.0.5")),
		value.OfAddress(net.ParseIP("192.168.1.1")),
	}, 0)

	_, subnet, err := net.ParseCIDR("10.0.0.0/24")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	got, err := ix.Lookup(vtype.In, value.OfSubnet(*subnet))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Count() != 1 || !got.Contains(0) {
		t.Fatalf("unexpected subnet membership result: %v", got.ToSlice())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	ix := New(vtype.New(vtype.Uint))
	ix.Append([]value.Data{value.OfUint(1), value.OfUint(2), value.OfUint(1)}, 0)

	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got, err := restored.Lookup(vtype.Equal, value.OfUint(1))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Count() != 2 {
		t.Fatalf("expected 2 rows after round trip, got %d", got.Count())
	}
}
