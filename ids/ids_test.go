package ids

import "testing"

func TestAppendBitsAndRank(t *testing.T) {
	b := New()
	b.AppendBits(false, 5) // rows 0..4 absent
	b.AppendBits(true, 3)  // rows 5,6,7 present

	if got, want := b.Len(), uint64(8); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := b.Count(), uint64(3); got != want {
		t.Fatalf("Count() = %d, want %d", got, want)
	}
	for _, id := range []ID{5, 6, 7} {
		if !b.Contains(id) {
			t.Fatalf("expected bitmap to contain %d", id)
		}
	}
	for _, id := range []ID{0, 1, 2, 3, 4} {
		if b.Contains(id) {
			t.Fatalf("expected bitmap to NOT contain %d", id)
		}
	}
	if got, want := b.Rank(7), uint64(3); got != want {
		t.Fatalf("Rank(7) = %d, want %d", got, want)
	}
}

func TestUnionIntersectDifference(t *testing.T) {
	a := FromSorted(1, 2, 3)
	b := FromSorted(2, 3, 4)

	u := Union(a, b)
	if got, want := u.Count(), uint64(4); got != want {
		t.Fatalf("Union count = %d, want %d", got, want)
	}

	i := Intersect(a, b)
	if got, want := i.Count(), uint64(2); got != want {
		t.Fatalf("Intersect count = %d, want %d", got, want)
	}
	if !i.Contains(2) || !i.Contains(3) {
		t.Fatalf("expected intersection to contain {2,3}")
	}

	d := Difference(a, b)
	if got, want := d.Count(), uint64(1); got != want {
		t.Fatalf("Difference count = %d, want %d", got, want)
	}
	if !d.Contains(1) {
		t.Fatalf("expected difference to contain {1}")
	}
}

func TestComplementAndSubset(t *testing.T) {
	a := FromSorted(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	erase := FromSorted(10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 50)

	if !IsSubset(erase, Union(a, erase)) {
		t.Fatalf("expected erase to be a subset of its own union with a")
	}
	if IsSubset(a, erase) {
		t.Fatalf("did not expect a to be a subset of an unrelated set")
	}

	comp := Complement(FromSorted(1, 3), 4)
	if comp.Count() != 2 || !comp.Contains(0) || !comp.Contains(2) {
		t.Fatalf("unexpected complement: %v", comp.ToSlice())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	a := FromSorted(5, 100, 1000, Invalid-1)
	data, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	b := New()
	if err := b.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if b.Count() != a.Count() {
		t.Fatalf("round trip count mismatch: got %d want %d", b.Count(), a.Count())
	}
	for _, id := range a.ToSlice() {
		if !b.Contains(id) {
			t.Fatalf("round trip missing id %d", id)
		}
	}
}
