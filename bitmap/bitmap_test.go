package bitmap

import "testing"

func TestMarkClearTest(t *testing.T) {
	b := New(16)

	set, err := b.Test(3)
	if err != nil {
		t.Fatal(err)
	}
	if set {
		t.Fatal("expected bit 3 clear on a fresh bitmap")
	}

	if err := b.Mark(3); err != nil {
		t.Fatal(err)
	}
	set, err = b.Test(3)
	if err != nil {
		t.Fatal(err)
	}
	if !set {
		t.Fatal("expected bit 3 set after Mark")
	}

	if err := b.Clear(3); err != nil {
		t.Fatal(err)
	}
	set, _ = b.Test(3)
	if set {
		t.Fatal("expected bit 3 clear after Clear")
	}
}

func TestOutOfRange(t *testing.T) {
	b := New(8)
	if _, err := b.Test(8); err == nil {
		t.Fatal("expected OutOfRange for index == n")
	}
	if err := b.Mark(-1); err == nil {
		t.Fatal("expected OutOfRange for negative index")
	}
}

func TestFindMarksAndSkipsUsedBits(t *testing.T) {
	b := New(4)
	for i := 0; i < 4; i++ {
		_ = b.Mark(i)
	}
	if _, ok := b.Find(); ok {
		t.Fatal("expected Find to fail on a fully-set bitmap")
	}

	b = New(4)
	_ = b.Mark(0)
	idx, ok := b.Find()
	if !ok || idx != 1 {
		t.Fatalf("expected Find to return 1, got (%d, %v)", idx, ok)
	}
	set, _ := b.Test(1)
	if !set {
		t.Fatal("expected Find to mark the bit it returns")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b := New(20)
	_ = b.Mark(0)
	_ = b.Mark(19)

	restored := FromBytes(20, b.Bytes())
	for _, i := range []int{0, 19} {
		set, err := restored.Test(i)
		if err != nil || !set {
			t.Fatalf("expected bit %d set after FromBytes round trip", i)
		}
	}
	set, _ := restored.Test(5)
	if set {
		t.Fatal("expected untouched bit 5 clear after round trip")
	}
}

func TestNumClear(t *testing.T) {
	b := New(8)
	if n := b.NumClear(); n != 8 {
		t.Fatalf("expected 8 clear bits, got %d", n)
	}
	_ = b.Mark(0)
	_ = b.Mark(1)
	if n := b.NumClear(); n != 6 {
		t.Fatalf("expected 6 clear bits, got %d", n)
	}
}
