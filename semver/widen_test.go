package semver

import "testing"

func TestWidenToAllowReturnsUnchangedWhenAlreadyAllowed(t *testing.T) {
	c, _ := ParseConstraint("^1.2.0")
	widened := c.WidenToAllow(MustParse("1.5.0"))
	if widened.String() != c.String() {
		t.Fatalf("expected unchanged constraint, got %s", widened)
	}
}

func TestWidenToAllowExpandsUpperBoundAndCollapsesToCaret(t *testing.T) {
	c := FromRange(NewRange(MustParse("1.2.0"), true, true, MustParse("1.5.0"), false, true))
	widened := c.WidenToAllow(MustParse("1.9.0"))
	// [1.2.0, 1.5.0) must grow to admit 1.9.0; 1.9.0 shares 1.2.0's major
	// tick, so the widened window is exactly compatibleWith(1.2.0).
	want := CompatibleWith(MustParse("1.2.0"))
	if widened.String() != want.String() {
		t.Fatalf("expected collapse to %s, got %s", want, widened)
	}
}

func TestWidenToAllowExpandsUpperBoundPastMajor(t *testing.T) {
	c, _ := ParseConstraint("^1.2.0")
	v := MustParse("2.3.0")
	widened := c.WidenToAllow(v)
	if !widened.Allows(v) {
		t.Fatalf("expected widened constraint %s to allow %s", widened, v)
	}
	if !widened.Allows(MustParse("1.2.0")) {
		t.Fatalf("expected widened constraint %s to still allow the original min", widened)
	}
	if widened.Allows(MustParse("3.0.0")) {
		t.Fatalf("expected widened constraint %s to stop at v's next breaking version", widened)
	}
}

func TestWidenToAllowExpandsLowerBound(t *testing.T) {
	c := FromRange(NewRange(MustParse("1.0.0"), true, true, MustParse("1.5.0"), false, true))
	v := MustParse("0.9.0")
	widened := c.WidenToAllow(v)
	if !widened.Allows(v) {
		t.Fatalf("expected widened constraint %s to allow %s", widened, v)
	}
	if !widened.Allows(MustParse("1.4.0")) {
		t.Fatalf("expected widened constraint %s to still allow the original range", widened)
	}
}

func TestWidenToAllowAnyAndEmpty(t *testing.T) {
	if Any().WidenToAllow(MustParse("1.0.0")).String() != "any" {
		t.Fatal("expected any to remain any")
	}
	widened := Empty().WidenToAllow(MustParse("1.0.0"))
	if !widened.Allows(MustParse("1.0.0")) {
		t.Fatalf("expected empty to widen into a range allowing v, got %s", widened)
	}
}

func TestWithoutUpperBoundRemovesMax(t *testing.T) {
	c, _ := ParseConstraint("^1.2.0")
	stripped := c.WithoutUpperBound()
	if !stripped.Allows(MustParse("999.0.0")) {
		t.Fatalf("expected %s to allow arbitrarily high versions", stripped)
	}
	if stripped.Allows(MustParse("1.1.0")) {
		t.Fatalf("expected %s to still respect the original floor", stripped)
	}
}

func TestAtLeastAllowsFromVOnward(t *testing.T) {
	c := AtLeast(MustParse("2.0.0"))
	if c.Allows(MustParse("1.9.9")) {
		t.Fatal("expected AtLeast to exclude versions below v")
	}
	if !c.Allows(MustParse("2.0.0")) || !c.Allows(MustParse("50.0.0")) {
		t.Fatal("expected AtLeast to allow v and everything above")
	}
}
