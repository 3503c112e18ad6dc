package changehash

import "testing"

func TestHashDeterministic(t *testing.T) {
	if Hash("hello") != Hash("hello") {
		t.Fatalf("hash must be deterministic")
	}
}

func TestHashDiffersOnDifferentInput(t *testing.T) {
	if Hash("hello") == Hash("world") {
		t.Fatalf("distinct inputs must not collide")
	}
}

func TestHashPartsAvoidsConcatenationAmbiguity(t *testing.T) {
	a := HashParts([]string{"ab", "c"})
	b := HashParts([]string{"a", "bc"})
	if a == b {
		t.Fatalf("HashParts must distinguish [ab,c] from [a,bc]")
	}
}

func TestHashPartsDeterministic(t *testing.T) {
	a := HashParts([]string{"x", "y", "z"})
	b := HashParts([]string{"x", "y", "z"})
	if a != b {
		t.Fatalf("HashParts must be deterministic")
	}
}

func TestHashPartsOrderMatters(t *testing.T) {
	a := HashParts([]string{"x", "y"})
	b := HashParts([]string{"y", "x"})
	if a == b {
		t.Fatalf("HashParts must be order-sensitive")
	}
}
