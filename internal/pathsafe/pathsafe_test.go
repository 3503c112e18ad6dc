package pathsafe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinSimple(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if !Within(sub, dir) {
		t.Fatalf("expected %q within %q", sub, dir)
	}
}

func TestWithinRejectsSiblingWithSamePrefix(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "claude")
	evil := filepath.Join(dir, "claude-malicious")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(evil, 0o755); err != nil {
		t.Fatal(err)
	}
	if Within(evil, base) {
		t.Fatalf("%q must not be considered within %q", evil, base)
	}
}

func TestWithinEqualPaths(t *testing.T) {
	dir := t.TempDir()
	if !Within(dir, dir) {
		t.Fatalf("a directory must be within itself")
	}
}

func TestWithinSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "allowed")
	outside := filepath.Join(dir, "outside")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}
	if Within(link, base) {
		t.Fatalf("symlink escaping %q must not resolve as within it", base)
	}
}

func TestWithinAny(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	os.MkdirAll(a, 0o755)
	os.MkdirAll(b, 0o755)
	target := filepath.Join(b, "f.txt")
	if !WithinAny(target, []string{a, b}) {
		t.Fatalf("expected %q within one of [%q, %q]", target, a, b)
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	if _, ok := Normalize(""); ok {
		t.Fatalf("empty path must not normalize")
	}
}

func TestNormalizeRejectsRelative(t *testing.T) {
	if _, ok := Normalize("relative/path"); ok {
		t.Fatalf("relative path must not normalize")
	}
	if _, ok := Normalize("./here"); ok {
		t.Fatalf("relative path must not normalize")
	}
}

func TestWithinNonexistentTail(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "projects")
	os.MkdirAll(base, 0o755)
	notYetCreated := filepath.Join(base, "session-123", "transcript.jsonl")
	if !Within(notYetCreated, base) {
		t.Fatalf("expected not-yet-created path %q within %q", notYetCreated, base)
	}
}
