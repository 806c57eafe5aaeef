package eula

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcceptedMissingFile(t *testing.T) {
	accepted, err := Accepted(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted {
		t.Error("missing file reported as accepted")
	}
}

func TestAcceptRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := Accept(dir); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	accepted, err := Accepted(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Error("expected accepted after Accept")
	}

	if err := Decline(dir); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	accepted, err = Accepted(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted {
		t.Error("expected not accepted after Decline")
	}
}

func TestAcceptedParsesServerGeneratedFile(t *testing.T) {
	dir := t.TempDir()
	content := "#By changing the setting below to TRUE you are indicating your agreement to our EULA\n#Fri Aug 28 12:00:00 UTC 2026\neula=TRUE\n"
	if err := os.WriteFile(filepath.Join(dir, "eula.txt"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	accepted, err := Accepted(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Error("uppercase TRUE not accepted")
	}
}
