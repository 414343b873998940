package idgen

import (
	"testing"

	"github.com/objectfs/storage-gateway/pkg/types"
)

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("expected distinct ids")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	fp1 := Fingerprint("user-1", "cfg-1", "mount-1", "/a/b.txt", "b.txt", 1024)
	fp2 := Fingerprint("user-1", "cfg-1", "mount-1", "/a/b.txt", "b.txt", 1024)

	if fp1 != fp2 {
		t.Errorf("expected identical fingerprints, got %+v vs %+v", fp1, fp2)
	}
	if fp1.Algorithm != "sha256" {
		t.Errorf("expected sha256, got %s", fp1.Algorithm)
	}
}

func TestFingerprintDiffersOnFileSize(t *testing.T) {
	fp1 := Fingerprint("user-1", "cfg-1", "mount-1", "/a/b.txt", "b.txt", 1024)
	fp2 := Fingerprint("user-1", "cfg-1", "mount-1", "/a/b.txt", "b.txt", 2048)

	if fp1.Value == fp2.Value {
		t.Error("expected different fingerprints for different file sizes")
	}
}

func TestDedupeKeyCoalesces(t *testing.T) {
	k1 := DedupeKey("mount-1", "/a/b.txt", types.DirtyUpsert)
	k2 := DedupeKey("mount-1", "/a/b.txt", types.DirtyUpsert)
	k3 := DedupeKey("mount-1", "/a/b.txt", types.DirtyDelete)

	if k1 != k2 {
		t.Error("expected identical dedupe keys for identical input")
	}
	if k1 == k3 {
		t.Error("expected different dedupe keys for different ops")
	}
}
