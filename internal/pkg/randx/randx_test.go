package randx

import (
	"strings"
	"testing"
)

func TestConnectionIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id := ConnectionID()
		if !strings.HasPrefix(id, ConnectionIDPrefix) {
			t.Fatalf("expected prefix %q on %q", ConnectionIDPrefix, id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate connection id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("thumbnail", "user-1", ".PNG")
	if !strings.HasSuffix(key, ".png") {
		t.Fatalf("expected lower-case extension, got %q", key)
	}
	if !HasObjectPrefix(key, "thumbnail", "user-1") {
		t.Fatalf("expected %q to carry the owner prefix", key)
	}
	if HasObjectPrefix(key, "thumbnail", "user-2") {
		t.Fatalf("expected %q not to match another owner", key)
	}
}
