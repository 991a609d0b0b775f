package ids

import "testing"

func TestNewIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", id, prev)
		}
		prev = id
	}
}

func TestNonceDiffers(t *testing.T) {
	if Nonce() == Nonce() {
		t.Fatal("expected distinct nonces")
	}
}
