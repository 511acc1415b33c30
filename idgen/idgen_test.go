package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestTime_Version(t *testing.T) {
	u, err := uuid.Parse(Time()())
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: got %d, want 7", u.Version())
	}
}

func TestTime_Sortable(t *testing.T) {
	gen := Time()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("%q not after %q", id, prev)
		}
		prev = id
	}
}

func TestDefaults_Prefixes(t *testing.T) {
	if id := Emission(); !strings.HasPrefix(id, "em_") || len(id) != len("em_")+36 {
		t.Errorf("emission id: got %q", id)
	}
	id := Call()
	if !strings.HasPrefix(id, "call_") {
		t.Fatalf("call id: got %q", id)
	}
	if u, err := uuid.Parse(strings.TrimPrefix(id, "call_")); err != nil || u.Version() != 4 {
		t.Errorf("call id %q: version %d, err %v", id, u.Version(), err)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := WithPrefix("e", Sequence(""))
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 || !seen["e1"] || !seen["e50"] {
		t.Fatalf("got %d unique IDs, want e1..e50", len(seen))
	}
}
