package pool

import (
	"net"
	"testing"
)

func pipePairs(t *testing.T, n int) []net.Conn {
	t.Helper()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		c1, c2 := net.Pipe()
		t.Cleanup(func() { c1.Close(); c2.Close() })
		conns = append(conns, c1)
	}
	return conns
}

func TestPushPopRandomEmptiesPool(t *testing.T) {
	p := New()
	conns := pipePairs(t, 3)
	for _, c := range conns {
		p.Push(c)
	}
	if got := p.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	seen := make(map[net.Conn]bool)
	for i := 0; i < 3; i++ {
		c, ok := p.PopRandom()
		if !ok {
			t.Fatalf("PopRandom() ok=false on iteration %d", i)
		}
		if seen[c] {
			t.Fatalf("PopRandom() returned %v twice", c)
		}
		seen[c] = true
	}
	if p.Len() != 0 {
		t.Fatalf("Len() after draining = %d, want 0", p.Len())
	}
	if _, ok := p.PopRandom(); ok {
		t.Fatal("PopRandom() on empty pool returned ok=true")
	}
}

func TestRemoveDecrementsByExactlyOne(t *testing.T) {
	p := New()
	conns := pipePairs(t, 4)
	for _, c := range conns {
		p.Push(c)
	}

	if !p.Remove(conns[2]) {
		t.Fatal("Remove() of pooled conn returned false")
	}
	if got := p.Len(); got != 3 {
		t.Fatalf("Len() after Remove = %d, want 3", got)
	}
	if p.Remove(conns[2]) {
		t.Fatal("Remove() of already-removed conn returned true")
	}

	for _, c := range conns {
		if c == conns[2] {
			continue
		}
		if !p.Remove(c) {
			t.Fatalf("expected %v still present", c)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after removing all survivors", p.Len())
	}
}

func TestPushIsIdempotent(t *testing.T) {
	p := New()
	c, _ := net.Pipe()
	t.Cleanup(func() { c.Close() })

	p.Push(c)
	p.Push(c)
	if got := p.Len(); got != 1 {
		t.Fatalf("Len() after double Push = %d, want 1", got)
	}
}

func TestPopRandomDistribution(t *testing.T) {
	const trials = 3000
	counts := make(map[int]int)

	for i := 0; i < trials; i++ {
		p := New()
		conns := pipePairs(t, 3)
		for idx, c := range conns {
			p.Push(c)
			_ = idx
		}
		c, ok := p.PopRandom()
		if !ok {
			t.Fatal("PopRandom() ok=false")
		}
		for idx, orig := range conns {
			if orig == c {
				counts[idx]++
			}
		}
	}

	for idx, n := range counts {
		frac := float64(n) / float64(trials)
		if frac < 0.23 || frac > 0.43 {
			t.Fatalf("producer %d selected %.1f%% of trials, want ~33%%", idx, frac*100)
		}
	}
}
