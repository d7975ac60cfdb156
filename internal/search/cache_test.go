package search

import (
	"testing"
	"time"
)

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", []Result{{ChunkID: "c1"}})

	if got, ok := c.Get("k"); !ok || got[0].ChunkID != "c1" {
		t.Fatalf("fresh entry missing: %v %v", got, ok)
	}

	now = now.Add(61 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestCachePutReplacesAndSweeps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Put("old", []Result{{ChunkID: "stale"}})
	c.Put("k", []Result{{ChunkID: "v1"}})

	// Replacement is wholesale.
	c.Put("k", []Result{{ChunkID: "v2"}, {ChunkID: "v3"}})
	got, ok := c.Get("k")
	if !ok || len(got) != 2 || got[0].ChunkID != "v2" {
		t.Errorf("replaced entry = %v, %v", got, ok)
	}

	// A write after expiry sweeps dead entries.
	now = now.Add(2 * time.Minute)
	c.Put("fresh", []Result{{ChunkID: "new"}})
	if c.Len() != 1 {
		t.Errorf("sweep left %d entries, want 1", c.Len())
	}
}

func TestMinMaxNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, nil},
		{"single", []float64{0.4}, []float64{1.0}},
		{"constant", []float64{0.5, 0.5, 0.5}, []float64{1.0, 1.0, 1.0}},
		{"spread", []float64{0.1, 0.5, 0.9}, []float64{0.0, 0.5, 1.0}},
		{"negative", []float64{-1, 0, 1}, []float64{0.0, 0.5, 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := minMaxNormalize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
