package repository

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
)

func TestBoard_BasicOperations(t *testing.T) {
	b := NewBoard()
	if b.Len() != 0 {
		t.Fatalf("expected empty board, got %d", b.Len())
	}

	b.Upsert("flood", 7.5)
	b.Upsert("pothole", 3.0)
	b.Upsert("graffiti", 1.0)

	top, err := b.TopN(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"flood", "pothole", "graffiti"}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(top))
	}
	for i, id := range want {
		if top[i].IssueID != id || top[i].Rank != i+1 {
			t.Errorf("position %d: got %+v, want %s at rank %d", i, top[i], id, i+1)
		}
	}

	e, err := b.Rank("pothole")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Rank != 2 || e.Priority != 3.0 {
		t.Errorf("unexpected rank entry %+v", e)
	}
}

func TestBoard_UpsertMoves(t *testing.T) {
	b := NewBoard()
	b.Upsert("a", 1)
	b.Upsert("b", 2)
	b.Upsert("a", 5)
	b.Upsert("b", 2)

	if b.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", b.Len())
	}
	top, _ := b.TopN(1)
	if top[0].IssueID != "a" || top[0].Priority != 5 {
		t.Errorf("expected a on top after raise, got %+v", top[0])
	}

	b.Upsert("a", -1)
	if e, _ := b.Rank("a"); e.Rank != 2 {
		t.Errorf("expected a to drop to rank 2, got %d", e.Rank)
	}
}

func TestBoard_TieBreaking(t *testing.T) {
	b := NewBoard()
	for _, id := range []string{"c", "a", "b"} {
		b.Upsert(id, 4.2)
	}
	top, _ := b.TopN(3)
	for i, id := range []string{"a", "b", "c"} {
		if top[i].IssueID != id {
			t.Errorf("tie order at %d: got %s, want %s", i, top[i].IssueID, id)
		}
	}
}

func TestBoard_RemoveAndErrors(t *testing.T) {
	b := NewBoard()
	b.Upsert("a", 1)
	if !b.Remove("a") {
		t.Fatal("expected remove to report presence")
	}
	if b.Remove("a") {
		t.Error("second remove should report absence")
	}
	if _, err := b.Rank("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := b.TopN(0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	top, err := b.TopN(5)
	if err != nil || len(top) != 0 {
		t.Errorf("expected empty top, got %v %v", top, err)
	}
}

func TestBoard_MatchesSortedOrder(t *testing.T) {
	b := NewBoard()
	r := rand.New(rand.NewPCG(1, 2))
	want := map[string]float64{}
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("issue-%04d", r.IntN(500))
		if r.IntN(10) == 0 {
			b.Remove(id)
			delete(want, id)
			continue
		}
		p := float64(r.IntN(50)) / 4
		b.Upsert(id, p)
		want[id] = p
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if want[ids[i]] != want[ids[j]] {
			return want[ids[i]] > want[ids[j]]
		}
		return ids[i] < ids[j]
	})

	top, err := b.TopN(len(ids) + 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(top))
	}
	for i, id := range ids {
		if top[i].IssueID != id {
			t.Fatalf("position %d: got %s, want %s", i, top[i].IssueID, id)
		}
		e, err := b.Rank(id)
		if err != nil || e.Rank != i+1 {
			t.Fatalf("rank of %s: got %d (%v), want %d", id, e.Rank, err, i+1)
		}
	}
}

func TestBoard_ConcurrentAccess(t *testing.T) {
	b := NewBoard()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Upsert(fmt.Sprintf("g%d-%d", g, i%50), float64(i))
				if _, err := b.TopN(10); err != nil {
					t.Errorf("top: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	if b.Len() != 400 {
		t.Errorf("expected 400 entries, got %d", b.Len())
	}
}

func BenchmarkBoard_Upsert(b *testing.B) {
	board := NewBoard()
	ids := make([]string, 10000)
	for i := range ids {
		ids[i] = fmt.Sprintf("issue-%d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		board.Upsert(ids[i%len(ids)], float64(i%997)/10)
	}
}

func BenchmarkBoard_TopN(b *testing.B) {
	board := NewBoard()
	for i := 0; i < 100000; i++ {
		board.Upsert(fmt.Sprintf("issue-%d", i), float64(i%997)/10)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := board.TopN(100); err != nil {
			b.Fatal(err)
		}
	}
}
