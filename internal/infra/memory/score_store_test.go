package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizzer/internal/domain"
)

func TestScoreStoreAccumulates(t *testing.T) {
	ctx := context.Background()
	store := NewScoreStore()
	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	if err := store.UpdateScore(ctx, "alice", 3, t1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateScore(ctx, "alice", 1, t2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateScore(ctx, "bob", 2, t2); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := store.GetRecord(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := domain.ScoreRecord{Identity: "alice", TotalScore: 4, GamesPlayed: 2, HighestSingleGameScore: 3, LastPlayedAt: t2}
	if rec != want {
		t.Fatalf("expected %+v, got %+v", want, rec)
	}

	top, err := store.Top(ctx, 1)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 1 || top[0].Identity != "alice" {
		t.Fatalf("expected alice on top, got %+v", top)
	}

	if _, err := store.GetRecord(ctx, "carol"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
