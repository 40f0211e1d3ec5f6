package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/events"
	"animehub/pkg/models"
)

func TestPrepareKeepsFirstAndFillsBuckets(t *testing.T) {
	score := 8.8
	eps := 26
	recs := []models.BucketedRecord{
		{Record: models.Record{ID: 1, Title: "Cowboy Bebop", Score: &score, Episodes: &eps, FavoriteCount: 80000}},
		{Record: models.Record{ID: 1, Title: "Cowboy Bebop (again)"}},
		{Record: models.Record{ID: 2, Title: "Kept"}, RatingCategory: "Good", EpisodeRange: "Short", Popularity: "Niche"},
	}

	out := prepare(recs)
	require.Len(t, out, 2)
	assert.Equal(t, "Cowboy Bebop", out[0].Title)
	assert.Equal(t, "Masterpiece", out[0].RatingCategory)
	assert.Equal(t, "Long Series", out[0].EpisodeRange)
	assert.Equal(t, "Popular", out[0].Popularity)
	assert.Equal(t, "Good", out[1].RatingCategory)
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestWatchPrintsFeed(t *testing.T) {
	hub := events.NewHub()
	srv := events.NewServer("127.0.0.1:0", hub)
	addr, err := srv.Listen()
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- watch(ctx, addr.String(), false, out) }()

	require.Eventually(t, func() bool { return hub.Stats().TCPClients == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.BroadcastJSON(map[string]string{"type": "run.stage", "stage": "loading"})
	require.Eventually(t, func() bool { return strings.Contains(out.String(), `"stage":"loading"`) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	assert.Contains(t, out.String(), `"transport":"tcp"`)
}
