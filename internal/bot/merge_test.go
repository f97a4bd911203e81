package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xaenox/modmail-bot/internal/platform"
)

func TestMergeDrainsAllSources(t *testing.T) {
	a := make(chan platform.Event, 2)
	b := make(chan platform.Event, 1)
	a <- platform.Event{MessageID: "a1"}
	a <- platform.Event{MessageID: "a2"}
	b <- platform.Event{MessageID: "b1"}
	close(a)
	close(b)

	var got []string
	for ev := range Merge(context.Background(), a, b) {
		got = append(got, ev.MessageID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, got)
}

func TestMergeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Merge(ctx, make(chan platform.Event))
	cancel()

	_, ok := <-out
	assert.False(t, ok)
}
