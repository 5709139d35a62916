package wsstream

import (
	"sync"
	"testing"
)

type cancelledTurns struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (c *cancelledTurns) cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = true
}

func (c *cancelledTurns) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[id]
}

func TestSendAudioDropsInterruptedTurn(t *testing.T) {
	turns := &cancelledTurns{ids: map[string]bool{"turn-old": true}}
	c := newConn(nil, 8)

	c.sendAudio([]byte{1}, "turn-old", turns.has)
	if len(c.out) != 0 {
		t.Fatalf("audio of an interrupted turn was queued")
	}

	c.sendAudio([]byte{2}, "turn-live", turns.has)
	c.sendAudio([]byte{3}, "", turns.has)
	if len(c.out) != 2 {
		t.Fatalf("expected 2 queued frames, got %d", len(c.out))
	}
	queued := <-c.out
	if queued.stale == nil || queued.stale() {
		t.Fatalf("live turn audio should still be sent")
	}

	// the caller barges in while the frame waits for the writer
	turns.cancel("turn-live")
	if !queued.stale() {
		t.Fatalf("queued audio not recognised as stale after the turn was cancelled")
	}
	if !c.write(queued) {
		t.Fatalf("dropping stale audio must not fail the connection")
	}
	if untagged := <-c.out; untagged.stale != nil {
		t.Fatalf("audio without a turn id has no staleness check")
	}
}
