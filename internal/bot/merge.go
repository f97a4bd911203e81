package bot

import (
	"context"
	"sync"

	"github.com/xaenox/modmail-bot/internal/platform"
)

// Merge forwards events from every source into one stream. The stream is
// closed once ctx ends or all sources are closed.
func Merge(ctx context.Context, sources ...<-chan platform.Event) <-chan platform.Event {
	out := make(chan platform.Event)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan platform.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-src:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
