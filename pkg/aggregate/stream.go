package aggregate

import (
	"context"

	"github.com/daviddao/phaselock/pkg/model"
)

// Stream refines samples as they arrive, in arrival order, and emits one
// reading per sample. The output closes when samples closes or ctx ends.
func Stream(ctx context.Context, sourceID int, samples <-chan model.RawSample) <-chan model.TimeReading {
	out := make(chan model.TimeReading)
	go func() {
		defer close(out)
		h := NewHistory(sourceID)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-samples:
				if !ok {
					return
				}
				r := h.Add(s)
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
