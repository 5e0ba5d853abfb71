package probe

import (
	"context"

	"github.com/daviddao/phaselock/pkg/model"
)

// Loader restores the persisted offset as a reading, Empty when invalid.
type Loader interface {
	Load(sourceID int) model.TimeReading
}

// Cached is the persisted-cache probe. It is one-shot: Readings emits a
// single Saved or Empty reading and closes.
type Cached struct {
	loader   Loader
	sourceID int
}

func NewCached(l Loader) *Cached {
	return &Cached{loader: l, sourceID: SourceCache}
}

func (c *Cached) Readings(ctx context.Context) <-chan model.TimeReading {
	out := make(chan model.TimeReading, 1)
	out <- c.loader.Load(c.sourceID)
	close(out)
	return out
}
