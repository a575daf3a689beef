package reader

import "context"

// Noop implements TagReader but never reports a tag.
// Used when no reader is configured (e.g. selftest-only deployments).
type Noop struct{}

// Read implements TagReader.Read.
func (n *Noop) Read(ctx context.Context) (*Sighting, error) {
	return nil, ctx.Err()
}

// Close implements TagReader.Close.
func (n *Noop) Close() error {
	return nil
}
