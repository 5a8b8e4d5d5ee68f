package audio

import "context"

// ReadBlocks drives a blocking capture stream. read fills the next block and
// deliver hands it to the pipeline before the next read. Read errors for
// which skip reports true are dropped.
//
// It returns nil once ctx is cancelled, including when a read fails because
// the stream was stopped underneath it, and otherwise the first read error
// that is not skipped.
func ReadBlocks(ctx context.Context, read func() error, skip func(error) bool, deliver func()) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if skip != nil && skip(err) {
				continue
			}
			return err
		}
		deliver()
	}
}
