package mic

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// FromFile streams a raw audio file into feed at real-time pace, one chunk
// per interval, until EOF or ctx is done. It returns the bytes pushed.
func FromFile(ctx context.Context, feed *Feed, path string, bytesPerSecond int, interval time.Duration) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	return FromReader(ctx, feed, f, bytesPerSecond, interval)
}

// FromReader is FromFile over any reader.
func FromReader(ctx context.Context, feed *Feed, r io.Reader, bytesPerSecond int, interval time.Duration) (int64, error) {
	chunkSize := int(float64(bytesPerSecond) * interval.Seconds())
	if chunkSize <= 0 {
		chunkSize = bytesPerSecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	chunk := make([]byte, chunkSize)
	var total int64
	for {
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			feed.Push(append([]byte(nil), chunk[:n]...))
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read audio: %w", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
}
