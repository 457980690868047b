// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/assetsentry/assetsentry/internal/metrics"
)

// streamChunkSize is the copy buffer size. It doubles as the rate
// limiter reservation unit, so it must stay below any configured burst.
const streamChunkSize = 64 * 1024

// Streamer copies asset content to clients, optionally throttled to a
// fixed bytes-per-second budget shared across all downloads.
type Streamer struct {
	limiter *rate.Limiter
}

// NewStreamer creates a streamer. bytesPerSecond <= 0 disables
// throttling.
func NewStreamer(bytesPerSecond int64) *Streamer {
	s := &Streamer{}
	if bytesPerSecond > 0 {
		burst := int(bytesPerSecond)
		if burst < streamChunkSize {
			burst = streamChunkSize
		}
		s.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
	return s
}

// Stream copies the asset file to w. The copy aborts as soon as ctx is
// cancelled, so a dropped client connection stops consuming disk and
// bandwidth immediately.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, asset *Asset) (int64, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return 0, fmt.Errorf("opening asset %s: %w", asset.ID, err)
	}
	defer f.Close()

	start := time.Now()
	metrics.DownloadsInFlight.Inc()
	defer metrics.DownloadsInFlight.Dec()

	written, err := s.copy(ctx, w, f)

	metrics.RecordDownload(written, time.Since(start))
	return written, err
}

func (s *Streamer) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, streamChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if s.limiter != nil {
				if err := s.limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, fmt.Errorf("writing asset chunk: %w", werr)
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("reading asset chunk: %w", rerr)
		}
	}
}
