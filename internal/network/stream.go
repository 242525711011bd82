package network

import (
	"bufio"
	"fmt"
	"io"
)

// streamBufSize is the copy buffer size. Large enough to keep throughput up
// on lossless tracks without per-chunk progress spam.
const streamBufSize = 256 * 1024

// CopyWithProgress copies src into dst through a buffered writer, invoking
// onWrite with the cumulative byte count after each chunk. onWrite must be
// cheap; throttling of downstream progress events is the caller's job.
func CopyWithProgress(dst io.Writer, src io.Reader, onWrite func(written int64)) (int64, error) {
	w := bufio.NewWriterSize(dst, streamBufSize)
	buf := make([]byte, streamBufSize)

	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write to file: %w", werr)
			}
			written += int64(n)
			if onWrite != nil {
				onWrite(written)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// Flush what we have so a partial file stays resumable.
			w.Flush()
			return written, fmt.Errorf("error reading response: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("failed to flush buffer: %w", err)
	}
	return written, nil
}
