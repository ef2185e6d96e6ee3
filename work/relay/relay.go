package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"xtream-proxy/work/buffer"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
	"xtream-proxy/work/token"
	"xtream-proxy/work/utils"
)

// flushInterval is the maximum time buffered stream data may sit before
// being pushed to the client. Live streams stall without periodic flushes.
const flushInterval = 5 * time.Second

// Serve copies the upstream stream to the client in fixed-size chunks,
// flushing at least every five seconds. The access is always closed before
// returning, which releases the streaming slot. A client disconnect ends the
// relay quietly; only upstream read failures are logged.
func Serve(w http.ResponseWriter, r *http.Request, access *token.StreamAccess, pool *buffer.Pool) {
	defer access.Close()

	w.Header().Set("Content-Type", access.ContentType)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Xtream-Proxy", "true")
	if access.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(access.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := pool.Get()
	defer pool.Put(buf)
	chunk := buf.B

	ctx := r.Context()
	var relayed int64
	lastFlush := time.Now()

	for {
		n, err := access.Body.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				// client went away mid-write
				break
			}
			relayed += int64(n)
			metrics.StreamBytesRelayed.Add(float64(n))

			if flusher != nil && time.Since(lastFlush) >= flushInterval {
				flusher.Flush()
				lastFlush = time.Now()
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				logger.Warn("{relay - Serve} Upstream read failed after %s: %v",
					utils.FormatBytes(relayed), err)
			}
			break
		}
	}

	if flusher != nil {
		flusher.Flush()
	}

	logger.Debug("{relay - Serve} Relayed %s to client", utils.FormatBytes(relayed))
}
