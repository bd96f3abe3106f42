package util

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Stats holds traffic counters for one session. The zero value is ready to
// use and all methods are safe for concurrent use.
type Stats struct {
	BytesSent      atomic.Int64 // framed bytes written to the transport
	BytesRecv      atomic.Int64 // raw bytes read from the transport
	FramesSent     atomic.Int64
	FramesRecv     atomic.Int64
	FramesDropped  atomic.Int64 // inbound frames evicted by the overflow policy
	TransportFails atomic.Int64
}

func (s *Stats) AddSent(n int)      { s.BytesSent.Add(int64(n)); s.FramesSent.Inc() }
func (s *Stats) AddSentBytes(n int) { s.BytesSent.Add(int64(n)) }
func (s *Stats) AddRecv(n int)      { s.BytesRecv.Add(int64(n)) }
func (s *Stats) AddFrame()          { s.FramesRecv.Inc() }
func (s *Stats) AddTransportErr()   { s.TransportFails.Inc() }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	BytesSent      int64
	BytesRecv      int64
	FramesSent     int64
	FramesRecv     int64
	FramesDropped  int64
	TransportFails int64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:      s.BytesSent.Load(),
		BytesRecv:      s.BytesRecv.Load(),
		FramesSent:     s.FramesSent.Load(),
		FramesRecv:     s.FramesRecv.Load(),
		FramesDropped:  s.FramesDropped.Load(),
		TransportFails: s.TransportFails.Load(),
	}
}

// StartStatsReporter launches a goroutine that logs throughput for s every
// interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				out := float64(cur.BytesSent-prev.BytesSent) / secs
				in := float64(cur.BytesRecv-prev.BytesRecv) / secs
				tx := cur.FramesSent - prev.FramesSent
				rx := cur.FramesRecv - prev.FramesRecv

				if tx > 0 || rx > 0 || in > 10 || out > 10 {
					if cur.FramesSent == 0 && cur.FramesRecv == 0 {
						LogInfo("%s", formatRates(in, out))
					} else {
						LogInfo("%s", formatStats(in, out, rx, tx, cur.FramesDropped))
					}
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB"}

// formatBytes renders a byte rate in exactly 8 characters, e.g. " 1.5 KiB".
func formatBytes(b float64) string {
	unit := 0
	for b > 99 && unit < len(byteUnits)-1 {
		b /= 1024
		unit++
	}
	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unit])
}

func formatStats(in, out float64, rx, tx, dropped int64) string {
	return fmt.Sprintf("Rx: %s/s %3d frames | Tx: %s/s %3d frames | dropped %d",
		formatBytes(in), rx, formatBytes(out), tx, dropped)
}

// formatRates is formatStats for byte streams that carry no frames.
func formatRates(in, out float64) string {
	return fmt.Sprintf("Rx: %s/s | Tx: %s/s", formatBytes(in), formatBytes(out))
}
