package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide RPC session counter.
var Stats = &stats{}

type stats struct {
	CallsIssued    atomic.Int64 // cumulative calls started since process start
	CallsCompleted atomic.Int64 // cumulative calls resolved (success or remote error)
	CallsTimedOut  atomic.Int64 // cumulative calls rejected by their deadline
	BytesSent      atomic.Int64 // cumulative bytes written to the data channel
	BytesRecv      atomic.Int64 // cumulative bytes read  from the data channel
}

func (s *stats) AddCall()      { s.CallsIssued.Add(1) }
func (s *stats) CompleteCall() { s.CallsCompleted.Add(1) }
func (s *stats) TimeoutCall()  { s.CallsTimedOut.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds. Quiet intervals are skipped. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevIssued, prevDone, prevTimeout, prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				issued := Stats.CallsIssued.Load()
				done := Stats.CallsCompleted.Load()
				timedOut := Stats.CallsTimedOut.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				dIssued := issued - prevIssued
				dDone := done - prevDone
				dTimeout := timedOut - prevTimeout

				if dIssued > 0 || dDone > 0 || dTimeout > 0 {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"Calls: %d↑ %d✓ %d⏱ | Out: %s/s | In: %s/s",
						dIssued, dDone, dTimeout,
						formatBytes(float64(sent-prevSent)/10.0),
						formatBytes(float64(recv-prevRecv)/10.0),
					))
				}

				prevIssued = issued
				prevDone = done
				prevTimeout = timedOut
				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed
// width, for example: "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}
