// Package clocksync implements the pre-flight NTP drift check with a
// minimal SNTP client (RFC 4330) over UDP.
package clocksync

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ErrUnsynced is returned when drift exceeds the configured threshold or
// every configured server fails to respond.
var ErrUnsynced = fmt.Errorf("clocksync: clock not synchronized")

const ntpEpochOffset = 2208988800 // seconds between 1900 and 1970

// Check queries servers in priority order with perServerTimeout each. The
// first successful response determines drift; if every server fails,
// that is itself treated as a verification failure (never "assume
// synced"). Returns ErrUnsynced if drift exceeds threshold or no server
// responded.
func Check(ctx context.Context, servers []string, perServerTimeout time.Duration, threshold time.Duration) (drift time.Duration, err error) {
	var lastErr error
	for _, server := range servers {
		d, qerr := query(ctx, server, perServerTimeout)
		if qerr != nil {
			lastErr = qerr
			continue
		}
		if abs(d) > threshold {
			return d, fmt.Errorf("%w: drift %s exceeds threshold %s (server %s)", ErrUnsynced, d, threshold, server)
		}
		return d, nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: all servers failed, last error: %v", ErrUnsynced, lastErr)
	}
	return 0, fmt.Errorf("%w: no servers configured", ErrUnsynced)
}

func query(ctx context.Context, server string, timeout time.Duration) (time.Duration, error) {
	conn, err := net.DialTimeout("udp", server, timeout)
	if err != nil {
		return 0, fmt.Errorf("clocksync: dial %s: %w", server, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := make([]byte, 48)
	req[0] = 0x1B // LI=0, VN=3, Mode=3 (client)

	t0 := time.Now()
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("clocksync: write %s: %w", server, err)
	}

	resp := make([]byte, 48)
	if _, err := conn.Read(resp); err != nil {
		return 0, fmt.Errorf("clocksync: read %s: %w", server, err)
	}
	t3 := time.Now()

	recvSeconds := binary.BigEndian.Uint32(resp[32:36])
	recvFrac := binary.BigEndian.Uint32(resp[36:40])
	xmitSeconds := binary.BigEndian.Uint32(resp[40:44])
	xmitFrac := binary.BigEndian.Uint32(resp[44:48])

	serverRecv := ntpToTime(recvSeconds, recvFrac)
	serverXmit := ntpToTime(xmitSeconds, xmitFrac)

	// offset = ((serverRecv - t0) + (serverXmit - t3)) / 2
	offset := (serverRecv.Sub(t0) + serverXmit.Sub(t3)) / 2
	return offset, nil
}

func ntpToTime(seconds, frac uint32) time.Time {
	secs := int64(seconds) - ntpEpochOffset
	nanos := int64(float64(frac) / (1 << 32) * 1e9)
	return time.Unix(secs, nanos)
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
