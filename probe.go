package vitalink

import (
	"context"
	"time"

	"gosuda.org/vitalink/internal/handshake"
)

// ProbeResult describes a producer's ring as seen through one handshake.
type ProbeResult struct {
	Socket           string        `json:"socket"`
	Segment          string        `json:"segment"`
	Size             uint64        `json:"size"`
	HandshakeVersion uint16        `json:"handshake_version"`
	HandshakeLatency time.Duration `json:"handshake_latency"`
	FrameSize        int           `json:"frame_size"`
	FrameCount       uint64        `json:"frame_count"`
	WriteIndex       uint64        `json:"write_index"`
	Oldest           uint64        `json:"oldest"`
	Heartbeat        uint64        `json:"heartbeat"`
	// Alive is set when the heartbeat moved during the liveness window.
	Alive bool `json:"alive"`
}

// Probe performs a single handshake against socketPath, validates the ring header and
// reports its geometry. When liveness is positive, Probe watches the heartbeat for
// that long and sets Alive if it advanced. The mapping is released before Probe
// returns.
func Probe(ctx context.Context, socketPath string, timeout, liveness time.Duration) (ProbeResult, error) {
	start := time.Now()
	res, err := handshake.Connect(ctx, socketPath, timeout)
	if err != nil {
		return ProbeResult{}, &SessionError{Kind: KindHandshake, Op: "connect", Err: err}
	}
	latency := time.Since(start)

	m, r, err := mapRing(res)
	if err != nil {
		return ProbeResult{}, err
	}
	defer m.Close()

	hb := r.Heartbeat()
	out := ProbeResult{
		Socket:           socketPath,
		Segment:          res.Name,
		Size:             res.Size,
		HandshakeVersion: res.Version,
		HandshakeLatency: latency,
		FrameSize:        r.FrameSize(),
		FrameCount:       r.FrameCount(),
		Heartbeat:        hb,
	}

	if liveness > 0 {
		t := time.NewTimer(liveness)
		select {
		case <-ctx.Done():
			t.Stop()
			return ProbeResult{}, ctx.Err()
		case <-t.C:
		}
		out.Heartbeat = r.Heartbeat()
		out.Alive = out.Heartbeat != hb
	}

	out.WriteIndex = r.CurrentWriteIndex()
	out.Oldest = r.Oldest(out.WriteIndex)
	return out, nil
}
