package service

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/ecatforge/ecatd/pkg/protocol"
)

// How long a single receive may block before the loop re-checks its
// exit condition and the reap schedule
const receivePollLimit = time.Second

// network is the datagram receive / dispatch / send loop.
// One datagram in, one response out, requests from a single peer are
// handled strictly in arrival order.
func (s *Service) network(ctx context.Context) {
	logger := s.logger.With("service", "[NET]")
	logger.Info("network activity started", "addr", s.conn.LocalAddr())

	buffer := make([]byte, 2*protocol.FrameSize)
	lastReap := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("network activity stopped")
			return
		default:
		}

		now := time.Now()
		if now.Sub(lastReap) > clientReapPeriod {
			s.clients.reap(now)
			lastReap = now
		}

		_ = s.conn.SetReadDeadline(now.Add(receivePollLimit))
		n, peer, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info("network activity stopped")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Error("receive error", "err", err)
			time.Sleep(time.Millisecond)
			continue
		}

		if n != protocol.FrameSize {
			logger.Warn("received malformed datagram", "bytes", n, "peer", peer)
			continue
		}

		s.clients.touch(peer, time.Now())

		cmd, err := protocol.UnmarshalCommand(buffer[:n])
		if err != nil {
			logger.Warn("undecodable datagram", "peer", peer, "err", err)
			continue
		}
		resp := Dispatch(s.master, logger, cmd, peer)

		data, err := resp.Marshal()
		if err != nil {
			logger.Error("response encoding failed", "err", err)
			continue
		}
		if _, err := s.conn.WriteToUDP(data, peer); err != nil {
			logger.Error("send error", "peer", peer, "err", err)
		}
	}
}
