package service

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"

	"github.com/ecatforge/ecatd/pkg/fieldbus"
	"github.com/ecatforge/ecatd/pkg/protocol"
)

// Dispatch routes one validated command to the master and builds the
// response frame. It never blocks on the network and always returns a
// well formed response. Protocol and precondition failures are peer
// errors, they are logged at debug or warn level, never as errors.
func Dispatch(master *fieldbus.Master, logger *slog.Logger, cmd *protocol.Command, peer net.Addr) *protocol.Response {
	if err := cmd.Validate(); err != nil {
		logger.Warn("invalid command received", "peer", peer, "err", err)
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)
	}

	logger.Debug("command received", "peer", peer,
		"category", cmd.Category, "id", cmd.Id, "payload_len", cmd.PayloadLen)

	switch cmd.Category {
	case protocol.CategoryNetwork:
		return handleNetworkCommand(master, logger, cmd)
	case protocol.CategoryPdo:
		return handlePdoCommand(master, logger, cmd)
	case protocol.CategoryDiagnostic:
		return handleDiagnosticCommand(master, logger, cmd)
	default:
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)
	}
}

func handleNetworkCommand(master *fieldbus.Master, logger *slog.Logger, cmd *protocol.Command) *protocol.Response {
	switch cmd.Id {
	case protocol.NetStart:
		logger.Info("network start command received")
		if master.Active() {
			return protocol.NewResponse(protocol.StatusError, protocol.ErrNetworkNotReady, nil)
		}
		err := master.Start()
		if errors.Is(err, fieldbus.ErrAlreadyActive) {
			return protocol.NewResponse(protocol.StatusError, protocol.ErrNetworkNotReady, nil)
		}
		if err != nil {
			logger.Error("failed to start bus", "err", err)
			return protocol.NewResponse(protocol.StatusError, protocol.ErrInternal, nil)
		}
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, nil)

	case protocol.NetStop:
		logger.Info("network stop command received")
		if err := master.Stop(); err != nil {
			logger.Warn("bus stop reported an error", "err", err)
		}
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, nil)

	case protocol.NetScan:
		count, err := master.Scan()
		if err != nil {
			logger.Error("network scan failed", "err", err)
			return protocol.NewResponse(protocol.StatusError, protocol.ErrInternal, nil)
		}
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, count)
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	case protocol.NetStatus:
		payload := make([]byte, 8)
		binary.BigEndian.PutUint32(payload[0:4], master.SlaveCount())
		if master.Active() {
			binary.BigEndian.PutUint32(payload[4:8], 1)
		}
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	default:
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)
	}
}

func handlePdoCommand(master *fieldbus.Master, logger *slog.Logger, cmd *protocol.Command) *protocol.Response {
	if !master.Active() {
		return protocol.NewResponse(protocol.StatusError, protocol.ErrNetworkNotReady, nil)
	}
	op, err := cmd.PdoOperation()
	if err != nil {
		logger.Debug("malformed pdo payload", "err", err)
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidPayload, nil)
	}

	switch cmd.Id {
	case protocol.PdoRead:
		logger.Debug("pdo read", "slave", op.SlaveId, "offset", op.Offset, "size", op.Size)
		value, err := master.ReadPdo(op.SlaveId, op.Offset, op.Size)
		if err != nil {
			logger.Debug("pdo read refused", "err", err)
			return protocol.NewResponse(protocol.StatusError, protocol.ErrSlaveNotFound, nil)
		}
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, value)
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	case protocol.PdoWrite:
		logger.Debug("pdo write", "slave", op.SlaveId, "offset", op.Offset,
			"size", op.Size, "value", op.Value)
		err := master.WritePdo(op.SlaveId, op.Offset, op.Size, op.Value)
		if err != nil {
			logger.Debug("pdo write refused", "err", err)
			return protocol.NewResponse(protocol.StatusError, protocol.ErrSlaveNotFound, nil)
		}
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, nil)

	case protocol.PdoMonitor, protocol.PdoStopMon:
		// Reserved until process data streaming lands on the ring
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)

	default:
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)
	}
}

func handleDiagnosticCommand(master *fieldbus.Master, logger *slog.Logger, cmd *protocol.Command) *protocol.Response {
	switch cmd.Id {
	case protocol.DiagNetwork:
		payload := make([]byte, 8)
		if master.Active() {
			payload[0] = 1
		}
		payload[1] = uint8(master.SlaveCount())
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	case protocol.DiagTiming:
		stats := master.TimingStats()
		payload := make([]byte, 8)
		binary.BigEndian.PutUint32(payload[0:4], stats.AvgCycleUs)
		binary.BigEndian.PutUint32(payload[4:8], stats.JitterUs)
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	case protocol.DiagErrors:
		stats := master.ErrorStats()
		payload := make([]byte, 8)
		binary.BigEndian.PutUint32(payload[0:4], stats.FrameErrors)
		binary.BigEndian.PutUint32(payload[4:8], stats.TimeoutErrors)
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	case protocol.DiagSlave:
		var index uint32
		if cmd.PayloadLen >= 4 {
			index = binary.BigEndian.Uint32(cmd.Payload[0:4])
		}
		slave, ok := master.Slave(index)
		if !ok || !slave.Online {
			return protocol.NewResponse(protocol.StatusError, protocol.ErrSlaveNotFound, nil)
		}
		payload := make([]byte, 8)
		payload[0] = 1
		return protocol.NewResponse(protocol.StatusSuccess, protocol.ErrNone, payload)

	default:
		return protocol.NewResponse(protocol.StatusError, protocol.ErrInvalidCommand, nil)
	}
}
