package service

import (
	"encoding/binary"
	"log/slog"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecatd "github.com/ecatforge/ecatd"
	"github.com/ecatforge/ecatd/pkg/drivers/loopback"
	"github.com/ecatforge/ecatd/pkg/drivers/stub"
	"github.com/ecatforge/ecatd/pkg/fieldbus"
	"github.com/ecatforge/ecatd/pkg/protocol"
)

var testPeer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func createLoopbackMasterTest(t *testing.T) (*fieldbus.Master, *loopback.Driver) {
	driver := loopback.NewWithSlaves([]ecatd.SlaveInfo{
		{Id: 1, Name: "drive", Online: true, InputBytes: 8, OutputBytes: 8},
	})
	master := fieldbus.NewMaster(driver, testLogger())
	require.Nil(t, master.Init("test0"))
	return master, driver
}

func createStubMasterTest(t *testing.T) *fieldbus.Master {
	driver, err := stub.NewStubDriver("")
	require.Nil(t, err)
	master := fieldbus.NewMaster(driver, testLogger())
	require.Nil(t, master.Init("test0"))
	return master
}

func newCommand(category uint8, id uint8) *protocol.Command {
	return &protocol.Command{Magic: protocol.CommandMagic, Category: category, Id: id}
}

func dispatch(t *testing.T, master *fieldbus.Master, cmd *protocol.Command) *protocol.Response {
	resp := Dispatch(master, testLogger(), cmd, testPeer)
	require.NotNil(t, resp)
	assert.Equal(t, protocol.ResponseMagic, resp.Magic)
	assert.LessOrEqual(t, resp.PayloadLen, uint16(protocol.MaxPayload))
	return resp
}

func TestDispatchInvalidCommands(t *testing.T) {
	master := createStubMasterTest(t)

	t.Run("bad magic", func(t *testing.T) {
		cmd := newCommand(protocol.CategoryNetwork, protocol.NetStart)
		cmd.Magic = 0xDEADBEEF
		resp := dispatch(t, master, cmd)
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrInvalidCommand, resp.Error)
	})
	t.Run("unknown id", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryDiagnostic, 0x09))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrInvalidCommand, resp.Error)
	})
	t.Run("unknown category", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(0x7F, 0x01))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrInvalidCommand, resp.Error)
	})
}

func TestDispatchNetworkCommands(t *testing.T) {
	master := createStubMasterTest(t)

	t.Run("status while inactive", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStatus))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 8, resp.PayloadLen)
		assert.Equal(t, make([]byte, 8), resp.Payload[0:8])
	})

	t.Run("start", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStart))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.Equal(t, protocol.ErrNone, resp.Error)
		assert.EqualValues(t, 0, resp.PayloadLen)

		resp = dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStatus))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 1, binary.BigEndian.Uint32(resp.Payload[4:8]))
	})

	t.Run("start while active", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStart))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrNetworkNotReady, resp.Error)
	})

	t.Run("stop twice", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStop))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		resp = dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetStop))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
	})

	t.Run("scan", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryNetwork, protocol.NetScan))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 4, resp.PayloadLen)
		assert.EqualValues(t, 0, binary.BigEndian.Uint32(resp.Payload[0:4]))
	})
}

func TestDispatchPdoCommands(t *testing.T) {
	master, driver := createLoopbackMasterTest(t)

	t.Run("read while inactive", func(t *testing.T) {
		resp := dispatch(t, master, protocol.NewPdoReadCommand(1, 0, 4))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrNetworkNotReady, resp.Error)
	})

	require.Nil(t, master.Start())
	defer master.Stop()

	t.Run("short payload", func(t *testing.T) {
		cmd := newCommand(protocol.CategoryPdo, protocol.PdoRead)
		cmd.PayloadLen = 4
		resp := dispatch(t, master, cmd)
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrInvalidPayload, resp.Error)
	})

	t.Run("write then observe on the bus", func(t *testing.T) {
		resp := dispatch(t, master, protocol.NewPdoWriteCommand(1, 0, 0xAABBCCDD))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 0, resp.PayloadLen)

		require.Nil(t, master.CyclicExchange())
		assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, driver.Outputs()[0:4])

		resp = dispatch(t, master, protocol.NewPdoReadCommand(1, 0, 4))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 4, resp.PayloadLen)
		assert.EqualValues(t, 0xAABBCCDD, binary.BigEndian.Uint32(resp.Payload[0:4]))
	})

	t.Run("unknown slave", func(t *testing.T) {
		resp := dispatch(t, master, protocol.NewPdoReadCommand(9, 0, 4))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrSlaveNotFound, resp.Error)
	})

	t.Run("out of bounds", func(t *testing.T) {
		resp := dispatch(t, master, protocol.NewPdoWriteCommand(1, 400, 1))
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrSlaveNotFound, resp.Error)
	})

	t.Run("monitor reserved", func(t *testing.T) {
		for _, id := range []uint8{protocol.PdoMonitor, protocol.PdoStopMon} {
			cmd := protocol.NewPdoReadCommand(1, 0, 4)
			cmd.Id = id
			resp := dispatch(t, master, cmd)
			assert.Equal(t, protocol.StatusError, resp.Status)
			assert.Equal(t, protocol.ErrInvalidCommand, resp.Error)
		}
	})
}

func TestDispatchDiagnosticCommands(t *testing.T) {
	master, _ := createLoopbackMasterTest(t)
	require.Nil(t, master.Start())
	defer master.Stop()

	t.Run("network", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryDiagnostic, protocol.DiagNetwork))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 8, resp.PayloadLen)
		assert.EqualValues(t, 1, resp.Payload[0])
		assert.EqualValues(t, 1, resp.Payload[1])
	})

	t.Run("timing idle defaults", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryDiagnostic, protocol.DiagTiming))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 1000, binary.BigEndian.Uint32(resp.Payload[0:4]))
		assert.EqualValues(t, 25, binary.BigEndian.Uint32(resp.Payload[4:8]))
	})

	t.Run("errors", func(t *testing.T) {
		resp := dispatch(t, master, newCommand(protocol.CategoryDiagnostic, protocol.DiagErrors))
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 8, resp.PayloadLen)
		assert.EqualValues(t, 0, binary.BigEndian.Uint32(resp.Payload[0:4]))
	})

	t.Run("slave present", func(t *testing.T) {
		cmd := newCommand(protocol.CategoryDiagnostic, protocol.DiagSlave)
		cmd.PayloadLen = 4
		resp := dispatch(t, master, cmd)
		assert.Equal(t, protocol.StatusSuccess, resp.Status)
		assert.EqualValues(t, 8, resp.PayloadLen)
		assert.EqualValues(t, 1, resp.Payload[0])
	})

	t.Run("slave absent", func(t *testing.T) {
		cmd := newCommand(protocol.CategoryDiagnostic, protocol.DiagSlave)
		cmd.PayloadLen = 4
		binary.BigEndian.PutUint32(cmd.Payload[0:4], 0xFF)
		resp := dispatch(t, master, cmd)
		assert.Equal(t, protocol.StatusError, resp.Status)
		assert.Equal(t, protocol.ErrSlaveNotFound, resp.Error)
	})
}
