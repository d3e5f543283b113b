package service

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecatd "github.com/ecatforge/ecatd"
	"github.com/ecatforge/ecatd/pkg/config"
	"github.com/ecatforge/ecatd/pkg/drivers/loopback"
	"github.com/ecatforge/ecatd/pkg/fieldbus"
	"github.com/ecatforge/ecatd/pkg/protocol"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Security.BindAddress = "127.0.0.1"
	cfg.Security.Port = 0 // ephemeral
	cfg.Performance.RtPriority = 0
	cfg.Performance.CpuAffinity = nil
	return cfg
}

func createServiceTest(t *testing.T, driver ecatd.Driver) *Service {
	master := fieldbus.NewMaster(driver, testLogger())
	svc, err := New(testConfig(), master, testLogger())
	require.Nil(t, err)
	require.Nil(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func createLoopbackServiceTest(t *testing.T) (*Service, *loopback.Driver) {
	driver := loopback.NewWithSlaves([]ecatd.SlaveInfo{
		{Id: 1, Name: "drive", Online: true, InputBytes: 8, OutputBytes: 8},
	})
	return createServiceTest(t, driver), driver
}

// roundTrip sends one command frame and waits for the matching
// response
func roundTrip(t *testing.T, svc *Service, cmd *protocol.Command) *protocol.Response {
	conn, err := net.DialUDP("udp", nil, svc.Addr().(*net.UDPAddr))
	require.Nil(t, err)
	defer conn.Close()

	data, err := cmd.Marshal()
	require.Nil(t, err)
	_, err = conn.Write(data)
	require.Nil(t, err)

	require.Nil(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buffer := make([]byte, 64)
	n, err := conn.Read(buffer)
	require.Nil(t, err)
	resp, err := protocol.UnmarshalResponse(buffer[:n])
	require.Nil(t, err)
	return resp
}

func TestServiceStatusRoundTrip(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)

	resp := roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStatus})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, protocol.ErrNone, resp.Error)
	assert.EqualValues(t, 8, resp.PayloadLen)
	assert.Equal(t, make([]byte, 8), resp.Payload[0:8])
}

func TestServiceStartStopOverWire(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)

	resp := roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStart})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStatus})
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(resp.Payload[0:4]))
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(resp.Payload[4:8]))

	resp = roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStop})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.False(t, svc.Master().Active())
}

func TestServiceRejectsBadMagic(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)

	resp := roundTrip(t, svc, &protocol.Command{
		Magic: 0xDEADBEEF, Category: protocol.CategoryNetwork, Id: protocol.NetStart})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.ErrInvalidCommand, resp.Error)
}

func TestServicePdoReadInactive(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)

	resp := roundTrip(t, svc, protocol.NewPdoReadCommand(1, 0, 4))
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.ErrNetworkNotReady, resp.Error)
}

func TestServicePdoWriteVisibleWithinCycles(t *testing.T) {
	svc, driver := createLoopbackServiceTest(t)

	resp := roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStart})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = roundTrip(t, svc, protocol.NewPdoWriteCommand(1, 0, 0xAABBCCDD))
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// The cyclic activity publishes the write on the next exchange
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, driver.Outputs()[0:4])

	resp = roundTrip(t, svc, protocol.NewPdoReadCommand(1, 0, 4))
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.EqualValues(t, 0xAABBCCDD, binary.BigEndian.Uint32(resp.Payload[0:4]))
}

func TestServiceCyclicRate(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sensitive")
	}
	svc, _ := createLoopbackServiceTest(t)

	require.Nil(t, svc.Master().Start())
	time.Sleep(500 * time.Millisecond)

	// 1 ms nominal period, generous bounds for host jitter
	cycles := svc.Master().TimingStats().CyclesTotal
	assert.Greater(t, cycles, uint32(100))
	assert.Less(t, cycles, uint32(700))
}

func TestServiceLifecycle(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)
	assert.True(t, svc.Running())
	assert.Equal(t, ErrAlreadyRunning, svc.Start(context.Background()))

	svc.Stop()
	assert.False(t, svc.Running())
	// Stopping again is harmless
	svc.Stop()
}

func TestServiceBindFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Security.BindAddress = "not-an-address"
	master := fieldbus.NewMaster(loopback.NewWithSlaves(nil), testLogger())
	svc, err := New(cfg, master, testLogger())
	require.Nil(t, err)
	err = svc.Start(context.Background())
	assert.ErrorIs(t, err, ErrBindAddress)
	assert.False(t, svc.Running())
}

func TestServiceIgnoresMalformedDatagrams(t *testing.T) {
	svc, _ := createLoopbackServiceTest(t)

	conn, err := net.DialUDP("udp", nil, svc.Addr().(*net.UDPAddr))
	require.Nil(t, err)
	defer conn.Close()

	// Truncated datagram is dropped without a response
	_, err = conn.Write([]byte{0x01, 0x02, 0x03})
	require.Nil(t, err)

	// The service keeps serving afterwards
	resp := roundTrip(t, svc, &protocol.Command{
		Magic: protocol.CommandMagic, Category: protocol.CategoryNetwork, Id: protocol.NetStatus})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}
