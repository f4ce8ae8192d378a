package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
	"github.com/lcalzada-xor/chira/internal/core/services/ingest"
)

type fakeReader struct {
	mu   sync.Mutex
	regs []uint16
	err  error
}

func (f *fakeReader) ReadHoldingRegisters(addr, qty uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, int(qty)*2)
	for i := 0; i < int(qty) && i < len(f.regs); i++ {
		binary.BigEndian.PutUint16(out[i*2:], f.regs[i])
	}
	return out, nil
}

func (f *fakeReader) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func registers() []uint16 {
	r := make([]uint16, registerCount)
	r[regStatus] = 4 // GRABBING
	r[regJoint1] = 9000
	r[regJoint2] = uint16(0xFFFF - 1500 + 1) // -15.00
	r[regJoint3] = 4512
	r[regEEAngle] = 0
	r[regObjectFlag] = 1
	r[regObjectX] = 1250
	r[regObjectY] = 300
	r[regObjectZ] = 75
	r[regPickedHi] = 1
	r[regPickedLo] = 2
	r[regAttemptsLo] = 90
	return r
}

func toBytes(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[i*2:], r)
	}
	return out
}

func TestDecodeRegisters(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	status, stats, err := decodeRegisters(toBytes(registers()), now)
	require.NoError(t, err)

	patch, err := ingest.DecodeStatus(status)
	require.NoError(t, err)
	require.NotNil(t, patch.Status)
	assert.Equal(t, domain.StateGrabbing, *patch.Status)
	assert.Equal(t, 90.0, *patch.Joint1)
	assert.Equal(t, -15.0, *patch.Joint2)
	assert.Equal(t, 45.12, *patch.Joint3)
	assert.Equal(t, &domain.Position{X: 12.5, Y: 3, Z: 0.75}, patch.DetectedObject)
	require.NotNil(t, patch.Error)
	assert.Empty(t, *patch.Error)
	assert.Equal(t, float64(now.Unix()), *patch.Timestamp)

	counters, err := ingest.DecodeStatistics(stats)
	require.NoError(t, err)
	assert.Equal(t, int64(65538), *counters.TotalPicked)
	assert.Equal(t, int64(90), *counters.TotalAttempts)
}

func TestDecodeRegisters_FaultAndNoObject(t *testing.T) {
	regs := registers()
	regs[regObjectFlag] = 0
	regs[regErrorCode] = 17

	status, _, err := decodeRegisters(toBytes(regs), time.Now())
	require.NoError(t, err)

	patch, err := ingest.DecodeStatus(status)
	require.NoError(t, err)
	assert.True(t, patch.ClearObject)
	assert.Equal(t, "controller fault 17", *patch.Error)
}

func TestDecodeRegisters_Invalid(t *testing.T) {
	_, _, err := decodeRegisters(make([]byte, 4), time.Now())
	assert.Error(t, err)

	regs := registers()
	regs[regStatus] = 42
	_, _, err = decodeRegisters(toBytes(regs), time.Now())
	assert.Error(t, err)
}

func TestFeed_PollsAndDispatches(t *testing.T) {
	reader := &fakeReader{regs: registers()}
	f := newFeed(Config{PollInterval: 10 * time.Millisecond}, reader, nil, nil)
	t.Cleanup(func() { _ = f.Close() })

	var mu sync.Mutex
	var status, stats int
	var errs []error

	ctx := context.Background()
	_, err := f.Subscribe(ctx, domain.PathRobotStatus, func(domain.FeedRecord) { mu.Lock(); status++; mu.Unlock() }, func(e error) { mu.Lock(); errs = append(errs, e); mu.Unlock() })
	require.NoError(t, err)
	_, err = f.Subscribe(ctx, domain.PathStatistics, func(domain.FeedRecord) { mu.Lock(); stats++; mu.Unlock() }, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return status >= 2 && stats >= 2
	}, time.Second, 5*time.Millisecond)

	reader.setErr(errors.New("i/o timeout"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var feedErr *ports.FeedError
	require.ErrorAs(t, errs[0], &feedErr)
	assert.Equal(t, "poll", feedErr.Op)
}

func TestFeed_RejectsCountPaths(t *testing.T) {
	f := newFeed(Config{}, &fakeReader{regs: registers()}, nil, nil)
	t.Cleanup(func() { _ = f.Close() })

	_, err := f.Subscribe(context.Background(), "hourly_chili_picks/2024-06-15", nil, nil)
	assert.ErrorIs(t, err, ports.ErrUnsupportedPath)
}

func TestFeed_UnsubscribeStopsDelivery(t *testing.T) {
	reader := &fakeReader{regs: registers()}
	f := newFeed(Config{PollInterval: 5 * time.Millisecond}, reader, nil, nil)
	t.Cleanup(func() { _ = f.Close() })

	var mu sync.Mutex
	count := 0
	sub, err := f.Subscribe(context.Background(), domain.PathRobotStatus, func(domain.FeedRecord) { mu.Lock(); count++; mu.Unlock() }, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return count > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Unsubscribe(context.Background()))
	require.NoError(t, sub.Unsubscribe(context.Background()))
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	seen := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, count)
}

func TestDial_RequiresEndpoint(t *testing.T) {
	_, err := Dial(Config{}, nil)
	assert.Error(t, err)
}
