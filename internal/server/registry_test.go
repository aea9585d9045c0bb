package server

import (
	"testing"
	"time"

	"github.com/rbright/cadenza/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestRegistryTracksReadiness(t *testing.T) {
	reg := newRegistry(time.Minute, nil)
	t.Cleanup(reg.close)

	_, ok := reg.nextReady()
	require.False(t, ok)

	reg.heartbeat([]byte("b"), protocol.WorkerReady)
	reg.heartbeat([]byte("a"), protocol.WorkerReady)
	reg.heartbeat([]byte("c"), protocol.WorkerBusy)

	ready, total := reg.counts()
	require.Equal(t, 2, ready)
	require.Equal(t, 3, total)

	worker, ok := reg.nextReady()
	require.True(t, ok)
	require.Equal(t, "a", string(worker))

	reg.claim(worker)
	worker, ok = reg.nextReady()
	require.True(t, ok)
	require.Equal(t, "b", string(worker))
	require.True(t, reg.known([]byte("a")))
	require.False(t, reg.known([]byte("zzz")))
}

func TestRegistryKeepsClaimUntilReplyRelayed(t *testing.T) {
	reg := newRegistry(time.Minute, nil)
	t.Cleanup(reg.close)

	reg.heartbeat([]byte("a"), protocol.WorkerReady)
	worker, ok := reg.nextReady()
	require.True(t, ok)
	reg.claim(worker)

	// a READY sent before the job reached the worker
	reg.heartbeat(worker, protocol.WorkerReady)
	_, ok = reg.nextReady()
	require.False(t, ok)
	ready, total := reg.counts()
	require.Zero(t, ready)
	require.Equal(t, 1, total)

	reg.release(worker)
	_, ok = reg.nextReady()
	require.False(t, ok)

	reg.heartbeat(worker, protocol.WorkerReady)
	worker, ok = reg.nextReady()
	require.True(t, ok)
	require.Equal(t, "a", string(worker))
}

func TestRegistryReleaseIgnoresUnclaimedWorkers(t *testing.T) {
	reg := newRegistry(time.Minute, nil)
	t.Cleanup(reg.close)

	reg.heartbeat([]byte("a"), protocol.WorkerReady)
	reg.release([]byte("a"))
	reg.release([]byte("ghost"))

	_, ok := reg.nextReady()
	require.True(t, ok)
	require.False(t, reg.known([]byte("ghost")))
}

func TestRegistryExpiresSilentWorkers(t *testing.T) {
	reg := newRegistry(20*time.Millisecond, nil)
	t.Cleanup(reg.close)

	reg.heartbeat([]byte("a"), protocol.WorkerReady)
	require.True(t, reg.known([]byte("a")))

	require.Eventually(t, func() bool { return !reg.known([]byte("a")) }, time.Second, 10*time.Millisecond)
	_, total := reg.counts()
	require.Zero(t, total)
}
