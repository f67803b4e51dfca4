package serverlist

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKetamaTickStats(t *testing.T) {
	s := newKetamaSelector(t, Config{
		Distribution: DistributionConsistentKetama,
	}, interopFleet...)
	k := s.ketama

	atomic.StoreUint32(&k.servers[0].get, 10)
	atomic.StoreUint32(&k.servers[0].set, 3)
	atomic.StoreUint32(&k.servers[1].get, 20)
	atomic.StoreUint32(&k.servers[2].get, 5)

	var log bytes.Buffer
	ctrl := NewController(s, &log)
	ctrl.Tick()

	line := log.String()
	require.True(t, strings.HasPrefix(line, "1 "), "tick counter leads the line")

	// get=10 set=3 passes the guard: hitrate = 2*3/10 - 1.
	require.Contains(t, line, "-0.400000")

	// psum snapshots survive the reset.
	require.EqualValues(t, 13, k.servers[0].psum)
	require.EqualValues(t, 20, k.servers[1].psum)
	require.EqualValues(t, 5, k.servers[2].psum)

	for i := range k.servers {
		require.Zero(t, atomic.LoadUint32(&k.servers[i].get), "server %d get", i)
		require.Zero(t, atomic.LoadUint32(&k.servers[i].set), "server %d set", i)
		require.Zero(t, k.servers[i].sum, "server %d sum", i)
		require.Zero(t, k.servers[i].hitrate, "server %d hitrate", i)
		require.Zero(t, k.servers[i].usagerate, "server %d usagerate", i)
		require.Zero(t, k.servers[i].hashsize, "server %d hashsize", i)
	}
	require.Zero(t, k.max)
	require.Zero(t, k.maxID)

	// A second tick advances the counter.
	ctrl.Tick()
	require.Contains(t, log.String(), "\n2 ")
}

// The ketama tick reads traffic recorded by the dispatch path.
func TestKetamaTickCountsDispatch(t *testing.T) {
	s := newKetamaSelector(t, Config{
		Distribution: DistributionConsistentKetama,
	}, interopFleet...)

	perServer := make(map[uint32]uint32)
	for _, key := range []string{"foo", "bar", "baz", "hello", "world"} {
		perServer[s.Pick(key, CmdGet)]++
	}

	k := s.ketama
	for idx, want := range perServer {
		require.Equal(t, want, atomic.LoadUint32(&k.servers[idx].get), "server %d", idx)
	}

	var log bytes.Buffer
	NewController(s, &log).Tick()

	total := uint32(0)
	for i := range k.servers {
		total += k.servers[i].psum
	}
	require.EqualValues(t, 5, total)
}

// Hit rates above 50% are dropped by the guard; preserved verbatim
// from the reference implementation.
func TestKetamaTickHitrateGuard(t *testing.T) {
	s := newKetamaSelector(t, Config{
		Distribution: DistributionConsistentKetama,
	}, interopFleet...)
	k := s.ketama

	atomic.StoreUint32(&k.servers[0].get, 10)
	atomic.StoreUint32(&k.servers[0].set, 6) // 6 > 10-6: skipped

	var log bytes.Buffer
	NewController(s, &log).Tick()

	require.NotContains(t, log.String(), "0.200000 0.200000")
}

// A tick on a strategy without a ring must not do anything.
func TestTickWithoutRing(t *testing.T) {
	s, err := New(Config{Distribution: DistributionConsistentKetama})
	require.NoError(t, err)

	var log bytes.Buffer
	NewController(s, &log).Tick()
	require.Empty(t, log.String())

	s2, err := New(Config{Distribution: DistributionModula})
	require.NoError(t, err)
	require.NoError(t, s2.AddServer("10.0.1.1", DefaultPort))
	NewController(s2, &log).Tick()
	require.Empty(t, log.String())
}

func TestControllerUsesConfiguredWriter(t *testing.T) {
	var log bytes.Buffer

	s, err := New(Config{
		Distribution: DistributionConsistentKetama,
		StatsWriter:  &log,
	})
	require.NoError(t, err)
	require.NoError(t, s.AddServer("10.0.1.1", DefaultPort))
	require.NoError(t, s.AddServer("10.0.1.2", DefaultPort))

	NewController(s, nil).Tick()
	require.NotEmpty(t, log.String())
}
