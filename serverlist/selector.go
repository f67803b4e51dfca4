package serverlist

import (
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinho10/dht-sched/hashkit"
)

// Distribution selects the key-to-server mapping strategy.
type Distribution int

const (
	DistributionModula Distribution = iota
	DistributionRandom
	DistributionVirtualBucket
	DistributionConsistentKetama
	DistributionConsistentKetamaWeighted
	DistributionConsistentKetamaSpy
	DistributionDynamic
	DistributionDynamicWeighted
)

// Command classifies the request for the per-server statistics.
type Command int

const (
	CmdOther Command = iota
	CmdGet
	CmdSet
)

// MaxKeyLength bounds a namespaced key; composites of this length or
// longer are not hashed.
const MaxKeyLength = 251

// Config carries the selector behaviors. The zero value selects Modula
// over the default hash with no namespace.
type Config struct {
	Distribution Distribution

	// Hash picks the digest primitive; HashFn is consulted only when
	// Hash is hashkit.Custom.
	Hash   hashkit.Algorithm
	HashFn hashkit.Fn

	Namespace         string
	HashWithNamespace bool
	UseSortHosts      bool
	AutoEjectHosts    bool

	// Alpha and Beta weight the rebalance cost function; zero values
	// select the defaults 1 and 0.1.
	Alpha float64
	Beta  float64

	// SetRepetition scales the initial dynamic ring; zero selects 1.
	SetRepetition uint32

	// StatsWriter receives the controller's per-tick statistics lines.
	// Defaults to io.Discard.
	StatsWriter io.Writer
}

// Selector is the front door of the engine: it owns the fleet and the
// active continuum and maps keys to fleet indices. It is safe for
// concurrent use; rebuilds install a fresh ring under the write lock
// while selections run under the read lock with relaxed-atomic
// counters.
type Selector struct {
	mu  sync.RWMutex
	cfg Config

	hk       *hashkit.Hashkit
	servers  []ServerInstance
	weighted bool

	ketama  *ketamaContinuum
	dynamic *dynamicContinuum
	vbucket *virtualBucket

	rndMu sync.Mutex
	rnd   *rand.Rand

	now func() int64
}

// New returns a Selector with an empty fleet.
func New(cfg Config) (*Selector, error) {
	if cfg.Alpha == 0 {
		cfg.Alpha = 1
	}
	if cfg.Beta == 0 {
		cfg.Beta = 0.1
	}
	if cfg.SetRepetition == 0 {
		cfg.SetRepetition = 1
	}
	if cfg.StatsWriter == nil {
		cfg.StatsWriter = io.Discard
	}

	var hk *hashkit.Hashkit
	if cfg.Hash == hashkit.Custom {
		if cfg.HashFn == nil {
			return nil, ErrInvalidArguments
		}
		hk = hashkit.NewCustom(cfg.HashFn)
	} else {
		hk = hashkit.New(cfg.Hash)
	}

	s := &Selector{
		cfg: cfg,
		hk:  hk,
		weighted: cfg.Distribution == DistributionConsistentKetamaWeighted ||
			cfg.Distribution == DistributionDynamicWeighted,
		now: func() int64 { return time.Now().Unix() },
	}
	return s, nil
}

// Hashkit returns the digest primitive in use.
func (s *Selector) Hashkit() *hashkit.Hashkit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hk
}

// SetHashkit swaps the digest primitive. Existing rings are not
// rebuilt; call RunDistribution if the ring was derived from the old
// hash.
func (s *Selector) SetHashkit(hk *hashkit.Hashkit) error {
	if hk == nil {
		return ErrInvalidArguments
	}
	s.mu.Lock()
	s.hk = hk
	s.mu.Unlock()
	return nil
}

func (s *Selector) isConsistent() bool {
	switch s.cfg.Distribution {
	case DistributionConsistentKetama,
		DistributionConsistentKetamaWeighted,
		DistributionConsistentKetamaSpy:
		return true
	}
	return false
}

func (s *Selector) isDynamic() bool {
	return s.cfg.Distribution == DistributionDynamic ||
		s.cfg.Distribution == DistributionDynamicWeighted
}

// RunDistribution forces a rebuild of the active strategy's state.
func (s *Selector) RunDistribution() error {
	if s == nil {
		return ErrFailure
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runDistribution()
}

// runDistribution rebuilds under the held write lock.
func (s *Selector) runDistribution() error {
	if s.cfg.UseSortHosts {
		s.sortServers()
	}

	switch s.cfg.Distribution {
	case DistributionConsistentKetama,
		DistributionConsistentKetamaWeighted,
		DistributionConsistentKetamaSpy:
		return s.updateContinuum()

	case DistributionDynamic, DistributionDynamicWeighted:
		return s.updateDynamic()

	case DistributionRandom:
		s.rndMu.Lock()
		s.rnd = rand.New(rand.NewSource(s.now()))
		s.rndMu.Unlock()

	case DistributionVirtualBucket, DistributionModula:
	}

	return nil
}

// hashKey namespaces and digests a key. Composites at or beyond
// MaxKeyLength are not hashed and report false.
func (s *Selector) hashKey(key string) (uint32, bool) {
	if s.cfg.HashWithNamespace && s.cfg.Namespace != "" {
		if len(s.cfg.Namespace)+len(key) > MaxKeyLength-1 {
			return 0, false
		}
		return s.hk.Digest([]byte(s.cfg.Namespace + key)), true
	}
	return s.hk.Digest([]byte(key)), true
}

// Pick maps a key to a fleet index and records the request on the
// strategy's counters: per point for dynamic, per server for ketama.
// An overlong namespaced key yields the index-0 sentinel. The fleet
// must not be empty.
func (s *Selector) Pick(key string, cmd Command) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.servers) == 1 {
		return 0
	}
	hash, ok := s.hashKey(key)
	if !ok {
		return 0
	}
	return s.dispatch(hash, cmd)
}

// PickWithRedistribution is Pick plus an opportunistic rebuild when an
// ejected server's retry deadline has passed.
func (s *Selector) PickWithRedistribution(key string, cmd Command) uint32 {
	s.mu.RLock()
	if len(s.servers) == 1 {
		s.mu.RUnlock()
		return 0
	}
	hash, ok := s.hashKey(key)
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	s.AutoEject()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatch(hash, cmd)
}

// AutoEject polls the ejection timer, rebuilding once the earliest
// retry deadline among ejected servers has passed.
func (s *Selector) AutoEject() {
	if s == nil || !s.cfg.AutoEjectHosts {
		return
	}

	s.mu.RLock()
	next := int64(0)
	if s.ketama != nil {
		next = s.ketama.nextRebuild
	}
	due := next != 0 && s.now() > next
	s.mu.RUnlock()

	if due {
		s.mu.Lock()
		s.runDistribution()
		s.mu.Unlock()
	}
}

// dispatch resolves a hash under the held read lock.
func (s *Selector) dispatch(hash uint32, cmd Command) uint32 {
	switch s.cfg.Distribution {
	case DistributionConsistentKetama,
		DistributionConsistentKetamaWeighted,
		DistributionConsistentKetamaSpy:
		return s.dispatchKetama(hash, cmd)

	case DistributionDynamic, DistributionDynamicWeighted:
		return s.dispatchDynamic(hash, cmd)

	case DistributionRandom:
		s.rndMu.Lock()
		if s.rnd == nil {
			s.rnd = rand.New(rand.NewSource(s.now()))
		}
		v := s.rnd.Uint32()
		s.rndMu.Unlock()
		return v % uint32(len(s.servers))

	case DistributionVirtualBucket:
		if s.vbucket != nil {
			return s.vbucket.get(hash)
		}
		return hash % uint32(len(s.servers))

	case DistributionModula:
		return hash % uint32(len(s.servers))
	}

	// Unknown distributions are a programmer error; degrade to modulo.
	return hash % uint32(len(s.servers))
}

func (s *Selector) dispatchKetama(hash uint32, cmd Command) uint32 {
	c := s.ketama
	if c == nil || len(c.points) == 0 {
		return 0
	}

	idx := searchPoints(c.points, int(c.pointsCounter), hash)
	pt := &c.points[idx]

	if int(pt.index) < len(c.servers) {
		server := &c.servers[pt.index]
		switch cmd {
		case CmdGet:
			atomic.AddUint32(&server.get, 1)
		case CmdSet:
			atomic.AddUint32(&server.set, 1)
		}
	}

	return pt.index
}

func (s *Selector) dispatchDynamic(hash uint32, cmd Command) uint32 {
	d := s.dynamic
	if d == nil || len(d.points) == 0 {
		return 0
	}

	num := int(d.pointsCounter) - 1
	idx := searchPoints(d.points, num, hash)
	pt := &d.points[idx]

	switch cmd {
	case CmdGet:
		atomic.AddUint32(&pt.sched.get, 1)
	case CmdSet:
		atomic.AddUint32(&pt.sched.set, 1)
	}

	get := atomic.LoadUint32(&pt.sched.get)
	set := atomic.LoadUint32(&pt.sched.set)
	sum := get + set
	atomic.StoreUint32(&pt.sched.sum, sum)

	if get != 0 && int32(set) <= int32(get-set) {
		hr := getHitrate(get, set)
		pt.sched.hitrate.Store(hr)
		pt.sched.nhitrate.Store(hr)
	}

	// Opportunistic refresh of the utilization snapshot; the same
	// truncated window as the search, per the original.
	if sum > atomic.LoadUint32(&d.max) && sum > 0 {
		atomic.StoreUint32(&d.max, sum)
		atomic.StoreUint32(&d.maxID, pt.index)
		for i := 0; i < num; i++ {
			p := &d.points[i].sched
			p.usagerate.Store(float64(atomic.LoadUint32(&p.sum)) / float64(sum))
		}
	}

	return pt.index
}
