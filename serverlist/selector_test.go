package serverlist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinho10/dht-sched/hashkit"
)

func TestSingleServerShortCircuit(t *testing.T) {
	dists := []Distribution{
		DistributionModula,
		DistributionRandom,
		DistributionConsistentKetama,
		DistributionConsistentKetamaSpy,
		DistributionDynamic,
	}

	for _, dist := range dists {
		s, err := New(Config{Distribution: dist})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AddServer("10.0.1.1", DefaultPort); err != nil {
			t.Fatal(err)
		}

		for _, key := range []string{"foo", "bar", "anything at all"} {
			if got := s.Pick(key, CmdGet); got != 0 {
				t.Errorf("dist %d: Pick(%q) = %d, want 0", dist, key, got)
			}
		}
	}
}

func TestModula(t *testing.T) {
	s, err := New(Config{Distribution: DistributionModula})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.1.%d", i+1), DefaultPort); err != nil {
			t.Fatal(err)
		}
	}

	for _, key := range []string{"foo", "bar", "baz", "some longer key"} {
		want := hashkit.Digest([]byte(key), hashkit.Default) % 3
		if got := s.Pick(key, CmdGet); got != want {
			t.Errorf("Pick(%q) = %d, want %d", key, got, want)
		}
	}
}

func TestRandomStaysInRange(t *testing.T) {
	s, err := New(Config{Distribution: DistributionRandom})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.1.%d", i+1), DefaultPort); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[uint32]bool)
	for i := 0; i < 300; i++ {
		idx := s.Pick("same-key", CmdGet)
		if idx > 2 {
			t.Fatalf("Pick returned out-of-range index %d", idx)
		}
		seen[idx] = true
	}
	if len(seen) < 2 {
		t.Errorf("random picks hit only %d of 3 servers", len(seen))
	}
}

func TestNamespacePrefixing(t *testing.T) {
	plain, err := New(Config{Distribution: DistributionModula})
	if err != nil {
		t.Fatal(err)
	}
	spaced, err := New(Config{
		Distribution:      DistributionModula,
		Namespace:         "ns:",
		HashWithNamespace: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		host := fmt.Sprintf("10.0.1.%d", i+1)
		if err := plain.AddServer(host, DefaultPort); err != nil {
			t.Fatal(err)
		}
		if err := spaced.AddServer(host, DefaultPort); err != nil {
			t.Fatal(err)
		}
	}

	for _, key := range []string{"foo", "bar", "baz"} {
		if got, want := spaced.Pick(key, CmdGet), plain.Pick("ns:"+key, CmdGet); got != want {
			t.Errorf("namespaced Pick(%q) = %d, plain Pick = %d", key, got, want)
		}
	}
}

func TestNamespaceLengthBoundary(t *testing.T) {
	s, err := New(Config{
		Distribution:      DistributionModula,
		Namespace:         "ns:",
		HashWithNamespace: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.1.%d", i+1), DefaultPort); err != nil {
			t.Fatal(err)
		}
	}

	// Composite of exactly MaxKeyLength-1 bytes is still hashed.
	fits := strings.Repeat("a", MaxKeyLength-1-len("ns:"))
	want := hashkit.Digest([]byte("ns:"+fits), hashkit.Default) % 3
	if got := s.Pick(fits, CmdGet); got != want {
		t.Errorf("Pick(fitting key) = %d, want %d", got, want)
	}

	// One byte more and the key is not hashed: the zero sentinel.
	over := fits + "a"
	if got := s.Pick(over, CmdGet); got != 0 {
		t.Errorf("Pick(overlong key) = %d, want 0", got)
	}
}

func TestVirtualBucket(t *testing.T) {
	var hash uint32
	s, err := New(Config{
		Distribution: DistributionVirtualBucket,
		Hash:         hashkit.Custom,
		HashFn:       func([]byte) uint32 { return hash },
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.1.%d", i+1), DefaultPort); err != nil {
			t.Fatal(err)
		}
	}

	forward := []uint32{0, 3, 1, 2, 2, 1, 0, 3}
	if err := s.SetVirtualBuckets(forward); err != nil {
		t.Fatal(err)
	}

	for h, want := range forward {
		hash = uint32(h)
		if got := s.Pick("k", CmdGet); got != want {
			t.Errorf("bucket %d routed to %d, want %d", h, got, want)
		}
	}

	// Hashes beyond the table wrap modulo its size.
	hash = uint32(len(forward)) + 1
	if got := s.Pick("k", CmdGet); got != forward[1] {
		t.Errorf("wrapped bucket routed to %d, want %d", got, forward[1])
	}
}

func TestSetVirtualBucketsValidation(t *testing.T) {
	s, err := New(Config{Distribution: DistributionVirtualBucket})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddServer("10.0.1.1", DefaultPort); err != nil {
		t.Fatal(err)
	}

	if err := s.SetVirtualBuckets(nil); err != ErrInvalidArguments {
		t.Errorf("empty table: err = %v, want ErrInvalidArguments", err)
	}
	if err := s.SetVirtualBuckets([]uint32{0, 7}); err != ErrInvalidArguments {
		t.Errorf("out-of-range entry: err = %v, want ErrInvalidArguments", err)
	}
}

func TestSetHashkit(t *testing.T) {
	s := newKetamaSelector(t, Config{
		Distribution: DistributionConsistentKetama,
	}, interopFleet...)

	if s.Hashkit().Algorithm() != hashkit.Default {
		t.Fatalf("default algorithm = %s", s.Hashkit().Algorithm())
	}

	if err := s.SetHashkit(nil); err != ErrInvalidArguments {
		t.Fatalf("nil hashkit: err = %v", err)
	}

	before := s.Pick("foo", CmdGet)
	if err := s.SetHashkit(hashkit.New(hashkit.Jenkins)); err != nil {
		t.Fatal(err)
	}
	if err := s.RunDistribution(); err != nil {
		t.Fatal(err)
	}
	_ = before // rings derived from different hashes need not agree

	if s.Hashkit().Algorithm() != hashkit.Jenkins {
		t.Fatalf("algorithm after swap = %s", s.Hashkit().Algorithm())
	}
	if idx := s.Pick("foo", CmdGet); int(idx) >= len(s.Servers()) {
		t.Fatalf("Pick out of range after hash swap: %d", idx)
	}
}

func TestIfThreadSafe(t *testing.T) {
	s, err := New(Config{
		Distribution: DistributionConsistentKetamaWeighted,
		Hash:         hashkit.MD5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddServer("10.0.1.1", DefaultPort); err != nil {
		t.Fatal(err)
	}
	if err := s.AddServer("10.0.1.2", DefaultPort); err != nil {
		t.Fatal(err)
	}

	wg := sync.WaitGroup{}
	ctx, cancel := context.WithTimeout(
		context.Background(),
		100*time.Millisecond,
	)
	defer cancel()

	const nWorkers = 3

	reads := [nWorkers]uint64{}
	writes := [nWorkers]uint64{}

	for i := 0; i < nWorkers; i++ {
		// reader
		wg.Add(1)
		go func(i int) {
			for ctx.Err() == nil {
				s.PickWithRedistribution("some-key", CmdGet)
				atomic.AddUint64(&reads[i], 1)
			}
			wg.Done()
		}(i)
		// writer
		wg.Add(1)
		go func(i int) {
			host := fmt.Sprintf("10.0.5.%d", i+1)
			for ctx.Err() == nil {
				s.AddServer(host, DefaultPort)
				s.RemoveServer(host)
				atomic.AddUint64(&writes[i], 1)
			}
			wg.Done()
		}(i)
	}

	wg.Wait()

	t.Logf("Reads : %v", reads)
	t.Logf("Writes: %v", writes)
}

func BenchmarkPick(b *testing.B) {
	s, err := New(Config{
		Distribution: DistributionConsistentKetamaWeighted,
		Hash:         hashkit.MD5,
	})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.6.%d", i+1), DefaultPort); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Pick("some-key", CmdGet)
	}

	b.ReportAllocs()
}

func BenchmarkPickParallel(b *testing.B) {
	s, err := New(Config{
		Distribution: DistributionConsistentKetamaWeighted,
		Hash:         hashkit.MD5,
	})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if err := s.AddServer(fmt.Sprintf("10.0.6.%d", i+1), DefaultPort); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.Pick("some-key", CmdGet)
		}
	})

	b.ReportAllocs()
}
