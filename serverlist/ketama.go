package serverlist

import (
	"crypto/md5"
	"fmt"
	"sort"
)

const (
	// pointsPerServer is the ring share of one unweighted server.
	pointsPerServer = 160

	// pointsPerHashWeighted is the ketama MD5 alignment rule: four ring
	// positions per source label, carved out of one digest.
	pointsPerHashWeighted = 4

	maxPortLength = 5
	sortHostLen   = 1 + maxHostLength + 1 + maxPortLength + 1 + maxPortLength
)

// ketamaServerHash extracts ring position number alignment from a
// label's MD5 digest, little-endian within each 4-byte group. This must
// stay bit-exact; it is the wire-compatibility contract with peer
// ketama clients.
func ketamaServerHash(label string, alignment int) uint32 {
	d := md5.Sum([]byte(label))
	return uint32(d[3+alignment*4])<<24 |
		uint32(d[2+alignment*4])<<16 |
		uint32(d[1+alignment*4])<<8 |
		uint32(d[alignment*4])
}

// updateContinuum rebuilds the ketama ring from the fleet. Callers hold
// the write lock. When every server is ejected the previous ring stays
// installed.
func (s *Selector) updateContinuum() error {
	now := s.now()

	var nextRebuild int64
	live := uint32(len(s.servers))
	autoEjecting := s.cfg.AutoEjectHosts
	if autoEjecting {
		live = 0
		for i := range s.servers {
			if s.servers[i].NextRetry <= now {
				live++
			} else if nextRebuild == 0 || s.servers[i].NextRetry < nextRebuild {
				nextRebuild = s.servers[i].NextRetry
			}
		}
	}

	if live == 0 {
		if s.ketama == nil {
			s.ketama = &ketamaContinuum{}
		}
		s.ketama.nextRebuild = nextRebuild
		return nil
	}

	weighted := s.isWeightedKetama()

	var totalWeight uint64
	if weighted {
		for i := range s.servers {
			if !autoEjecting || s.servers[i].NextRetry <= now {
				totalWeight += uint64(s.servers[i].Weight)
			}
		}
	}

	spy := s.cfg.Distribution == DistributionConsistentKetamaSpy

	var pointerCounter uint32
	points := make([]continuumPoint, 0, live*pointsPerServer)

	for hostIndex := range s.servers {
		inst := &s.servers[hostIndex]
		if autoEjecting && inst.NextRetry > now {
			continue
		}

		perServer := uint32(pointsPerServer)
		perHash := uint32(1)
		if weighted {
			pct := float32(inst.Weight) / float32(totalWeight)
			// float32 arithmetic then a widened floor, matching the C
			// promotion rules so point counts agree with peer clients.
			f := pct * pointsPerServer / 4 * float32(live)
			perServer = uint32(float64(f)+0.0000000001) * 4
			perHash = pointsPerHashWeighted
		}

		for pointerIndex := uint32(0); pointerIndex < perServer/perHash; pointerIndex++ {
			var label string
			if spy {
				// Spymemcached ketama key format is hostname/ip:port-index.
				label = fmt.Sprintf("/%s:%d-%d", inst.Hostname, inst.Port, pointerIndex)
			} else if inst.Port == DefaultPort {
				label = fmt.Sprintf("%s-%d", inst.Hostname, pointerIndex)
			} else {
				label = fmt.Sprintf("%s:%d-%d", inst.Hostname, inst.Port, pointerIndex)
			}

			if len(label) >= sortHostLen {
				return fmt.Errorf("%w: continuum label for %s overflows %d bytes",
					ErrMemoryAllocationFailure, inst.Hostname, sortHostLen)
			}

			if weighted {
				for x := 0; x < pointsPerHashWeighted; x++ {
					points = append(points, continuumPoint{
						value: ketamaServerHash(label, x),
						index: uint32(hostIndex),
					})
				}
			} else {
				points = append(points, continuumPoint{
					value: s.hk.Digest([]byte(label)),
					index: uint32(hostIndex),
				})
			}
		}

		pointerCounter += perServer
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].value < points[j].value
	})

	c := &ketamaContinuum{
		points:        points,
		serverCount:   live,
		pointsCounter: pointerCounter,
		nextRebuild:   nextRebuild,
	}

	// Statistics are indexed by fleet position; carry the counters
	// across a rebuild that kept the fleet size, start fresh otherwise.
	if s.ketama != nil && len(s.ketama.servers) == len(s.servers) {
		c.servers = s.ketama.servers
	} else {
		c.servers = make([]serverSched, len(s.servers))
	}

	s.ketama = c
	return nil
}

// isWeightedKetama reports whether point counts follow server weights:
// either the weighted distribution was selected outright or a weight
// above 1 latched the fleet into weighted mode.
func (s *Selector) isWeightedKetama() bool {
	return s.weighted
}
