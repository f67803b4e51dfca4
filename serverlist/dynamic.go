package serverlist

import (
	"sort"
	"sync/atomic"
)

// incipientSet builds the initial server sequence for the dynamic ring:
// a walk over the complete directed graph on live nodes that uses every
// ordered pair exactly once. From node 0, each step scans the unused
// outgoing edges in round-robin order and takes the first.
func incipientSet(live, setSize uint32) []uint32 {
	set := make([]uint32, setSize)

	used := make([][]bool, live)
	for i := range used {
		used[i] = make([]bool, live)
		used[i][i] = true
	}

	curNode := uint32(0)
	setID := 1 // first is always 0
	curFirstRow := uint32(0)

	for i := uint32(0); i < setSize-1; i++ {
		for j := uint32(0); j < live; j++ {
			curRow := (curFirstRow + j) % live
			if !used[curNode][curRow] { // always at least one
				used[curNode][curRow] = true
				set[setID] = curRow
				setID++
				curNode = curRow
				curFirstRow = (curRow + 1) % live
				break
			}
		}
	}

	return set
}

// updateDynamic reconciles the dynamic continuum with the fleet.
// Callers hold the write lock. A rebuild that finds the live-server
// count unchanged is a no-op; the controller owns all intra-membership
// adjustments.
func (s *Selector) updateDynamic() error {
	now := s.now()

	if s.dynamic == nil {
		s.dynamic = &dynamicContinuum{
			alpha:       s.cfg.Alpha,
			beta:        s.cfg.Beta,
			removingIdx: -1,
		}
	}
	d := s.dynamic

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
	d.nextRebuild = nextRebuild

	if live == 0 || d.serverCount == live {
		return nil
	}

	switch {
	case d.pointsCounter == 0:
		s.dynamicInitial(d, live)

	case live > d.serverCount:
		s.dynamicAdd(d, live)
		sort.SliceStable(d.points, func(i, j int) bool {
			return d.points[i].value < d.points[j].value
		})

	default:
		s.dynamicRemove(d, live)
		sort.SliceStable(d.points, func(i, j int) bool {
			return d.points[i].value < d.points[j].value
		})
	}

	return nil
}

// dynamicInitial lays the first ring: totalPoints virtual nodes at
// uniform intervals, owned per the incipient sequence.
func (s *Selector) dynamicInitial(d *dynamicContinuum, live uint32) {
	perServer := live - 1
	if live == 1 {
		perServer = 1
	}
	setSize := live * perServer
	totalPoints := setSize * s.cfg.SetRepetition

	set := incipientSet(live, setSize)

	unit := uint32(0xFFFFFFFF) / totalPoints
	points := make([]continuumPoint, totalPoints)
	for i := range points {
		points[i].value = unit * uint32(i+1)
		points[i].index = set[uint32(i)%setSize]
	}

	d.points = points
	d.servers = make([]serverSched, live)
	d.serverCount = live
	d.pointsCounter = totalPoints
	atomic.StoreUint32(&d.max, 0)
	atomic.StoreUint32(&d.maxID, 0)
}

// dynamicAdd grows the ring by one server: the most utilized existing
// server donates half of each of its arcs to the newcomer, which takes
// the highest fleet index.
func (s *Selector) dynamicAdd(d *dynamicContinuum, live uint32) {
	maxCost := 0.0
	maxID := uint32(0)
	for i := range d.servers {
		// Instant usage rather than cost; the controller smooths the
		// rest out over subsequent ticks.
		if c := d.servers[i].usagerate; c > maxCost {
			maxCost = c
			maxID = uint32(i)
		}
	}

	var srvNum uint32
	for i := range d.points {
		if d.points[i].index == maxID {
			srvNum++
		}
	}

	oldTotal := d.pointsCounter
	newPoints := make([]continuumPoint, 0, oldTotal+srvNum)

	for j := uint32(0); j < oldTotal; j++ {
		i := (j - 1 + d.pointsCounter) % d.pointsCounter

		if d.points[j].index == maxID {
			hs := arc(d.points[i].value, d.points[j].value) / 2
			newPoints = append(newPoints, continuumPoint{
				value: d.points[j].value - hs,
				index: live - 1,
			})
		}

		p := continuumPoint{
			value: d.points[j].value,
			index: d.points[j].index,
			sched: d.points[j].sched.snapshot(),
		}
		newPoints = append(newPoints, p)
	}

	d.points = newPoints
	d.pointsCounter = oldTotal + srvNum
	d.serverCount = live
	d.servers = make([]serverSched, live)
}

// dynamicRemove drops the removed server's points and compacts the
// indices above it.
func (s *Selector) dynamicRemove(d *dynamicContinuum, live uint32) {
	removing := d.removingIdx

	var removingPoints uint32
	for i := range d.points {
		if int(d.points[i].index) == removing {
			removingPoints++
		}
	}

	newPoints := make([]continuumPoint, 0, d.pointsCounter-removingPoints)
	for j := range d.points {
		if int(d.points[j].index) == removing {
			continue
		}
		p := continuumPoint{
			value: d.points[j].value,
			index: d.points[j].index,
			sched: d.points[j].sched.snapshot(),
		}
		if removing >= 0 && int(p.index) > removing {
			p.index--
		}
		newPoints = append(newPoints, p)
	}

	d.points = newPoints
	d.pointsCounter -= removingPoints
	d.serverCount = live
	d.servers = make([]serverSched, live)
}
