package serverlist

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

// Controller drives the periodic rebalance pass. It holds no state
// beyond a tick counter; the caller owns the timer. One controller per
// Selector.
type Controller struct {
	sel     *Selector
	w       io.Writer
	logTime uint32
}

// NewController returns a controller for sel. Statistics lines go to w;
// pass nil to fall back to the selector's configured writer.
func NewController(sel *Selector, w io.Writer) *Controller {
	if w == nil {
		w = sel.cfg.StatsWriter
	}
	return &Controller{sel: sel, w: w}
}

// Tick runs one rebalance pass for the active strategy: the dynamic
// strategies may move one ring boundary, the ketama strategies publish
// usage statistics only.
func (c *Controller) Tick() {
	switch {
	case c.sel.isDynamic():
		c.tickDynamic()
	case c.sel.isConsistent():
		c.tickKetama()
	}
}

// tickKetama aggregates per-server observations, emits one statistics
// line, and resets the counters. Ring positions never move.
func (c *Controller) tickKetama() {
	s := c.sel
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.ketama
	if k == nil || k.pointsCounter <= 1 {
		return
	}

	P := len(k.points)
	for j := 0; j < P; j++ {
		next := (j + 1) % P
		host := &k.servers[k.points[j].index]
		host.hashsize += uint64(arc(k.points[j].value, k.points[next].value))
	}

	var max uint32
	for i := range k.servers {
		host := &k.servers[i]
		host.sum = atomic.LoadUint32(&host.get) + atomic.LoadUint32(&host.set)
		if host.sum > max {
			max = host.sum
		}
	}

	c.logTime++
	fmt.Fprintf(c.w, "%d ", c.logTime)
	for i := range k.servers {
		host := &k.servers[i]
		get := atomic.LoadUint32(&host.get)
		set := atomic.LoadUint32(&host.set)

		if get != 0 && int32(set) <= int32(get-set) {
			host.hitrate = getHitrate(get, set)
			host.nhitrate = host.hitrate
		}

		host.usagerate = float64(host.sum) / float64(max)
		host.psum = host.sum

		fmt.Fprintf(c.w, "%f %f %f %f %d %d %d ",
			host.hitrate, host.nhitrate, host.usagerate,
			scost(host.nhitrate, host.usagerate, s.cfg.Alpha, s.cfg.Beta),
			host.hashsize, set, get)

		atomic.StoreUint32(&host.get, 0)
		atomic.StoreUint32(&host.set, 0)
		host.sum = 0
		host.hitrate = 0
		host.usagerate = 0
		host.hashsize = 0
	}
	fmt.Fprintln(c.w)

	k.max = 0
	k.maxID = 0
}

// tickDynamic is the load-aware pass: fold the per-point counters into
// per-server observations, pick the cheapest and the most expensive
// server, and move the single ring boundary between them that shows the
// largest cost difference. The move never crosses the neighbor, so the
// closing re-sort is a no-op.
func (c *Controller) tickDynamic() {
	s := c.sel
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dynamic
	if d == nil || d.pointsCounter <= 1 {
		return
	}

	for h := range d.servers {
		host := &d.servers[h]
		atomic.StoreUint32(&host.get, 0)
		atomic.StoreUint32(&host.set, 0)
		host.sum = 0
		host.usagerate = 0
		host.hashsize = 0
	}

	P := len(d.points)
	var max uint32
	for j := 0; j < P; j++ {
		next := (j + 1) % P
		curr := &d.points[j]
		host := &d.servers[curr.index]

		host.hashsize += uint64(arc(curr.value, d.points[next].value))
		host.get += atomic.LoadUint32(&curr.sched.get)
		host.set += atomic.LoadUint32(&curr.sched.set)
		host.sum += atomic.LoadUint32(&curr.sched.sum)

		if host.sum > max {
			max = host.sum
		}
	}

	var maxHR float64
	for h := range d.servers {
		host := &d.servers[h]
		if host.get != 0 && int32(host.set) <= int32(host.get-host.set) {
			host.hitrate = getHitrate(host.get, host.set)
		}
		if host.hitrate > maxHR {
			maxHR = host.hitrate
		}
	}

	c.logTime++
	fmt.Fprintf(c.w, "%d ---s--- ", c.logTime)
	for h := range d.servers {
		host := &d.servers[h]

		if maxHR == 0 {
			maxHR = 1
		}
		host.nhitrate = host.hitrate / maxHR
		host.usagerate = float64(host.sum) / float64(max)
		host.psum = host.sum

		fmt.Fprintf(c.w, "%f %f %f %f %d %d %d ",
			host.hitrate, host.nhitrate, host.usagerate,
			d.costServer(h), host.hashsize, host.set, host.get)
	}
	fmt.Fprintln(c.w)

	// Server level: the cheapest and the most expensive member.
	var srvMinID, srvMaxID uint32
	maxcost := 0.0
	mincost := 1000.0
	for j := range d.servers {
		cost := d.costServer(j)
		if cost > maxcost {
			maxcost = cost
			srvMaxID = uint32(j)
		}
		if cost < mincost {
			mincost = cost
			srvMinID = uint32(j)
		}
	}
	srvSucc := srvMaxID != srvMinID

	// Virtual node level: the boundary to move.
	var schedulable, maxCW bool
	var maxCost, maxCostI, maxCostJ, maxCostK float64
	var maxI, maxJ, maxK int

	if srvSucc {
		for j := 0; j < P; j++ {
			i := (j - 1 + P) % P
			k := (j + 1) % P

			if (srvMaxID == d.points[j].index && srvMinID == d.points[k].index) ||
				(srvMinID == d.points[j].index && srvMaxID == d.points[k].index) {
				cost := d.costPoint(j) - d.costPoint(k)
				cw := srvMinID == d.points[j].index
				if cost < 0 {
					cost = -cost
				}

				if cost > maxCost {
					maxCost = cost
					maxCostI = d.costPoint(i)
					maxCostJ = d.costPoint(j)
					maxCostK = d.costPoint(k)
					maxI, maxJ, maxK = i, j, k
					maxCW = cw
					schedulable = true
				}
			}
		}
	} else {
		// No distinguished pair; any adjacent boundary with the largest
		// cost difference will do.
		for j := 0; j < P; j++ {
			i := (j - 1 + P) % P
			k := (j + 1) % P

			cost := d.costPoint(j) - d.costPoint(k)
			cw := cost < 0
			if cost < 0 {
				cost = -cost
			}

			if cost > maxCost {
				maxCost = cost
				maxCostI = d.costPoint(i)
				maxCostJ = d.costPoint(j)
				maxCostK = d.costPoint(k)
				maxI, maxJ, maxK = i, j, k
				maxCW = cw
				schedulable = true
			}
		}
	}

	if schedulable {
		var rate float64
		if maxCW {
			if maxCostK > maxCostJ {
				rate = maxCostJ / maxCostK
			} else {
				rate = maxCostK / maxCostJ
			}
			amount := uint32(d.beta * (1.0 - rate) *
				float64(ringDistance(d.points[maxJ].value, d.points[maxK].value)))

			if ringDistance(d.points[maxK].value, d.points[maxJ].value) > amount {
				d.points[maxJ].value += amount
				fmt.Fprintf(c.w, "[s:%d -> %d, c:%d -> %d] moving %d of %d\n",
					d.points[maxJ].index, d.points[maxK].index,
					maxJ, maxK, amount,
					ringDistance(d.points[maxK].value, d.points[maxJ].value))
			}
		} else {
			if maxCostJ > maxCostI {
				rate = maxCostI / maxCostJ
			} else {
				rate = maxCostJ / maxCostI
			}
			amount := uint32(d.beta * (1.0 - rate) *
				float64(ringDistance(d.points[maxI].value, d.points[maxJ].value)))

			if ringDistance(d.points[maxJ].value, d.points[maxI].value) > amount {
				d.points[maxJ].value -= amount
				fmt.Fprintf(c.w, "[s:%d -> %d, c:%d -> %d] moving %d of %d\n",
					d.points[maxJ].index, d.points[maxI].index,
					maxJ, maxI, amount,
					ringDistance(d.points[maxJ].value, d.points[maxI].value))
			}
		}
	}

	// Reset so one hot interval cannot pin the ring; hit-rate and the
	// server sums carry over as the next tick's observations.
	if schedulable {
		atomic.StoreUint32(&d.max, 0)
		atomic.StoreUint32(&d.maxID, 0)
		for h := 0; h < P; h++ {
			curr := &d.points[h]
			host := &d.servers[curr.index]

			atomic.StoreUint32(&curr.sched.get, 0)
			atomic.StoreUint32(&curr.sched.set, 0)
			atomic.StoreUint32(&curr.sched.sum, 0)
			curr.sched.usagerate.Store(0)

			atomic.StoreUint32(&host.get, 0)
			atomic.StoreUint32(&host.set, 0)
			host.usagerate = 0
			host.hashsize = 0
		}
	}

	sort.SliceStable(d.points, func(i, j int) bool {
		return d.points[i].value < d.points[j].value
	})
}

// SchedStat renders the per-server prior sums of the dynamic continuum
// as a comma-prefixed CSV, the shape the stats channel expects.
func (s *Selector) SchedStat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := s.dynamic
	if d == nil {
		return ""
	}

	var b strings.Builder
	for i := range d.servers {
		fmt.Fprintf(&b, ",%d", d.servers[i].psum)
	}
	return b.String()
}
