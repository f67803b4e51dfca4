package serverlist

// virtualBucket is a fixed forwarding table: hash modulo the table size
// names the bucket, the bucket names the server.
type virtualBucket struct {
	forward []uint32
}

func (v *virtualBucket) get(hash uint32) uint32 {
	return v.forward[hash%uint32(len(v.forward))]
}

// SetVirtualBuckets installs the forwarding table used by the
// VirtualBucket distribution. Every entry must name a fleet index.
func (s *Selector) SetVirtualBuckets(forward []uint32) error {
	if s == nil || len(forward) == 0 {
		return ErrInvalidArguments
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range forward {
		if int(idx) >= len(s.servers) {
			return ErrInvalidArguments
		}
	}

	table := make([]uint32, len(forward))
	copy(table, forward)
	s.vbucket = &virtualBucket{forward: table}
	return nil
}
