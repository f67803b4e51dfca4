/*
Package serverlist maps cache keys onto the servers of a sharded
memcache fleet. It is wire-compatible with libmemcached: a ring built
here from the same server list sends the same keys to the same nodes as
any libmemcached based client.

Several distribution strategies are supported. Modula and Random are the
trivial ones. ConsistentKetama (plus its spy-client and weighted
variants) is the classic MD5 continuum. Dynamic is an adaptive
continuum: virtual nodes start uniformly spaced and a periodic
Controller nudges the boundary between the cheapest and the most
expensive server toward equilibrium, using per-server hit-rate and
utilization observations gathered on the selection path.

It is designed with the github.com/bradfitz/gomemcache/memcache package
in mind: ServerList implements memcache.ServerSelector, so it is a
drop-in replacement for memcache.ServerList.

Usage could look something like this:

	sel, _ := serverlist.New(serverlist.Config{
		Distribution: serverlist.DistributionConsistentKetamaWeighted,
		Hash:         hashkit.MD5,
	})
	sel.AddServer("10.0.1.1", 11211)
	sel.AddServer("10.0.1.2", 11211)

	idx := sel.PickWithRedistribution("some-key", serverlist.CmdGet)
*/
package serverlist
