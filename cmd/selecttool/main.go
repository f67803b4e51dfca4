// selecttool prints the server chosen for every key in a data file so a
// ring built here can be diffed against one built by a peer client.
//
// The servers file holds one server per line: "t HOST PORT [WEIGHT]"
// for TCP or "u PATH" for a unix socket. The data file holds one key
// per line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jinho10/dht-sched/hashkit"
	"github.com/jinho10/dht-sched/serverlist"
)

func die(format string, data ...interface{}) {
	fmt.Fprintf(os.Stderr, format, data...)
	fmt.Fprintf(os.Stderr, "\n")
	os.Exit(1)
}

var distributions = map[string]serverlist.Distribution{
	"modula":          serverlist.DistributionModula,
	"random":          serverlist.DistributionRandom,
	"ketama":          serverlist.DistributionConsistentKetama,
	"ketama-weighted": serverlist.DistributionConsistentKetamaWeighted,
	"ketama-spy":      serverlist.DistributionConsistentKetamaSpy,
	"dynamic":         serverlist.DistributionDynamic,
}

var hashes = map[string]hashkit.Algorithm{
	"default":  hashkit.Default,
	"md5":      hashkit.MD5,
	"crc":      hashkit.CRC,
	"fnv1_64":  hashkit.FNV1_64,
	"fnv1a_64": hashkit.FNV1a_64,
	"fnv1_32":  hashkit.FNV1_32,
	"fnv1a_32": hashkit.FNV1a_32,
	"jenkins":  hashkit.Jenkins,
	"hsieh":    hashkit.Hsieh,
	"murmur":   hashkit.Murmur,
}

func parseServerLine(line string) (serverlist.Server, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return serverlist.Server{}, fmt.Errorf("empty server line")
	}

	switch parts[0] {
	case "t":
		if len(parts) != 3 && len(parts) != 4 {
			return serverlist.Server{}, fmt.Errorf("incorrect parts: %q", parts)
		}
		port, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return serverlist.Server{}, fmt.Errorf("bad port in %q: %w", parts, err)
		}
		weight := uint64(0)
		if len(parts) == 4 {
			weight, err = strconv.ParseUint(parts[3], 10, 32)
			if err != nil {
				return serverlist.Server{}, fmt.Errorf("bad weight in %q: %w", parts, err)
			}
		}
		return serverlist.Server{
			Hostname: parts[1],
			Port:     uint16(port),
			Weight:   uint32(weight),
		}, nil
	case "u":
		if len(parts) != 2 {
			return serverlist.Server{}, fmt.Errorf("incorrect parts: %q", parts)
		}
		return serverlist.Server{
			Hostname:  parts[1],
			Transport: serverlist.TransportUnix,
		}, nil
	default:
		return serverlist.Server{}, fmt.Errorf("unknown server type: %s", parts[0])
	}
}

func main() {
	distName := flag.String("dist", "ketama-weighted", "distribution strategy")
	hashName := flag.String("hash", "md5", "hash algorithm")
	flag.Parse()

	if flag.NArg() != 2 {
		die("Usage: selecttool [-dist D] [-hash H] SERVERS DATA")
	}

	dist, ok := distributions[*distName]
	if !ok {
		die("Unknown distribution: %s", *distName)
	}
	algo, ok := hashes[*hashName]
	if !ok {
		die("Unknown hash: %s", *hashName)
	}

	sel, err := serverlist.New(serverlist.Config{
		Distribution: dist,
		Hash:         algo,
	})
	if err != nil {
		die("Cannot create selector: %s", err)
	}

	sf, err := os.Open(flag.Arg(0))
	if err != nil {
		die("Cannot open servers file: %s", err)
	}
	defer sf.Close()

	var servers []serverlist.Server
	ss := bufio.NewScanner(sf)
	for ss.Scan() {
		srv, err := parseServerLine(ss.Text())
		if err != nil {
			die("Cannot parse server line: %s", err)
		}
		servers = append(servers, srv)
	}
	if err := ss.Err(); err != nil {
		die("Scanning servers file failed: %s", err)
	}

	if err := sel.PushServers(servers); err != nil {
		die("Cannot push servers: %s", err)
	}

	df, err := os.Open(flag.Arg(1))
	if err != nil {
		die("Cannot open data file: %s", err)
	}
	defer df.Close()

	fleet := sel.Servers()

	ds := bufio.NewScanner(df)
	for ds.Scan() {
		key := ds.Text()
		idx := sel.Pick(key, serverlist.CmdOther)
		fmt.Printf("%s %d %s\n", key, idx, fleet[idx].Label())
	}
	if err := ds.Err(); err != nil {
		die("Scanning data file failed: %s", err)
	}
}
