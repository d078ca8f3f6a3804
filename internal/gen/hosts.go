package gen

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// Host is one simulated machine identity. Created once at startup and
// never mutated.
type Host struct {
	ID                 int
	Hostname           string
	Region             string
	Datacenter         string
	Rack               string
	OS                 string
	Arch               string
	Team               string
	Service            string
	ServiceVersion     string
	ServiceEnvironment string
}

var (
	regions = []string{
		"us-east-1", "us-west-1", "us-west-2",
		"eu-west-1", "eu-central-1",
		"ap-southeast-1", "ap-southeast-2", "ap-northeast-1",
		"sa-east-1",
	}

	regionDatacenters = map[string][]string{
		"us-east-1":      {"us-east-1a", "us-east-1b", "us-east-1c", "us-east-1e"},
		"us-west-1":      {"us-west-1a", "us-west-1b"},
		"us-west-2":      {"us-west-2a", "us-west-2b", "us-west-2c"},
		"eu-west-1":      {"eu-west-1a", "eu-west-1b", "eu-west-1c"},
		"eu-central-1":   {"eu-central-1a", "eu-central-1b"},
		"ap-southeast-1": {"ap-southeast-1a", "ap-southeast-1b"},
		"ap-southeast-2": {"ap-southeast-2a", "ap-southeast-2b"},
		"ap-northeast-1": {"ap-northeast-1a", "ap-northeast-1c"},
		"sa-east-1":      {"sa-east-1a", "sa-east-1b", "sa-east-1c"},
	}

	osChoices   = []string{"Ubuntu16.10", "Ubuntu16.04LTS", "Ubuntu15.10", "CentOS7", "RHEL8", "Amazon Linux 2"}
	archChoices = []string{"x64", "x86", "arm64"}
	teamChoices = []string{"SF", "NYC", "LON", "CHI", "TKY", "SYD", "BER", "TOR"}
	envChoices  = []string{"production", "staging", "test", "development", "qa"}
)

// NewHostCatalog builds count hosts with metadata assigned
// deterministically from seed. The same (seed, count) always yields the
// same catalog, independent of worker layout.
func NewHostCatalog(count int, seed int64) []*Host {
	hosts := make([]*Host, count)
	for id := 0; id < count; id++ {
		rng := rand.New(rand.NewSource(hashSeed(seed, "host", int64(id))))
		region := regions[rng.Intn(len(regions))]
		dcs := regionDatacenters[region]
		hosts[id] = &Host{
			ID:                 id,
			Hostname:           fmt.Sprintf("host_%d", id),
			Region:             region,
			Datacenter:         dcs[rng.Intn(len(dcs))],
			Rack:               fmt.Sprintf("%d", 1+rng.Intn(100)),
			OS:                 osChoices[rng.Intn(len(osChoices))],
			Arch:               archChoices[rng.Intn(len(archChoices))],
			Team:               teamChoices[rng.Intn(len(teamChoices))],
			Service:            fmt.Sprintf("%d", 1+rng.Intn(20)),
			ServiceVersion:     fmt.Sprintf("%d", 1+rng.Intn(2)),
			ServiceEnvironment: envChoices[rng.Intn(len(envChoices))],
		}
	}
	return hosts
}

// hashSeed derives a deterministic sub-seed from a global seed and a
// set of discriminators via FNV-1a.
func hashSeed(seed int64, kind string, parts ...int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	putInt64(&buf, seed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(kind))
	for _, p := range parts {
		putInt64(&buf, p)
		_, _ = h.Write(buf[:])
	}
	return int64(h.Sum64())
}

func putInt64(buf *[8]byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}
