package fetcher

import "math/rand"

// DefaultUserAgent identifies the crawler honestly — no impersonation.
const DefaultUserAgent = "foiacrawl/1.0 (+https://github.com/foiacquire/crawler)"

// impersonationPool is the rotating pool of real-browser strings drawn from
// under the "impersonate" user-agent policy (spec §4.2 "User agent
// policy"). Rotation is pseudorandom, not round-robin, so two requests
// issued back to back are not guaranteed distinct strings.
var impersonationPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// UserAgentSelector resolves the outgoing User-Agent header per request,
// implementing the three-way policy of spec §4.2 / §6.
type UserAgentSelector struct {
	policy string // "default", "impersonate", or a literal custom string
	rng    *rand.Rand
}

func NewUserAgentSelector(policy string, seed int64) *UserAgentSelector {
	return &UserAgentSelector{policy: policy, rng: rand.New(rand.NewSource(seed))}
}

// Select returns the User-Agent header value for one outgoing request.
func (s *UserAgentSelector) Select() string {
	switch s.policy {
	case "", "default":
		return DefaultUserAgent
	case "impersonate":
		return impersonationPool[s.rng.Intn(len(impersonationPool))]
	default:
		return s.policy
	}
}
