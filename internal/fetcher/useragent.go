package fetcher

import "math/rand/v2"

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.67",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// UserAgentPool hands out a random User-Agent per request.
type UserAgentPool struct {
	agents []string
}

// NewUserAgentPool returns a pool over agents, or over a built-in list of
// common desktop and mobile browsers when agents is empty.
func NewUserAgentPool(agents []string) *UserAgentPool {
	var clean []string
	for _, a := range agents {
		if a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		clean = defaultUserAgents
	}
	return &UserAgentPool{agents: clean}
}

// Random returns one agent chosen uniformly.
func (p *UserAgentPool) Random() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// Len returns the number of agents in the pool.
func (p *UserAgentPool) Len() int { return len(p.agents) }
