package lavago

// PenaltyProvider contributes additional balancer score for a node given
// a candidate voice region. The default Balancer registers only
// RegionPenaltyProvider; host applications may register more via
// Balancer.Register.
type PenaltyProvider interface {
	Penalty(node *Node, region RegionGroup) int
}

// softBlockPenalty heavily discourages, without forbidding, selecting a
// node whose region group doesn't match the candidate voice region.
const softBlockPenalty = 1000

// RegionPenaltyProvider is the default PenaltyProvider: 0 if either side
// is UNKNOWN, 0 if the groups match, softBlockPenalty otherwise.
type RegionPenaltyProvider struct{}

func (RegionPenaltyProvider) Penalty(node *Node, region RegionGroup) int {
	nodeRegion := node.cfg.Region
	if region == RegionUnknown || nodeRegion == RegionUnknown {
		return 0
	}
	if nodeRegion == region {
		return 0
	}
	return softBlockPenalty
}

// Balancer picks the lowest-scored available node from a candidate set.
type Balancer struct {
	providers []PenaltyProvider
}

// NewBalancer returns a Balancer with the default region penalty provider
// registered.
func NewBalancer() *Balancer {
	return &Balancer{providers: []PenaltyProvider{RegionPenaltyProvider{}}}
}

// Register adds an additional PenaltyProvider consulted by Select.
func (b *Balancer) Register(p PenaltyProvider) {
	b.providers = append(b.providers, p)
}

// Select returns the available node in candidates minimizing
// node.penaltyTotal() + sum of every registered provider's penalty for
// region. Ties are broken by first-seen order in candidates.
func (b *Balancer) Select(candidates []*Node, region RegionGroup, guildID string) (*Node, error) {
	if len(candidates) == 1 {
		n := candidates[0]
		if !n.Available() {
			return nil, &NodeUnavailableError{Node: n.Name()}
		}
		return n, nil
	}

	var best *Node
	bestScore := 0
	for _, n := range candidates {
		if !n.Available() {
			continue
		}
		score := n.penaltyTotal()
		for _, p := range b.providers {
			score += p.Penalty(n, region)
		}
		if best == nil || score < bestScore {
			best = n
			bestScore = score
		}
	}
	if best == nil {
		return nil, &NoAvailableNodeError{Candidates: len(candidates)}
	}
	return best, nil
}
