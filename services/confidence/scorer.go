package confidence

import (
	"math"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/models"
)

const DefaultPolicyVersion = "v1-default"

// Policy weights the fields of extracted items. Weights are a heuristic and
// versioned so every stored score can be traced to the policy that produced it.
type Policy struct {
	Version        string
	RequiredWeight float64
	OptionalWeight float64
	PerItemBonus   float64
	MaxItemBonus   float64
	Ceiling        float64
}

func DefaultPolicy() Policy {
	return Policy{
		Version:        DefaultPolicyVersion,
		RequiredWeight: 1.0,
		OptionalWeight: 0.5,
		PerItemBonus:   0.01,
		MaxItemBonus:   0.1,
		Ceiling:        0.95,
	}
}

// PolicyFromConfig overlays the configured values on the defaults. A policy
// that changes any weight without naming a version is labelled "custom".
func PolicyFromConfig(cfg config.ConfidencePolicy) Policy {
	policy := DefaultPolicy()
	changed := false

	overlay := func(dst *float64, v float64) {
		if v > 0 && v != *dst {
			*dst = v
			changed = true
		}
	}
	overlay(&policy.RequiredWeight, cfg.RequiredWeight)
	overlay(&policy.OptionalWeight, cfg.OptionalWeight)
	overlay(&policy.PerItemBonus, cfg.PerItemBonus)
	overlay(&policy.MaxItemBonus, cfg.MaxItemBonus)
	overlay(&policy.Ceiling, cfg.Ceiling)

	switch {
	case cfg.Version != "":
		policy.Version = cfg.Version
	case changed:
		policy.Version = "custom"
	}
	return policy
}

type Scorer struct {
	policy Policy
}

func NewScorer(policy Policy) interfaces.ConfidenceScorer {
	return &Scorer{policy: policy}
}

func (s *Scorer) PolicyVersion() string {
	return s.policy.Version
}

// Score is deterministic and always within [0, Ceiling]. Required fields always
// count towards the possible weight, optional fields only when present.
func (s *Scorer) Score(reqs *models.ExtractedRequirements) float64 {
	if reqs.IsEmpty() {
		return 0
	}
	p := s.policy

	var filled, possible float64
	for _, item := range reqs.Items {
		possible += 2 * p.RequiredWeight
		if item.HasDescription() {
			filled += p.RequiredWeight
		}
		if item.HasQuantity() {
			filled += p.RequiredWeight
		}
		for _, present := range []bool{item.HasUnitPrice(), item.HasSpecifications(), item.HasCategory()} {
			if present {
				filled += p.OptionalWeight
				possible += p.OptionalWeight
			}
		}
	}
	if possible <= 0 {
		return 0
	}

	base := filled / possible
	bonus := math.Min(p.MaxItemBonus, float64(len(reqs.Items))*p.PerItemBonus)
	score := math.Min(p.Ceiling, base+bonus)
	score = math.Max(0, score)
	return math.Round(score*100) / 100
}
