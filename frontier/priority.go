package frontier

import "github.com/aluiziolira/civic-crawler/models"

const (
	MinPriority = 1.0
	MaxPriority = 20.0

	maxExtractableBonus = 3.0
)

// DynamicPriority recomputes a target's priority from its analysis:
//
//	clamp(1, 20, base + (importance-5) + 0.5(freshness-5) + structure
//	             + min(3, extractable) + 2(confidence-0.5))
func DynamicPriority(base float64, a models.ContentAnalysis) float64 {
	p := base +
		float64(a.Importance-5) +
		0.5*float64(a.Freshness-5) +
		structureBonus(a.Structure) +
		extractableBonus(a.Extractable) +
		2*(a.Confidence-0.5)
	return clampPriority(p)
}

func structureBonus(s models.Structure) float64 {
	switch s {
	case models.StructureStructured:
		return 2
	case models.StructureSemiStructured:
		return 1
	}
	return 0
}

func extractableBonus(c models.ExtractableCounts) float64 {
	b := float64(c.Tables) +
		0.5*float64(c.Forms) +
		0.25*float64(c.Lists) +
		0.25*float64(c.Contacts) +
		0.1*float64(c.Dates) +
		0.25*float64(c.Amounts)
	if b > maxExtractableBonus {
		return maxExtractableBonus
	}
	return b
}

func clampPriority(p float64) float64 {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
