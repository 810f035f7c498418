package services

import (
	"math"

	"trustwork_backend/internal/models"
)

var progressWeights = map[models.MilestoneStatus]float64{
	models.MilestoneStatusApproved:   1.0,
	models.MilestoneStatusSubmitted:  0.8,
	models.MilestoneStatusInProgress: 0.3,
}

// Progress - процент выполнения гига по этапам, в [0, 100]
func Progress(milestones []models.Milestone) int {
	var sum float64
	for _, m := range milestones {
		sum += progressWeights[m.Status] * m.Percentage
	}
	p := int(math.Round(sum))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
