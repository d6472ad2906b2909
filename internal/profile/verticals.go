package profile

import "github.com/northpeak/aso-bible-cli/internal/model"

// builtinVerticals are the shipped vertical profiles. One entry per
// vertical the scoring product supports; adding a vertical means adding an
// entry here and running `profiles sync` so the DB mirror catches up.
var builtinVerticals = []VerticalProfile{
	{
		ID:          "language_learning",
		Label:       "Language Learning",
		Description: "Language courses, vocabulary trainers, and conversation practice apps.",
		DiscoveryThresholds: model.DiscoveryThresholds{
			Excellent: 82,
			Good:      62,
			Moderate:  42,
		},
		TokenRelevance: map[string]float64{
			"learn":      0.9,
			"language":   0.95,
			"spanish":    0.85,
			"vocabulary": 0.8,
			"fluent":     0.75,
			"grammar":    0.7,
			"flashcards": 0.6,
		},
		KPIOverrides: map[string]float64{
			"factual_grounding": 0.30,
			"keyword_coverage":  0.15,
			"entity_clarity":    0.10,
		},
		Stopwords: []string{"lesson", "course"},
	},
	{
		ID:          "rewards",
		Label:       "Rewards & Cashback",
		Description: "Loyalty, cashback, and receipt-scanning reward apps.",
		DiscoveryThresholds: model.DiscoveryThresholds{
			Excellent: 78,
			Good:      58,
			Moderate:  38,
		},
		TokenRelevance: map[string]float64{
			"cashback": 0.95,
			"rewards":  0.9,
			"points":   0.85,
			"earn":     0.8,
			"gift":     0.7,
			"coupon":   0.65,
		},
		KPIOverrides: map[string]float64{
			"conversion_rate": 0.25,
			"ratings_volume":  0.15,
		},
		Stopwords: []string{"cash", "money"},
	},
	{
		ID:          "fitness",
		Label:       "Fitness & Workouts",
		Description: "Workout planners, activity trackers, and home training apps.",
		DiscoveryThresholds: model.DiscoveryThresholds{
			Excellent: 80,
			Good:      60,
			Moderate:  40,
		},
		TokenRelevance: map[string]float64{
			"workout":  0.95,
			"fitness":  0.9,
			"training": 0.85,
			"muscle":   0.7,
			"cardio":   0.7,
			"yoga":     0.65,
		},
		KPIOverrides: map[string]float64{
			"update_cadence":  0.10,
			"conversion_rate": 0.20,
		},
		Stopwords: []string{"gym", "exercise"},
	},
	{
		ID:          "finance",
		Label:       "Personal Finance",
		Description: "Budgeting, banking, and investment tracking apps.",
		DiscoveryThresholds: model.DiscoveryThresholds{
			Excellent: 85,
			Good:      65,
			Moderate:  45,
		},
		TokenRelevance: map[string]float64{
			"budget":    0.95,
			"invest":    0.9,
			"banking":   0.85,
			"savings":   0.8,
			"portfolio": 0.75,
		},
		KPIOverrides: map[string]float64{
			"factual_grounding": 0.30,
			"ratings_volume":    0.15,
		},
		Stopwords: []string{"bank"},
	},
}
