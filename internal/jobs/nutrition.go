// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
)

// Nutrition is a per-serving estimate.
type Nutrition struct {
	Calories int `json:"calories"`
	ProteinG int `json:"protein_g"`
	CarbsG   int `json:"carbs_g"`
	FatG     int `json:"fat_g"`
}

// NutritionEstimator produces a stable placeholder estimate from the recipe
// id: the same recipe always yields the same numbers.
type NutritionEstimator struct {
	logger zerolog.Logger
}

func NewNutritionEstimator(logger *zerolog.Logger) *NutritionEstimator {
	l := log.WithComponent("jobs")
	if logger != nil {
		l = *logger
	}
	return &NutritionEstimator{logger: l}
}

// Handle implements HandlerFunc for estimate_nutrition jobs.
func (ne *NutritionEstimator) Handle(_ context.Context, job Job) (Completion, error) {
	if job.Params.RecipeID == "" {
		return Completion{}, errors.New("nutrition estimate requires a recipe id")
	}

	est := estimateNutrition(job.Params.RecipeID)

	ne.logger.Info().
		Str("event", "jobs.nutrition_estimated").
		Str(log.FieldJobID, job.ID).
		Str("recipe_id", job.Params.RecipeID).
		Int("calories", est.Calories).
		Msg("nutrition estimated")

	return Completion{
		ResourceID: "nutrition:" + job.Params.RecipeID,
		Channel:    events.ChannelRecipes,
		Name:       events.NameUpdated,
		Payload: nutritionEstimated{
			JobID:     job.ID,
			RecipeID:  job.Params.RecipeID,
			Nutrition: est,
		},
	}, nil
}

type nutritionEstimated struct {
	JobID     string    `json:"job_id"`
	RecipeID  string    `json:"recipe_id"`
	Nutrition Nutrition `json:"nutrition"`
}

// estimateNutrition hashes the recipe id into plausible per-serving macros
// whose calories roughly match 4/4/9 kcal per gram.
func estimateNutrition(recipeID string) Nutrition {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipeID))
	n := h.Sum32()

	calories := 150 + int(n%650)
	protein := 5 + int((n>>8)%45)
	fat := 3 + int((n>>16)%40)
	carbs := (calories - protein*4 - fat*9) / 4
	if carbs < 0 {
		carbs = 0
	}
	return Nutrition{Calories: calories, ProteinG: protein, CarbsG: carbs, FatG: fat}
}
