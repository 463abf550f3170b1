// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder/internal/events"
)

func TestEstimateNutritionIsDeterministic(t *testing.T) {
	first := estimateNutrition("beef-stew-3fa92b")
	second := estimateNutrition("beef-stew-3fa92b")
	assert.Equal(t, first, second)

	other := estimateNutrition("weeknight-tacos-a7c4e1")
	assert.NotEqual(t, first, other)
}

func TestEstimateNutritionBounds(t *testing.T) {
	for _, id := range []string{"a", "beef-stew", "crème-brûlée-ffffff", ""} {
		est := estimateNutrition(id)
		assert.GreaterOrEqual(t, est.Calories, 150, id)
		assert.Less(t, est.Calories, 800, id)
		assert.GreaterOrEqual(t, est.ProteinG, 5, id)
		assert.GreaterOrEqual(t, est.FatG, 3, id)
		assert.GreaterOrEqual(t, est.CarbsG, 0, id)
	}
}

func TestNutritionHandle(t *testing.T) {
	ne := NewNutritionEstimator(nil)

	comp, err := ne.Handle(context.Background(), Job{
		ID:     "job-3",
		Kind:   KindEstimateNutrition,
		Params: Params{RecipeID: "beef-stew-3fa92b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "nutrition:beef-stew-3fa92b", comp.ResourceID)
	assert.Equal(t, events.ChannelRecipes, comp.Channel)
	assert.Equal(t, events.NameUpdated, comp.Name)

	payload, ok := comp.Payload.(nutritionEstimated)
	require.True(t, ok)
	assert.Equal(t, "beef-stew-3fa92b", payload.RecipeID)
	assert.Equal(t, estimateNutrition("beef-stew-3fa92b"), payload.Nutrition)
}

func TestNutritionHandleRequiresRecipeID(t *testing.T) {
	ne := NewNutritionEstimator(nil)
	_, err := ne.Handle(context.Background(), Job{ID: "job-3", Kind: KindEstimateNutrition})
	require.Error(t, err)
}
