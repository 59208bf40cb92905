package actions

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEveryAction(t *testing.T) {
	bodies := map[Name]string{
		PersonalizeRecipe:           `{"action":"personalizeRecipe","data":{"recipe":{"title":"Pasta"}}}`,
		GenerateMealPlanIdeas:       `{"action":"generateMealPlanIdeas","data":{"preferences":{}}}`,
		GenerateRecipeDescription:   `{"action":"generateRecipeDescription","data":{"recipe":{"title":"Pasta"}}}`,
		CreateRecipeFromIngredients: `{"action":"createRecipeFromIngredients","data":{"ingredients":["egg"]}}`,
		GetSuggestedRecipes:         `{"action":"getSuggestedRecipes"}`,
	}
	require.Len(t, bodies, len(Names))
	for _, name := range Names {
		req, err := Decode([]byte(bodies[name]))
		require.NoError(t, err, name)
		assert.Equal(t, name, req.Action())
		prompt := req.Prompt()
		assert.NotEmpty(t, prompt.System, name)
		assert.Contains(t, prompt.User, "JSON object", name)
	}
}

func TestDecodeDefaults(t *testing.T) {
	req, err := Decode([]byte(`{"action":"personalizeRecipe","data":{"recipe":{"title":" Pasta "}}}`))
	require.NoError(t, err)
	personalize := req.(*PersonalizeRecipeRequest)
	assert.Equal(t, DefaultSkillLevel, personalize.SkillLevel)
	assert.Equal(t, "Pasta", personalize.Recipe.Title)

	req, err = Decode([]byte(`{"action":"generateMealPlanIdeas","data":null}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPlanDuration, req.(*MealPlanIdeasRequest).Duration)

	req, err = Decode([]byte(`{"action":"getSuggestedRecipes","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultSuggestedCount, req.(*SuggestedRecipesRequest).Count)
}

func TestDecodeUnsupportedAction(t *testing.T) {
	_, err := Decode([]byte(`{"action":"deleteEverything","data":{}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedAction))
	assert.Equal(t, "Unsupported action: deleteEverything", err.Error())

	var unsupported *UnsupportedActionError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "deleteEverything", unsupported.Action)
}

func TestDecodeInvalidPayload(t *testing.T) {
	cases := map[string]string{
		"malformed body":     `{"action":`,
		"missing title":      `{"action":"personalizeRecipe","data":{"recipe":{}}}`,
		"blank ingredients":  `{"action":"createRecipeFromIngredients","data":{"ingredients":[" ",""]}}`,
		"duration too long":  `{"action":"generateMealPlanIdeas","data":{"duration":45}}`,
		"count too large":    `{"action":"getSuggestedRecipes","data":{"count":11}}`,
		"wrong payload type": `{"action":"generateRecipeDescription","data":{"recipe":"Pasta"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPayload))
			assert.False(t, errors.Is(err, ErrUnsupportedAction))
		})
	}
}

func TestPromptUsesCatalogRecipe(t *testing.T) {
	body := `{"action":"personalizeRecipe","data":{
		"recipe":{"title":"Stew","extendedIngredients":[{"original":"1 lb beef"}],
		"analyzedInstructions":[{"steps":[{"step":"Brown the beef"},{"step":"Simmer"}]}]},
		"allergies":["peanuts"],"servingSize":2}}`
	req, err := Decode([]byte(body))
	require.NoError(t, err)

	prompt := req.Prompt()
	assert.Equal(t, "Personalize this recipe with specific dietary adjustments.", prompt.System)
	assert.Contains(t, prompt.User, "1 lb beef")
	assert.Contains(t, prompt.User, "Brown the beef\nSimmer")
	assert.Contains(t, prompt.User, "Allergies to Avoid: peanuts")
	assert.Contains(t, prompt.User, "Dietary Preferences: None specified")
	assert.Contains(t, prompt.User, "Desired Servings: 2")
}

func TestMealPlanPromptListsExistingMeals(t *testing.T) {
	req := &MealPlanIdeasRequest{
		Preferences:   Preferences{NutritionGoals: []byte(`{"protein":120}`)},
		ExistingMeals: []ExistingMeal{{Day: 2, MealType: "lunch", Title: "Salad"}},
	}
	require.NoError(t, req.normalize())
	user := req.Prompt().User
	assert.True(t, strings.HasPrefix(user, "Generate a 7-day meal plan"))
	assert.Contains(t, user, "Day 2 lunch: Salad")
	assert.Contains(t, user, `Nutritional Goals: {"protein":120}`)
}

func TestTextListShapes(t *testing.T) {
	var list TextList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a", 2, {"text":"b"}, {"quantity":"1","name":"egg"}, ""]`)))
	assert.Equal(t, TextList{"a", "2", "b", "1 egg"}, list)

	require.NoError(t, list.UnmarshalJSON([]byte(`"one\n\n two "`)))
	assert.Equal(t, TextList{"one", "two"}, list)
}
