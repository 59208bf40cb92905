package actions

import "strings"

// RecipeResult is returned by personalizeRecipe and createRecipeFromIngredients.
type RecipeResult struct {
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Ingredients      TextList   `json:"ingredients"`
	Instructions     TextList   `json:"instructions"`
	PrepTime         FlexString `json:"prepTime,omitempty"`
	CookTime         FlexString `json:"cookTime,omitempty"`
	Servings         FlexInt    `json:"servings,omitempty"`
	NutritionalNotes string     `json:"nutritionalNotes,omitempty"`
	Explanation      string     `json:"explanation,omitempty"`

	AdjustedIngredients  TextList `json:"adjustedIngredients,omitempty"`
	AdjustedInstructions TextList `json:"adjustedInstructions,omitempty"`
}

func (r *RecipeResult) finish() bool {
	if len(r.Ingredients) == 0 {
		r.Ingredients = r.AdjustedIngredients
	}
	if len(r.Instructions) == 0 {
		r.Instructions = r.AdjustedInstructions
	}
	r.AdjustedIngredients, r.AdjustedInstructions = nil, nil
	r.Title = strings.TrimSpace(r.Title)
	return len(r.Ingredients) > 0 || len(r.Instructions) > 0
}

// MealSuggestion is one suggested meal in a plan.
type MealSuggestion struct {
	Day                   FlexInt    `json:"day"`
	Title                 string     `json:"title"`
	MealType              string     `json:"mealType"`
	EstimatedPrepTime     FlexString `json:"estimatedPrepTime,omitempty"`
	KeyIngredients        TextList   `json:"keyIngredients,omitempty"`
	NutritionalHighlights string     `json:"nutritionalHighlights,omitempty"`
}

// MealPlanIdeasResult is returned by generateMealPlanIdeas.
type MealPlanIdeasResult struct {
	Suggestions []MealSuggestion `json:"suggestions"`
	Meals       []MealSuggestion `json:"meals,omitempty"`
}

func (r *MealPlanIdeasResult) finish() bool {
	if len(r.Suggestions) == 0 {
		r.Suggestions = r.Meals
	}
	r.Meals = nil
	kept := r.Suggestions[:0]
	for _, s := range r.Suggestions {
		if strings.TrimSpace(s.Title) != "" {
			s.MealType = strings.ToLower(strings.TrimSpace(s.MealType))
			kept = append(kept, s)
		}
	}
	r.Suggestions = kept
	return len(r.Suggestions) > 0
}

// RecipeDescriptionResult is returned by generateRecipeDescription.
type RecipeDescriptionResult struct {
	Description      string   `json:"description"`
	ShortDescription string   `json:"shortDescription,omitempty"`
	Tags             TextList `json:"tags,omitempty"`
}

func (r *RecipeDescriptionResult) finish() bool {
	r.Description = strings.TrimSpace(r.Description)
	return r.Description != ""
}

// RecipeSuggestion is one suggested recipe.
type RecipeSuggestion struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	MealType       string     `json:"mealType,omitempty"`
	PrepTime       FlexString `json:"prepTime,omitempty"`
	Tags           TextList   `json:"tags,omitempty"`
	KeyIngredients TextList   `json:"keyIngredients,omitempty"`
}

// SuggestedRecipesResult is returned by getSuggestedRecipes.
type SuggestedRecipesResult struct {
	Recipes []RecipeSuggestion `json:"recipes"`
}

func (r *SuggestedRecipesResult) finish() bool {
	kept := r.Recipes[:0]
	for _, rec := range r.Recipes {
		if strings.TrimSpace(rec.Title) != "" {
			kept = append(kept, rec)
		}
	}
	r.Recipes = kept
	return len(r.Recipes) > 0
}

// DegradedResult carries the provider text when no usable object was found.
type DegradedResult struct {
	RawContent  string `json:"rawContent"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// DegradedMessage explains a degraded result to the caller.
const DegradedMessage = "The AI response could not be parsed as structured data; the raw text is returned instead."

func degraded(text string) *DegradedResult {
	return &DegradedResult{RawContent: text, Description: text, Message: DegradedMessage}
}
