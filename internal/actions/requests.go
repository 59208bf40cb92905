package actions

import (
	"errors"
	"fmt"
	"strings"
)

// Payload limits.
const (
	DefaultSkillLevel     = "intermediate"
	DefaultPlanDuration   = 7
	MaxPlanDuration       = 31
	DefaultSuggestedCount = 5
	MaxSuggestedCount     = 10
)

const notSpecified = "None specified"

// PersonalizeRecipeRequest adapts a recipe to the caller's diet and skill.
type PersonalizeRecipeRequest struct {
	Recipe             RecipeInput `json:"recipe"`
	DietaryPreferences []string    `json:"dietaryPreferences,omitempty"`
	HealthConditions   []string    `json:"healthConditions,omitempty"`
	Allergies          []string    `json:"allergies,omitempty"`
	SkillLevel         string      `json:"skillLevel,omitempty"`
	ServingSize        int         `json:"servingSize,omitempty"`
}

func (*PersonalizeRecipeRequest) Action() Name { return PersonalizeRecipe }

func (r *PersonalizeRecipeRequest) normalize() error {
	r.Recipe.Title = strings.TrimSpace(r.Recipe.Title)
	if r.Recipe.Title == "" {
		return errors.New("recipe.title is required")
	}
	r.SkillLevel = strings.TrimSpace(r.SkillLevel)
	if r.SkillLevel == "" {
		r.SkillLevel = DefaultSkillLevel
	}
	if r.ServingSize < 0 {
		return errors.New("servingSize must not be negative")
	}
	return nil
}

func (r *PersonalizeRecipeRequest) Prompt() Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Recipe to personalize: %s\n\n", r.Recipe.Title)
	fmt.Fprintf(&b, "Original Ingredients:\n%s\n\n", joinLines(r.Recipe.IngredientLines(), "Ingredients not provided"))
	fmt.Fprintf(&b, "Original Instructions:\n%s\n\n", joinLines(r.Recipe.InstructionSteps(), "Instructions not provided"))
	fmt.Fprintf(&b, "User Dietary Preferences: %s\n", joinOr(r.DietaryPreferences))
	fmt.Fprintf(&b, "Health Conditions to Consider: %s\n", joinOr(r.HealthConditions))
	fmt.Fprintf(&b, "Allergies to Avoid: %s\n", joinOr(r.Allergies))
	fmt.Fprintf(&b, "Cooking Skill Level: %s\n", r.SkillLevel)
	if r.ServingSize > 0 {
		fmt.Fprintf(&b, "Desired Servings: %d\n", r.ServingSize)
	}
	b.WriteString(`
Please provide:
1. Adjusted ingredients with appropriate substitutions for dietary needs, health conditions and allergies
2. Modified cooking instructions appropriate for the skill level
3. A brief explanation of why these adjustments improve the recipe for the specified preferences
4. Estimated nutritional impact of these changes (if applicable)

Respond with a single JSON object with keys: title (string), description (string), ingredients (array of strings),
instructions (array of strings), prepTime (string), cookTime (string), servings (number), explanation (string)
and nutritionalNotes (string).`)
	return Prompt{System: "Personalize this recipe with specific dietary adjustments.", User: b.String()}
}

func (*PersonalizeRecipeRequest) newResult() result { return &RecipeResult{} }

// MealPlanIdeasRequest asks for meal suggestions spanning several days.
type MealPlanIdeasRequest struct {
	Preferences   Preferences    `json:"preferences"`
	ExistingMeals []ExistingMeal `json:"existingMeals,omitempty"`
	Duration      int            `json:"duration,omitempty"`
}

func (*MealPlanIdeasRequest) Action() Name { return GenerateMealPlanIdeas }

func (r *MealPlanIdeasRequest) normalize() error {
	if r.Duration == 0 {
		r.Duration = DefaultPlanDuration
	}
	if r.Duration < 1 || r.Duration > MaxPlanDuration {
		return fmt.Errorf("duration must be between 1 and %d", MaxPlanDuration)
	}
	return nil
}

func (r *MealPlanIdeasRequest) Prompt() Prompt {
	existing := make([]string, 0, len(r.ExistingMeals))
	for _, meal := range r.ExistingMeals {
		line := fmt.Sprintf("%s: %s", meal.MealType, meal.Title)
		if meal.Day > 0 {
			line = fmt.Sprintf("Day %d %s", meal.Day, line)
		}
		existing = append(existing, line)
	}
	goals := strings.TrimSpace(string(r.Preferences.NutritionGoals))
	if goals == "" || goals == "null" {
		goals = "{}"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a %d-day meal plan with these parameters:\n\n", r.Duration)
	fmt.Fprintf(&b, "Dietary Preferences: %s\n", joinOr(r.Preferences.DietaryPreferences))
	fmt.Fprintf(&b, "Health Conditions: %s\n", joinOr(r.Preferences.HealthConditions))
	fmt.Fprintf(&b, "Allergies: %s\n", joinOr(r.Preferences.Allergies))
	fmt.Fprintf(&b, "Nutritional Goals: %s\n\n", goals)
	fmt.Fprintf(&b, "Existing meals in the plan:\n%s\n", joinLines(existing, "No meals currently in plan"))
	b.WriteString(`
Please provide meal suggestions that complement the existing meals and meet the dietary requirements.
Focus on balanced nutrition across the period.

Respond with a single JSON object with key suggestions: an array where each item has day (number), title,
mealType (breakfast, lunch, dinner, or snack), estimatedPrepTime, keyIngredients (array of strings) and
nutritionalHighlights (brief string).`)
	return Prompt{System: "Create a personalized meal plan with specific dietary requirements.", User: b.String()}
}

func (*MealPlanIdeasRequest) newResult() result { return &MealPlanIdeasResult{} }

// RecipeDescriptionRequest asks for marketing copy for a recipe.
type RecipeDescriptionRequest struct {
	Recipe RecipeInput `json:"recipe"`
}

func (*RecipeDescriptionRequest) Action() Name { return GenerateRecipeDescription }

func (r *RecipeDescriptionRequest) normalize() error {
	r.Recipe.Title = strings.TrimSpace(r.Recipe.Title)
	if r.Recipe.Title == "" {
		return errors.New("recipe.title is required")
	}
	return nil
}

func (r *RecipeDescriptionRequest) Prompt() Prompt {
	readyIn := "Not specified"
	if r.Recipe.ReadyInMinutes > 0 {
		readyIn = fmt.Sprintf("%d minutes", r.Recipe.ReadyInMinutes)
	}
	var b strings.Builder
	b.WriteString("Generate an engaging and informative description for this recipe:\n\n")
	fmt.Fprintf(&b, "Recipe Name: %s\n", r.Recipe.Title)
	fmt.Fprintf(&b, "Main Ingredients: %s\n", joinOrDefault(r.Recipe.IngredientLines(), "Ingredients not provided"))
	fmt.Fprintf(&b, "Cuisine Type: %s\n", joinOrDefault(r.Recipe.Cuisines, "Not specified"))
	fmt.Fprintf(&b, "Dish Type: %s\n", joinOrDefault(r.Recipe.DishTypes, "Not specified"))
	fmt.Fprintf(&b, "Preparation Time: %s\n", readyIn)
	b.WriteString(`
Create a compelling 2-3 sentence description highlighting the key flavors, techniques,
or cultural background of this dish. Make it appealing to home cooks.

Respond with a single JSON object with keys: description (string), shortDescription (one sentence)
and tags (array of short lowercase strings).`)
	return Prompt{System: "Create an engaging recipe description.", User: b.String()}
}

func (*RecipeDescriptionRequest) newResult() result { return &RecipeDescriptionResult{} }

// RecipeFromIngredientsRequest asks for a recipe using what the caller has.
type RecipeFromIngredientsRequest struct {
	Ingredients []string    `json:"ingredients"`
	Preferences Preferences `json:"preferences"`
}

func (*RecipeFromIngredientsRequest) Action() Name { return CreateRecipeFromIngredients }

func (r *RecipeFromIngredientsRequest) normalize() error {
	cleaned := r.Ingredients[:0]
	for _, ing := range r.Ingredients {
		if ing = strings.TrimSpace(ing); ing != "" {
			cleaned = append(cleaned, ing)
		}
	}
	r.Ingredients = cleaned
	if len(r.Ingredients) == 0 {
		return errors.New("at least one ingredient is required")
	}
	if r.Preferences.CookingTime < 0 {
		return errors.New("preferences.cookingTime must not be negative")
	}
	return nil
}

func (r *RecipeFromIngredientsRequest) Prompt() Prompt {
	mealType := strings.TrimSpace(r.Preferences.MealType)
	if mealType == "" {
		mealType = "Not specified"
	}
	cookingTime := "Not specified"
	if r.Preferences.CookingTime > 0 {
		cookingTime = fmt.Sprintf("%d minutes or less", r.Preferences.CookingTime)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Create a recipe using these available ingredients:\n%s\n\n", strings.Join(r.Ingredients, ", "))
	b.WriteString("Additional parameters:\n")
	fmt.Fprintf(&b, "Dietary Preferences: %s\n", joinOr(r.Preferences.DietaryPreferences))
	fmt.Fprintf(&b, "Allergies: %s\n", joinOr(r.Preferences.Allergies))
	fmt.Fprintf(&b, "Meal Type: %s\n", mealType)
	fmt.Fprintf(&b, "Maximum Cooking Time: %s\n", cookingTime)
	b.WriteString(`
Please create a complete recipe including:
1. An appealing title
2. A brief description of the dish
3. A list of ingredients with measurements
4. Step-by-step cooking instructions
5. Estimated preparation and cooking time
6. Any nutritional highlights or serving suggestions

Respond with a single JSON object with keys: title, description, ingredients (array of strings with measurements),
instructions (array of steps), prepTime, cookTime, servings (number) and nutritionalNotes.`)
	return Prompt{System: "Create a recipe from these ingredients.", User: b.String()}
}

func (*RecipeFromIngredientsRequest) newResult() result { return &RecipeResult{} }

// SuggestedRecipesRequest asks for recipe ideas matching the caller's tastes.
type SuggestedRecipesRequest struct {
	Preferences  Preferences `json:"preferences"`
	FavoriteTags []string    `json:"favoriteTags,omitempty"`
	Count        int         `json:"count,omitempty"`
}

func (*SuggestedRecipesRequest) Action() Name { return GetSuggestedRecipes }

func (r *SuggestedRecipesRequest) normalize() error {
	if r.Count == 0 {
		r.Count = DefaultSuggestedCount
	}
	if r.Count < 1 || r.Count > MaxSuggestedCount {
		return fmt.Errorf("count must be between 1 and %d", MaxSuggestedCount)
	}
	return nil
}

func (r *SuggestedRecipesRequest) Prompt() Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d recipes this cook is likely to enjoy.\n\n", r.Count)
	fmt.Fprintf(&b, "Dietary Preferences: %s\n", joinOr(r.Preferences.DietaryPreferences))
	fmt.Fprintf(&b, "Health Conditions: %s\n", joinOr(r.Preferences.HealthConditions))
	fmt.Fprintf(&b, "Allergies: %s\n", joinOr(r.Preferences.Allergies))
	fmt.Fprintf(&b, "Favorite Tags: %s\n", joinOr(r.FavoriteTags))
	if mealType := strings.TrimSpace(r.Preferences.MealType); mealType != "" {
		fmt.Fprintf(&b, "Meal Type: %s\n", mealType)
	}
	if r.Preferences.CookingTime > 0 {
		fmt.Fprintf(&b, "Maximum Cooking Time: %d minutes\n", r.Preferences.CookingTime)
	}
	b.WriteString(`
Vary cuisines and techniques while respecting every dietary restriction.

Respond with a single JSON object with key recipes: an array where each item has title, description,
mealType, prepTime, tags (array of strings) and keyIngredients (array of strings).`)
	return Prompt{System: DefaultSystemMessage, User: b.String()}
}

func (*SuggestedRecipesRequest) newResult() result { return &SuggestedRecipesResult{} }

func joinOr(items []string) string {
	return joinOrDefault(items, notSpecified)
}

func joinOrDefault(items []string, fallback string) string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		return fallback
	}
	return strings.Join(cleaned, ", ")
}

func joinLines(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "\n")
}
