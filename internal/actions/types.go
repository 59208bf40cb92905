package actions

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// TextList is a list of display strings. Models sometimes answer with
// numbers or small objects instead of strings; those are flattened.
type TextList []string

// UnmarshalJSON accepts an array of strings, numbers or objects, or a single string.
func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = splitLines(single)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(TextList, 0, len(items))
	for _, item := range items {
		if text := flattenText(item); text != "" {
			out = append(out, text)
		}
	}
	*l = out
	return nil
}

// textKeys are tried in order when an item is an object.
var textKeys = []string{"original", "text", "step", "name", "title", "description"}

func flattenText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) == nil {
			var amount string
			for _, key := range []string{"amount", "quantity"} {
				if v, ok := obj[key]; ok {
					amount = flattenText(v)
					break
				}
			}
			for _, key := range textKeys {
				if v, ok := obj[key]; ok {
					text := flattenText(v)
					if amount != "" && text != "" {
						return amount + " " + text
					}
					return text
				}
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func splitLines(s string) TextList {
	var out TextList
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FlexString holds a value the model may send as a string or a number.
type FlexString string

// UnmarshalJSON accepts a string, number or boolean.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = FlexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*s = FlexString(strconv.FormatBool(b))
	return nil
}

// FlexInt holds a count the model may send as a number or as text such as "4 servings".
type FlexInt int

// UnmarshalJSON accepts a number or a string starting with digits.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = FlexInt(int(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	digits := strings.TrimSpace(s)
	end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) })
	if end >= 0 {
		digits = digits[:end]
	}
	if digits == "" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return err
	}
	*n = FlexInt(v)
	return nil
}

// CatalogIngredient is an ingredient line in recipe catalog format.
type CatalogIngredient struct {
	Original string `json:"original"`
}

// InstructionStep is one step in recipe catalog format.
type InstructionStep struct {
	Step string `json:"step"`
}

// InstructionGroup is a group of steps in recipe catalog format.
type InstructionGroup struct {
	Steps []InstructionStep `json:"steps"`
}

// RecipeInput is a recipe supplied by the caller, either in plain form or
// in recipe catalog form.
type RecipeInput struct {
	Title                string              `json:"title"`
	Summary              string              `json:"summary,omitempty"`
	Ingredients          TextList            `json:"ingredients,omitempty"`
	Instructions         TextList            `json:"instructions,omitempty"`
	ExtendedIngredients  []CatalogIngredient `json:"extendedIngredients,omitempty"`
	AnalyzedInstructions []InstructionGroup  `json:"analyzedInstructions,omitempty"`
	Cuisines             []string            `json:"cuisines,omitempty"`
	DishTypes            []string            `json:"dishTypes,omitempty"`
	ReadyInMinutes       int                 `json:"readyInMinutes,omitempty"`
	Servings             int                 `json:"servings,omitempty"`
}

// IngredientLines returns the ingredient lines of either input form.
func (r RecipeInput) IngredientLines() []string {
	if len(r.Ingredients) > 0 {
		return r.Ingredients
	}
	lines := make([]string, 0, len(r.ExtendedIngredients))
	for _, ing := range r.ExtendedIngredients {
		if text := strings.TrimSpace(ing.Original); text != "" {
			lines = append(lines, text)
		}
	}
	return lines
}

// InstructionSteps returns the instruction steps of either input form.
func (r RecipeInput) InstructionSteps() []string {
	if len(r.Instructions) > 0 {
		return r.Instructions
	}
	var steps []string
	for _, group := range r.AnalyzedInstructions {
		for _, step := range group.Steps {
			if text := strings.TrimSpace(step.Step); text != "" {
				steps = append(steps, text)
			}
		}
	}
	return steps
}

// Preferences are the dietary settings of the caller.
type Preferences struct {
	DietaryPreferences []string        `json:"dietaryPreferences,omitempty"`
	HealthConditions   []string        `json:"healthConditions,omitempty"`
	Allergies          []string        `json:"allergies,omitempty"`
	NutritionGoals     json.RawMessage `json:"nutritionGoals,omitempty"`
	MealType           string          `json:"mealType,omitempty"`
	CookingTime        int             `json:"cookingTime,omitempty"`
}

// ExistingMeal is a meal already placed in the plan.
type ExistingMeal struct {
	Day      int    `json:"day,omitempty"`
	MealType string `json:"mealType"`
	Title    string `json:"title"`
}
