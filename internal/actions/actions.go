// Package actions defines the AI actions callers can invoke, how each is
// turned into a prompt, and how the provider answer is read back.
package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Name identifies one supported action.
type Name string

// Supported actions.
const (
	PersonalizeRecipe           Name = "personalizeRecipe"
	GenerateMealPlanIdeas       Name = "generateMealPlanIdeas"
	GenerateRecipeDescription   Name = "generateRecipeDescription"
	CreateRecipeFromIngredients Name = "createRecipeFromIngredients"
	GetSuggestedRecipes         Name = "getSuggestedRecipes"
)

// Names lists every supported action.
var Names = []Name{
	PersonalizeRecipe,
	GenerateMealPlanIdeas,
	GenerateRecipeDescription,
	CreateRecipeFromIngredients,
	GetSuggestedRecipes,
}

var (
	// ErrUnsupportedAction matches UnsupportedActionError via errors.Is.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrInvalidPayload is returned when the body or action data cannot be used.
	ErrInvalidPayload = errors.New("invalid action payload")
)

// UnsupportedActionError names the rejected action.
type UnsupportedActionError struct {
	Action string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("Unsupported action: %s", e.Action)
}

// Is reports whether target is ErrUnsupportedAction.
func (e *UnsupportedActionError) Is(target error) bool { return target == ErrUnsupportedAction }

// Prompt is the message pair sent upstream.
type Prompt struct {
	System string
	User   string
}

// DefaultSystemMessage is used when an action has no dedicated system message.
const DefaultSystemMessage = "You are a helpful culinary assistant."

// Request is one decoded action with its typed payload.
type Request interface {
	Action() Name
	Prompt() Prompt
	newResult() result
}

// result is implemented by every typed action result.
type result interface {
	// finish normalizes aliases and reports whether the result carries content.
	finish() bool
}

// Envelope is the wire shape of a metered request.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses an envelope body into a typed Request.
func Decode(body []byte) (Request, error) {
	var env Envelope
	if errUnmarshal := json.Unmarshal(body, &env); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, errUnmarshal)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope resolves env.Action and decodes env.Data into its payload.
func DecodeEnvelope(env Envelope) (Request, error) {
	name := strings.TrimSpace(env.Action)
	var req interface {
		Request
		normalize() error
	}
	switch Name(name) {
	case PersonalizeRecipe:
		req = &PersonalizeRecipeRequest{}
	case GenerateMealPlanIdeas:
		req = &MealPlanIdeasRequest{}
	case GenerateRecipeDescription:
		req = &RecipeDescriptionRequest{}
	case CreateRecipeFromIngredients:
		req = &RecipeFromIngredientsRequest{}
	case GetSuggestedRecipes:
		req = &SuggestedRecipesRequest{}
	default:
		return nil, &UnsupportedActionError{Action: name}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if errUnmarshal := json.Unmarshal(data, req); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, errUnmarshal)
	}
	if errNormalize := req.normalize(); errNormalize != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, errNormalize)
	}
	return req, nil
}
