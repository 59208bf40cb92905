// Package client invokes the metered proxy on behalf of a UI and keeps the
// observable loading, error and usage state the UI renders.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	log "github.com/sirupsen/logrus"
)

// DefaultPath is the metered proxy route.
const DefaultPath = "/functions/v1/openai"

// Notifier shows a one-off message to the user.
type Notifier func(report quota.Report, message string)

// State is a snapshot of the client's observable state.
type State struct {
	IsLoading  bool
	Error      string
	TokenUsage *quota.Report
}

// Client calls the metered proxy. It is safe for concurrent use.
type Client struct {
	baseURL    string
	path       string
	token      string
	httpClient *http.Client
	notifier   Notifier

	mu       sync.Mutex
	inFlight int
	lastErr  string
	usage    *quota.Report
	notified bool
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithNotifier sets the approaching-limit notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithPath overrides the proxy route.
func WithPath(path string) Option {
	return func(c *Client) {
		if path = strings.TrimSpace(path); path != "" {
			c.path = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// New creates a client for the proxy at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{IsLoading: c.inFlight > 0, Error: c.lastErr}
	if c.usage != nil {
		report := *c.usage
		s.TokenUsage = &report
	}
	return s
}

// Response is a successful proxy answer.
type Response struct {
	Raw        json.RawMessage
	TokenUsage quota.Report
	Degraded   bool
	RawContent string
}

// Decode unmarshals the result fields into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// PersonalizeRecipe adapts a recipe. The skill level defaults to intermediate.
func (c *Client) PersonalizeRecipe(ctx context.Context, req actions.PersonalizeRecipeRequest) (*Response, error) {
	if strings.TrimSpace(req.SkillLevel) == "" {
		req.SkillLevel = actions.DefaultSkillLevel
	}
	return c.Invoke(ctx, actions.PersonalizeRecipe, req)
}

// GenerateMealPlanIdeas suggests meals. A zero duration means a week.
func (c *Client) GenerateMealPlanIdeas(ctx context.Context, prefs actions.Preferences, existing []actions.ExistingMeal, duration int) (*Response, error) {
	if duration == 0 {
		duration = actions.DefaultPlanDuration
	}
	if existing == nil {
		existing = []actions.ExistingMeal{}
	}
	return c.Invoke(ctx, actions.GenerateMealPlanIdeas, actions.MealPlanIdeasRequest{
		Preferences:   prefs,
		ExistingMeals: existing,
		Duration:      duration,
	})
}

// GenerateRecipeDescription writes a description for recipe.
func (c *Client) GenerateRecipeDescription(ctx context.Context, recipe actions.RecipeInput) (*Response, error) {
	return c.Invoke(ctx, actions.GenerateRecipeDescription, actions.RecipeDescriptionRequest{Recipe: recipe})
}

// CreateRecipeFromIngredients builds a recipe around ingredients.
func (c *Client) CreateRecipeFromIngredients(ctx context.Context, ingredients []string, prefs actions.Preferences) (*Response, error) {
	return c.Invoke(ctx, actions.CreateRecipeFromIngredients, actions.RecipeFromIngredientsRequest{
		Ingredients: ingredients,
		Preferences: prefs,
	})
}

// GetSuggestedRecipes asks for recipe ideas.
func (c *Client) GetSuggestedRecipes(ctx context.Context, req actions.SuggestedRecipesRequest) (*Response, error) {
	if req.Count == 0 {
		req.Count = actions.DefaultSuggestedCount
	}
	return c.Invoke(ctx, actions.GetSuggestedRecipes, req)
}

// Invoke sends one action to the proxy. Failures are returned as *Error and
// mirrored in State().Error.
func (c *Client) Invoke(ctx context.Context, action actions.Name, data any) (*Response, error) {
	c.begin()
	resp, err := c.invoke(ctx, action, data)
	c.end(resp, err)
	return resp, err
}

func (c *Client) invoke(ctx context.Context, action actions.Name, data any) (*Response, error) {
	payload, errData := json.Marshal(data)
	if errData != nil {
		return nil, newError(KindGeneric, 0, fmt.Sprintf("encode %s payload: %v", action, errData), nil)
	}
	body, errEnv := json.Marshal(actions.Envelope{Action: string(action), Data: payload})
	if errEnv != nil {
		return nil, newError(KindGeneric, 0, fmt.Sprintf("encode envelope: %v", errEnv), nil)
	}

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if errReq != nil {
		return nil, newError(KindGeneric, 0, errReq.Error(), nil)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		return nil, newError(KindGeneric, 0, errDo.Error(), nil)
	}
	defer func() { _ = httpResp.Body.Close() }()
	raw, errRead := io.ReadAll(httpResp.Body)
	if errRead != nil {
		return nil, newError(KindGeneric, httpResp.StatusCode, errRead.Error(), nil)
	}

	var envelope struct {
		Error      string        `json:"error"`
		Code       string        `json:"code"`
		Details    string        `json:"details"`
		TokenUsage *quota.Report `json:"tokenUsage"`
		RawContent string        `json:"rawContent"`
	}
	if errDecode := json.Unmarshal(raw, &envelope); errDecode != nil {
		if httpResp.StatusCode >= 300 {
			return nil, classify(httpResp.StatusCode, "", strings.TrimSpace(string(raw)), nil)
		}
		return nil, newError(KindGeneric, httpResp.StatusCode, "invalid response body", nil)
	}
	if httpResp.StatusCode >= 300 || envelope.Error != "" {
		detail := envelope.Error
		if envelope.Details != "" {
			detail = envelope.Error + ": " + envelope.Details
		}
		return nil, classify(httpResp.StatusCode, envelope.Code, detail, envelope.TokenUsage)
	}

	resp := &Response{Raw: raw, RawContent: envelope.RawContent, Degraded: envelope.RawContent != ""}
	if envelope.TokenUsage != nil {
		resp.TokenUsage = *envelope.TokenUsage
	}
	return resp, nil
}

func (c *Client) begin() {
	c.mu.Lock()
	c.inFlight++
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *Client) end(resp *Response, err error) {
	var (
		report *quota.Report
		notify bool
	)
	c.mu.Lock()
	c.inFlight--
	switch {
	case err != nil:
		c.lastErr = err.Error()
		var callErr *Error
		if errors.As(err, &callErr) && callErr.TokenUsage != nil {
			report = callErr.TokenUsage
		}
	case resp != nil:
		usage := resp.TokenUsage
		report = &usage
	}
	if report != nil {
		stored := *report
		c.usage = &stored
		if stored.IsApproachingLimit && !c.notified && c.notifier != nil {
			c.notified = true
			notify = true
		}
	}
	notifier := c.notifier
	c.mu.Unlock()

	if err != nil {
		log.WithError(err).Debug("ai client: call failed")
	}
	if notify {
		notifier(*report, ApproachingLimitMessage(*report))
	}
}

// ApproachingLimitMessage is the notification text for report.
func ApproachingLimitMessage(report quota.Report) string {
	return fmt.Sprintf("You're approaching your monthly AI usage limit: %s of %s tokens used (%d%%).",
		humanize.Comma(report.Used), humanize.Comma(report.Limit), report.PercentUsed)
}
