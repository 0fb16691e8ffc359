package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

// fallbackName names entries the model could not classify.
const fallbackName = "purchase"

// Classification is the ledger name and category chosen for an invoice.
type Classification struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Classifier picks a name and category for an invoice. Implementations never
// fail: an unclassifiable invoice comes back as a generic purchase.
type Classifier interface {
	Classify(ctx context.Context, inv Invoice) Classification
}

// nameSuggestions lists the expense categories offered to the model with
// typical entry names for each.
var nameSuggestions = []struct {
	category string
	names    []string
}{
	{ledger.CategoryFood, []string{"breakfast", "lunch", "dinner", "snack", "late-night snack", "drink", "coffee", "delivery"}},
	{ledger.CategoryTransport, []string{"fuel", "metro", "bus", "parking", "high-speed rail", "train", "taxi"}},
	{ledger.CategoryShopping, []string{"household", "clothing", "electronics", "online order", "groceries"}},
	{ledger.CategoryDaily, []string{"phone bill", "rent", "water", "electricity", "gas", "internet", "building fee"}},
	{ledger.CategoryEntertainment, []string{"movie", "games", "subscription", "karaoke", "travel", "sports", "merchandise"}},
	{ledger.CategoryMedical, []string{"clinic", "medicine", "supplements", "dentist"}},
	{ledger.CategoryEducation, []string{"course", "books"}},
	{ledger.CategoryOther, []string{"fees", "insurance", "gift", "donation"}},
}

func expenseCategory(c string) bool {
	for _, s := range nameSuggestions {
		if s.category == c {
			return true
		}
	}
	return false
}

// MealName names a food purchase by the time of day it happened.
func MealName(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return "breakfast"
	case h >= 11 && h < 14:
		return "lunch"
	case h >= 18 && h < 22:
		return "dinner"
	case h >= 22 || h < 5:
		return "late-night snack"
	default:
		return "snack"
	}
}

func buildPrompt(inv Invoice, at time.Time, hasTime bool) string {
	var b strings.Builder
	b.WriteString("Decide the ledger \"name\" and \"category\" for this e-invoice.\n\n")
	fmt.Fprintf(&b, "Seller: %s\n", inv.Seller)
	fmt.Fprintf(&b, "Details: %s\n", inv.Details)
	if hasTime {
		fmt.Fprintf(&b, "Time of purchase: %s\n", at.Format("15:04"))
	}

	b.WriteString("\nCategories and suggested names:\n")
	for _, s := range nameSuggestions {
		fmt.Fprintf(&b, "- %s: %s\n", s.category, strings.Join(s.names, ", "))
	}

	b.WriteString("\nRules:\n" +
		"- Pick the best suggested name, or a short precise name of your own (1-3 words).\n" +
		"- The category must be one of the categories above.\n" +
		"- Food or drinks bought at a convenience store are \"food\"; household goods are \"shopping\".\n\n" +
		"Naming food purchases, in priority order:\n" +
		"1. Only drinks and no food: the name is \"drink\", whatever the time.\n" +
		"2. Only snacks such as candy, chocolate or biscuits: the name is \"snack\".\n" +
		"3. Otherwise name the meal by the time of purchase:\n" +
		"   05:00-10:59 breakfast, 11:00-13:59 lunch, 18:00-21:59 dinner, 22:00-04:59 late-night snack.\n\n" +
		"Return ONLY raw JSON of the form {\"name\": \"...\", \"category\": \"...\"}.\n" +
		"Do NOT wrap the response in code fences.\n")
	return b.String()
}

// FallbackClassifier records every invoice as an uncategorised purchase.
type FallbackClassifier struct{}

// Classify implements Classifier.
func (FallbackClassifier) Classify(context.Context, Invoice) Classification {
	return Classification{Name: fallbackName, Category: ledger.CategoryOther}
}

// generator is the slice of the genai client used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier classifies invoices with a Gemini model.
type GeminiClassifier struct {
	models  generator
	model   string
	timeout time.Duration
}

// NewGeminiClassifier creates a classifier backed by the Gemini API.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	return newGeminiClassifier(client.Models, model), nil
}

func newGeminiClassifier(models generator, model string) *GeminiClassifier {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClassifier{models: models, model: model, timeout: 30 * time.Second}
}

// Classify implements Classifier.
func (g *GeminiClassifier) Classify(ctx context.Context, inv Invoice) Classification {
	log := logger.FromContext(ctx).With().Str("invoice_number", inv.Number).Logger()

	at, hasTime, err := inv.IssuedAt()
	if err != nil {
		hasTime = false
	}

	c, err := g.generate(ctx, buildPrompt(inv, at, hasTime))
	if err != nil {
		log.Warn().Err(err).Msg("Invoice classification failed, using fallback")
		return Classification{Name: fallbackName, Category: ledger.CategoryOther}
	}

	if !expenseCategory(c.Category) {
		log.Debug().Str("category", c.Category).Msg("Model returned unknown category")
		c.Category = ledger.CategoryOther
	}
	if c.Name == "" {
		if c.Category == ledger.CategoryFood && hasTime {
			c.Name = MealName(at)
		} else {
			c.Name = fallbackName
		}
	}
	return c
}

func (g *GeminiClassifier) generate(ctx context.Context, prompt string) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	temperature := float32(0.3)
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  256,
		ResponseMIMEType: "application/json",
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Classification{}, fmt.Errorf("classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return Classification{}, fmt.Errorf("classify: empty response from model")
	}

	var c Classification
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &c); err != nil {
		return Classification{}, fmt.Errorf("classify: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	return c, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

var _ Classifier = (*GeminiClassifier)(nil)
