package domain

import (
	"sort"
	"strings"
)

// CompanyContext is the structured profile of the primary company used to ground analysis.
type CompanyContext struct {
	CompanyID      string   `yaml:"id"`
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	OfferSummary   string   `yaml:"offerSummary"`
	BusinessGoals  []string `yaml:"businessGoals"`
	KeyProducts    []string `yaml:"keyProducts"`
	Competitors    []string `yaml:"competitors"`
	MarketPosition string   `yaml:"marketPosition"`
	FocusKeywords  []string `yaml:"focusKeywords"`
}

// Prompt renders the profile as plain grounding text for model prompts.
func (c CompanyContext) Prompt() string {
	var b strings.Builder
	b.WriteString("Company: " + c.Name)
	if c.URL != "" {
		b.WriteString("\nCompany URL: " + c.URL)
	}
	if c.OfferSummary != "" {
		b.WriteString("\nOffering Summary: " + c.OfferSummary)
	}
	writeList(&b, "Business Goals", c.BusinessGoals)
	writeList(&b, "Key Products/Services", c.KeyProducts)
	writeList(&b, "Competitors", c.Competitors)
	if c.MarketPosition != "" {
		b.WriteString("\nMarket Position: " + c.MarketPosition)
	}
	if len(c.FocusKeywords) > 0 {
		keywords := append([]string(nil), c.FocusKeywords...)
		sort.Strings(keywords)
		b.WriteString("\nFocus Keywords: " + strings.Join(keywords, ", "))
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + title + ":")
	for _, item := range items {
		b.WriteString("\n- " + item)
	}
}
