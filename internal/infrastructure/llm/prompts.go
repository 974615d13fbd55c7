package llm

import (
	"fmt"
	"strings"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

const analysisSystemPrompt = `You are a business intelligence analyst. Answer with a single JSON object only.`

const verificationSystemPrompt = `You audit another analyst's scoring of a news article. Answer with a single JSON object only.`

func analysisUserPrompt(text string, company domain.CompanyContext) string {
	var b strings.Builder
	b.WriteString("SECTION 1: STRATEGIC CONTEXT\n")
	b.WriteString("Use this only to know who the primary company and its competitors are.\n")
	b.WriteString(company.Prompt())
	b.WriteString("\n\nSECTION 2: ARTICLE TEXT\n")
	b.WriteString(text)
	b.WriteString(`

Return JSON with these fields:
- summary: 2-3 sentence summary of SECTION 2.
- relevance_score: integer 1-10, relevance to the primary company's goals.
- relevance_reasoning: one sentence. Scores of 7 or more must quote SECTION 2.
- impact_score: integer 1-10, potential impact on the market or competitors.
- key_entities: companies, people or technologies named in SECTION 2.
- topic_tags: 3-6 short topic tags.
- goal_matches: business goals from SECTION 1 the article directly concerns.

Score general news, sport, politics and events outside the company's market at 1-3.
Never claim the article mentions the primary company unless its name appears in SECTION 2.`)
	return b.String()
}

func verificationUserPrompt(text string, article domain.AnalyzedArticle, company domain.CompanyContext) string {
	var b strings.Builder
	b.WriteString("COMPANY CONTEXT\n")
	b.WriteString(company.Prompt())
	b.WriteString("\n\nARTICLE TEXT\n")
	b.WriteString(text)
	fmt.Fprintf(&b, `

ORIGINAL ANALYSIS
summary: %s
relevance_score: %d
impact_score: %d
relevance_reasoning: %s

Check the analysis against the article text only. Return JSON with:
- agrees: true if both scores are justified by the text.
- relevance_score, impact_score: your own integer scores 1-10.
- hallucination_flags: claims in the analysis not supported by the text.
- reasoning: one or two sentences.`,
		article.SummaryText, article.Scores.Relevance, article.Scores.Impact, article.RelevanceReasoning)
	return b.String()
}
