package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hrygo/dialogmesh/llm"
	"github.com/hrygo/dialogmesh/store"
)

const defaultMaxContentLength = 200

var styleGuides = map[string]string{
	"friendly":     "warm tone, everyday language, emoji welcome",
	"professional": "professional tone, precise wording, avoid overly casual phrasing",
	"casual":       "relaxed tone, conversational phrasing, light slang is fine",
	"empathetic":   "empathetic tone, attentive to the user's feelings, warm language",
	"informative":  "lead with information, clear and concise, highlight the key point",
}

// styleMapping[type][stage] picks the tone the LLM is asked to write in.
var styleMapping = map[store.ExpressionType]map[store.RelationshipStage]string{
	store.ExpressionGreeting: {
		store.StageStranger: "professional", store.StageAcquaintance: "professional",
		store.StageFamiliar: "friendly", store.StageFriend: "friendly", store.StageCloseFriend: "casual",
	},
	store.ExpressionQuestion: {
		store.StageStranger: "professional", store.StageAcquaintance: "informative",
		store.StageFamiliar: "friendly", store.StageFriend: "casual", store.StageCloseFriend: "casual",
	},
	store.ExpressionSuggestion: {
		store.StageStranger: "informative", store.StageAcquaintance: "informative",
		store.StageFamiliar: "friendly", store.StageFriend: "empathetic", store.StageCloseFriend: "casual",
	},
	store.ExpressionReminder: {
		store.StageStranger: "professional", store.StageAcquaintance: "informative",
		store.StageFamiliar: "friendly", store.StageFriend: "friendly", store.StageCloseFriend: "casual",
	},
	store.ExpressionObservation: {
		store.StageStranger: "professional", store.StageAcquaintance: "informative",
		store.StageFamiliar: "empathetic", store.StageFriend: "friendly", store.StageCloseFriend: "casual",
	},
}

var fallbackByStage = map[store.ExpressionType]map[store.RelationshipStage]string{
	store.ExpressionGreeting: {
		store.StageStranger: "Hello, how can I help you?", store.StageAcquaintance: "Hi, anything I can help with today?",
		store.StageFamiliar: "Hey, how's your day going?", store.StageFriend: "Hey, how have things been?",
		store.StageCloseFriend: "Hey, I missed you!",
	},
	store.ExpressionQuestion: {
		store.StageStranger: "What topics are you interested in?", store.StageAcquaintance: "What do you usually enjoy doing?",
		store.StageFamiliar: "Seen anything interesting lately?", store.StageFriend: "So, discovered anything new recently?",
		store.StageCloseFriend: "Seriously, what's on your mind lately?",
	},
	store.ExpressionSuggestion: {
		store.StageStranger: "You might want to try...", store.StageAcquaintance: "You might be interested in...",
		store.StageFamiliar: "I think you'd like...", store.StageFriend: "Hey, you should try...",
		store.StageCloseFriend: "I'd bet you'd love...",
	},
	store.ExpressionReminder: {
		store.StageStranger: "Please note...", store.StageAcquaintance: "Just a reminder...",
		store.StageFamiliar: "Don't forget...", store.StageFriend: "Remember...",
		store.StageCloseFriend: "Hey, heads up...",
	},
	store.ExpressionObservation: {
		store.StageStranger: "I noticed...", store.StageAcquaintance: "It looks like...",
		store.StageFamiliar: "Seems like...", store.StageFriend: "I noticed that...",
		store.StageCloseFriend: "You know, I just realized...",
	},
}

// Generated is a Planned expression with final, post-processed content
// and the style used to produce it.
type Generated struct {
	Planned
	FinalContent string
	Style        string
	IsFallback   bool
}

// Generator refines a Planned expression's seed content into final,
// post-processed prose.
type Generator struct {
	llm              llm.Service
	maxContentLength int
	md               goldmark.Markdown
}

// GeneratorConfig configures max content length; zero defaults to 200.
type GeneratorConfig struct {
	MaxContentLength int
}

// NewGenerator constructs a Generator.
func NewGenerator(llmSvc llm.Service, cfg GeneratorConfig) *Generator {
	maxLen := cfg.MaxContentLength
	if maxLen <= 0 {
		maxLen = defaultMaxContentLength
	}
	return &Generator{llm: llmSvc, maxContentLength: maxLen, md: goldmark.New()}
}

// Generate renders the final proactive text for a planned expression,
// falling back to a canned (type, stage) line on LLM failure.
func (g *Generator) Generate(ctx context.Context, planned Planned) Generated {
	style := determineStyle(planned.Content.Type, planned.RelationshipStage)
	messages := g.buildGenerationPrompt(planned, style)

	raw, err := g.llm.Chat(ctx, messages)
	if err != nil {
		slog.Warn("frequency: generator LLM call failed", "expression_type", planned.Content.Type, "error", err)
		fallback := fallbackFor(planned.Content.Type, planned.RelationshipStage)
		return Generated{Planned: planned, FinalContent: fallback, Style: style, IsFallback: true}
	}
	return Generated{Planned: planned, FinalContent: g.postProcess(raw), Style: style}
}

func determineStyle(exprType store.ExpressionType, stage store.RelationshipStage) string {
	if byStage, ok := styleMapping[exprType]; ok {
		if style, ok := byStage[stage]; ok {
			return style
		}
	}
	return "friendly"
}

func fallbackFor(exprType store.ExpressionType, stage store.RelationshipStage) string {
	if byStage, ok := fallbackByStage[exprType]; ok {
		if content, ok := byStage[stage]; ok {
			return content
		}
	}
	return "Is there anything I can help you with?"
}

func (g *Generator) buildGenerationPrompt(planned Planned, style string) []llm.Message {
	guide := styleGuides[style]
	if guide == "" {
		guide = "natural, friendly tone"
	}
	ctxRef := planned.Content.ContextReference

	var b strings.Builder
	fmt.Fprintf(&b, "You are a thoughtful assistant generating a natural, friendly proactive message.\n\n")
	fmt.Fprintf(&b, "Expression type: %s\nStyle: %s - %s\n\n", planned.Content.Type, style, guide)
	fmt.Fprintf(&b, "User info:\n- Name: %s\n- Interaction count: %d\n\n", planned.UserInfo.Name, planned.UserInfo.InteractionCount)
	fmt.Fprintf(&b, "Context:\n- Idle time (s): %v\n- Time period: %v\n- Conversation active: %v\n\n",
		ctxRef["user_activity"], ctxRef["time_period"], ctxRef["conversation_active"])
	fmt.Fprintf(&b, "Base content: %s\n\n", planned.Content.Content)
	b.WriteString("Guidelines:\n1. Natural and friendly, like real human conversation\n2. Match the given style\n3. Take the user info and context into account\n4. Be concise, not wordy\n5. Never explain that you're an AI or describe what you're doing\n6. Avoid over-dramatizing\n7. Let the message naturally invite the conversation to continue\n")

	userPrompt := fmt.Sprintf("Generate a %s-style %s-type proactive message for %s, based on the base content provided.", style, planned.Content.Type, planned.UserInfo.Name)

	return []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: userPrompt},
	}
}

// postProcess trims quotes, collapses blank lines, strips markdown
// structure down to plain prose, enforces a max length, and ensures
// terminal punctuation.
func (g *Generator) postProcess(content string) string {
	processed := strings.Trim(content, "\"'")
	processed = g.stripMarkdown(processed)
	processed = strings.ReplaceAll(processed, "\n\n", "\n")
	processed = strings.TrimSpace(processed)

	// Truncate on rune boundaries: byte-index slicing could split a
	// multi-byte rune (emoji included) into invalid UTF-8.
	if runes := []rune(processed); len(runes) > g.maxContentLength {
		processed = string(runes[:g.maxContentLength]) + "..."
	}
	if processed != "" {
		last, _ := utf8.DecodeLastRuneInString(processed)
		if !strings.ContainsRune(".?!", last) {
			processed += "."
		}
	}
	return processed
}

// stripMarkdown walks the goldmark AST and concatenates text nodes,
// dropping emphasis/heading/list markup so LLM-formatted markdown
// renders as plain chat prose.
func (g *Generator) stripMarkdown(content string) string {
	source := []byte(content)
	reader := text.NewReader(source)
	doc := g.md.Parser().Parse(reader)

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindText:
			b.Write(n.(*ast.Text).Segment.Value(source))
		case ast.KindString:
			b.Write(n.(*ast.String).Value)
		case ast.KindParagraph, ast.KindHeading:
			if b.Len() > 0 {
				b.WriteString(" ")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return content
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return content
	}
	return out
}
