package contract

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/MercatoLabs/dealkit/pipeline"
	"github.com/MercatoLabs/dealkit/types"
)

// User-facing sentences. cancelMessage is load-bearing: downstream chat
// clients match on it.
const (
	cancelMessage      = "Purchase cancelled. Is there anything else I can help you with?"
	orderCancelMessage = "Order cancelled. Is there anything else I can help you with?"
	askProductPrompt   = "What product are you looking for?"
)

// maxRefinements bounds how many constraint rounds a session may run
// before the contract gives up instead of looping.
const maxRefinements = 3

// fallbackRankLimit is how many products the internal ranking fallback
// keeps when the preference pipeline is unavailable.
const fallbackRankLimit = 5

func (m *Machine) bindHandlers() {
	m.handlers = map[State]handlerFunc{
		StateStart:              m.handleStart,
		StateSearch:             m.handleSearch,
		StateRefineConstraints:  m.handleRefineConstraints,
		StateAskClarification:   m.handleAskClarification,
		StateWaitForPreferences: m.handleWaitForPreferences,
		StateFilterProducts:     m.handleFilterProducts,
		StateCheckCompatibility: m.handleCheckCompatibility,
		StateMatchPreferences:   m.handleMatchPreferences,
		StatePresentOptions:     m.handlePresentOptions,
		StateConfirmSelection:   m.handleConfirmSelection,
		StateConfirmOrder:       m.handleConfirmOrder,
	}
}

// handleStart extracts the product from the opening utterance and enters
// the search flow.
func (m *Machine) handleStart(ctx context.Context, input string) StateTransition {
	if strings.TrimSpace(input) == "" {
		return stay(askProductPrompt)
	}
	if m.deps.Helper.IsCancelRequest(ctx, input) {
		return cancelled()
	}

	criteria := m.deps.Helper.ExtractInitialCriteria(ctx, input)
	if criteria.BaseProduct == "" {
		return stay(askProductPrompt)
	}
	enhanced := criteria.EnhancedQuery
	if enhanced == "" {
		enhanced = criteria.BaseProduct
	}

	t := goTo(StateSearch)
	t.ContextUpdates = map[string]any{
		"product_query":  criteria.BaseProduct,
		"enhanced_query": enhanced,
	}
	t.SubtaskUpdates = map[string]string{"extract_criteria": SubtaskCompleted}
	t.ToolsUsed = []string{"extract_initial_criteria"}
	return t
}

// handleSearch runs the product search pipeline and routes on its status.
func (m *Machine) handleSearch(ctx context.Context, _ string) StateTransition {
	query := m.sc.EnhancedQuery
	if query == "" {
		query = m.sc.ProductQuery
	}
	if query == "" {
		return goTo(StateStart)
	}
	if terms := constraintQueryTerms(m.sc.Constraints); terms != "" {
		query = query + " " + terms
	}

	result, record := runPipeline("product_search", m.deps.Now, func() pipeline.SearchResult {
		return m.deps.Search.Run(ctx, m.sc.SessionID, query, m.sc.Constraints)
	}, func(r pipeline.SearchResult) (string, map[string]any) {
		return r.Status, map[string]any{"items_count": len(r.Items), "total_found": r.TotalFound}
	})

	switch result.Status {
	case pipeline.StatusTooManyResults:
		t := goTo(StateRefineConstraints)
		t.ContextUpdates = map[string]any{"extracted_attributes": result.Attributes}
		t.PipelineRecords = []PipelineRecord{record}
		t.ToolsUsed = []string{"product_search"}
		t.UserMessage = fmt.Sprintf("I found %d products matching %q.", result.TotalFound, m.sc.ProductQuery)
		return t

	case pipeline.StatusOK:
		if len(result.Items) == 0 {
			t := stay(fmt.Sprintf("I couldn't find any products for %q. Could you try a different product or wording?", query))
			t.PipelineRecords = []PipelineRecord{record}
			return t
		}
		t := goTo(StatePresentOptions)
		t.ContextUpdates = map[string]any{
			"search_results":       result.Items,
			"extracted_attributes": result.Attributes,
		}
		t.SubtaskUpdates = map[string]string{"product_search": SubtaskCompleted}
		t.PipelineRecords = []PipelineRecord{record}
		t.ToolsUsed = []string{"product_search"}
		return t

	default: // error
		t := stay("I ran into a problem while searching. Please try again.")
		t.PipelineRecords = []PipelineRecord{record}
		t.ErrorMessage = result.Message
		return t
	}
}

// handleRefineConstraints asks for narrowing criteria, then feeds parsed
// constraints back into search. Constraints accumulate across rounds.
func (m *Machine) handleRefineConstraints(ctx context.Context, input string) StateTransition {
	if strings.TrimSpace(input) == "" {
		return stay(m.refinePrompt())
	}
	if m.deps.Helper.IsCancelRequest(ctx, input) {
		return cancelled()
	}
	if m.sc.RefinementAttempts >= maxRefinements {
		t := StateTransition{
			NextState:   StateFailed,
			Status:      StatusFailed,
			UserMessage: "I still couldn't narrow the results down. Please start over with a more specific product.",
		}
		return t
	}

	parsed := parseConstraints(input)
	t := goTo(StateSearch)
	t.ContextUpdates = map[string]any{
		"constraints":         parsed,
		"refinement_attempts": m.sc.RefinementAttempts + 1,
	}
	t.SubtaskUpdates = map[string]string{"refine_constraints": SubtaskActive}
	t.ToolsUsed = []string{"constraint_parser"}
	return t
}

// refinePrompt lists up to three differentiating attributes.
func (m *Machine) refinePrompt() string {
	attrs := m.sc.ExtractedAttributes
	if len(attrs) == 0 {
		attrs = []string{"price", "brand"}
	}
	if len(attrs) > 3 {
		attrs = attrs[:3]
	}
	return fmt.Sprintf("That's too many to compare. Tell me more about what you need — for example %s.",
		strings.Join(attrs, ", "))
}

// handleAskClarification always asks for preferences and moves to the
// waiting state.
func (m *Machine) handleAskClarification(_ context.Context, _ string) StateTransition {
	return StateTransition{
		NextState: StateWaitForPreferences,
		Status:    StatusWaitingForInput,
		AskUser:   m.preferencesPrompt(),
	}
}

// handleWaitForPreferences parses a free-form preference reply.
func (m *Machine) handleWaitForPreferences(ctx context.Context, input string) StateTransition {
	if strings.TrimSpace(input) == "" {
		return stay(m.preferencesPrompt())
	}
	if m.deps.Helper.IsCancelRequest(ctx, input) {
		return cancelled()
	}

	analysis := m.deps.Helper.AnalyzeUserPreferences(ctx, input, m.sc.SearchResults)
	t := goTo(StateMatchPreferences)
	t.ContextUpdates = map[string]any{
		"preferences": analysis.Preferences,
		"constraints": analysis.Constraints,
	}
	t.ToolsUsed = []string{"analyze_user_preferences"}
	return t
}

func (m *Machine) preferencesPrompt() string {
	attrs := m.sc.ExtractedAttributes
	if len(attrs) == 0 {
		attrs = []string{"price", "brand", "rating"}
	}
	if len(attrs) > 3 {
		attrs = attrs[:3]
	}
	return fmt.Sprintf("What matters most to you? For example %s.", strings.Join(attrs, ", "))
}

// handlePresentOptions routes the found products toward ranking, passing
// oversized sets through the LLM pre-filter first.
func (m *Machine) handlePresentOptions(_ context.Context, _ string) StateTransition {
	if len(m.sc.SearchResults) == 0 {
		return stay(askProductPrompt)
	}
	if len(m.sc.SearchResults) > m.contract.Template.ProductThreshold() {
		return goTo(StateFilterProducts)
	}
	return goTo(StateMatchPreferences)
}

// handleFilterProducts shrinks a large candidate set with the LLM filter.
func (m *Machine) handleFilterProducts(ctx context.Context, _ string) StateTransition {
	filtered := m.deps.Helper.FilterProducts(ctx, m.sc.SearchResults, m.sc.Preferences, m.sc.Constraints)
	t := goTo(StateMatchPreferences)
	t.ContextUpdates = map[string]any{"search_results": filtered}
	t.ToolsUsed = []string{"filter_products_with_llm"}
	return t
}

// handleCheckCompatibility drops candidates that fail hard constraints.
// Reached from older stored contexts; the main flow relies on the
// preference pipeline's compatibility node instead.
func (m *Machine) handleCheckCompatibility(ctx context.Context, _ string) StateTransition {
	records := m.deps.Helper.CheckCompatibility(ctx, m.sc.SearchResults, m.sc.Constraints, m.sc.ProductQuery)

	t := goTo(StatePresentOptions)
	t.ToolsUsed = []string{"check_product_compatibility"}
	if len(records) == 0 {
		return t
	}
	incompatible := make(map[string]bool)
	for _, r := range records {
		if !r.Compatible {
			incompatible[r.Name] = true
		}
	}
	kept := make([]types.Product, 0, len(m.sc.SearchResults))
	for _, item := range m.sc.SearchResults {
		if !incompatible[item.Name] {
			kept = append(kept, item)
		}
	}
	t.ContextUpdates = map[string]any{"search_results": kept}
	return t
}

// handleMatchPreferences ranks the candidates, degrading to the internal
// ranking fallback when the pipeline cannot deliver, and presents the
// numbered options with a recommendation.
func (m *Machine) handleMatchPreferences(ctx context.Context, _ string) StateTransition {
	items := m.sc.SearchResults
	if len(items) == 0 {
		return stay(askProductPrompt)
	}

	result, record := runPipeline("preference_match", m.deps.Now, func() pipeline.PreferenceResult {
		return m.deps.Match.Run(ctx, m.sc.SessionID, items, m.sc.Preferences, m.sc.Constraints)
	}, func(r pipeline.PreferenceResult) (string, map[string]any) {
		return r.Status, map[string]any{
			"items_count":    len(r.RankedProducts),
			"ranking_method": r.RankingMethod,
		}
	})

	top := result.RankedProducts
	if result.Status == pipeline.StatusError || len(top) == 0 {
		top = fallbackRank(items, fallbackRankLimit)
	}
	if len(top) == 0 {
		t := stay("I couldn't rank the options right now. Could you tell me more about what you need?")
		t.PipelineRecords = []PipelineRecord{record}
		return t
	}

	rec := m.deps.Helper.GenerateRecommendation(ctx, top, m.sc.Preferences, m.sc.Constraints)

	t := StateTransition{
		NextState: StateConfirmSelection,
		Status:    StatusWaitingForInput,
		AskUser:   selectionPrompt(top, rec.Recommendation.Choice, rec.Recommendation.Reasoning),
	}
	t.ContextUpdates = map[string]any{
		"top_products":            top,
		"product_recommendations": &rec,
		"confirmation_pending":    true,
	}
	t.SubtaskUpdates = map[string]string{
		"match_preferences": SubtaskCompleted,
		"confirm_selection": SubtaskActive,
	}
	t.PipelineRecords = []PipelineRecord{record}
	t.ToolsUsed = []string{"preference_match", "generate_product_recommendation"}
	return t
}

// selectionPrompt renders the numbered product list, the recommendation,
// and the reply instructions.
func selectionPrompt(top []types.Product, choice int, reasoning string) string {
	var b strings.Builder
	b.WriteString("Here are the top options:\n")
	for i, item := range top {
		b.WriteString(fmt.Sprintf("%d. %s — %s (rating %.1f)\n",
			i+1, item.Name, formatPrice(&item), item.RatingValue()))
	}
	if choice < 1 || choice > len(top) {
		choice = 1
	}
	b.WriteString(fmt.Sprintf("\nMy recommendation: Option %d.", choice))
	if reasoning != "" {
		b.WriteString(" " + reasoning)
	}
	b.WriteString("\n\nReply with a number to choose, 'yes' to take my recommendation, or 'cancel' to stop.")
	return b.String()
}

func formatPrice(p *types.Product) string {
	v := p.PriceValue()
	if math.IsInf(v, 1) {
		return "price unavailable"
	}
	return fmt.Sprintf("$%.2f", v)
}

// handleConfirmSelection resolves the user's pick into a selected product.
func (m *Machine) handleConfirmSelection(ctx context.Context, input string) StateTransition {
	top := m.sc.TopProducts
	if len(top) == 0 {
		return goTo(StateMatchPreferences)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return stay(fmt.Sprintf("Please reply with a number between 1 and %d, 'yes', or 'cancel'.", len(top)))
	}
	if m.deps.Helper.IsCancelRequest(ctx, input) {
		return cancelled()
	}

	choice, ok := parseChoice(input, len(top), m.recommendedChoice(len(top)))
	if !ok {
		return stay(fmt.Sprintf("Please choose a number between 1 and %d.", len(top)))
	}

	selected := top[choice-1]
	t := StateTransition{
		NextState: StateConfirmOrder,
		Status:    StatusWaitingForInput,
		AskUser: fmt.Sprintf("You selected %s at %s. Shall I confirm the order? (yes/no)",
			selected.Name, formatPrice(&selected)),
	}
	t.ContextUpdates = map[string]any{
		"selected_product":     &selected,
		"confirmation_pending": true,
	}
	t.SubtaskUpdates = map[string]string{
		"confirm_selection": SubtaskCompleted,
		"confirm_order":     SubtaskActive,
	}
	return t
}

// recommendedChoice returns the recommendation's pick, clamped to range.
func (m *Machine) recommendedChoice(n int) int {
	if m.sc.Recommendations != nil {
		if c := m.sc.Recommendations.Recommendation.Choice; c >= 1 && c <= n {
			return c
		}
	}
	return 1
}

// parseChoice interprets a selection reply: a digit picks directly, an
// affirmative takes the recommendation.
func parseChoice(input string, n, recommended int) (int, bool) {
	if v, err := strconv.Atoi(strings.TrimSuffix(input, ".")); err == nil {
		if v >= 1 && v <= n {
			return v, true
		}
		return 0, false
	}
	if isAffirmative(input) {
		return recommended, true
	}
	return 0, false
}

// handleConfirmOrder settles the order. An affirmative completes the
// contract; a negative or cancel ends it cleanly.
func (m *Machine) handleConfirmOrder(ctx context.Context, input string) StateTransition {
	input = strings.TrimSpace(input)
	if input == "" {
		return stay("Please reply yes or no to confirm the order.")
	}
	if m.deps.Helper.IsCancelRequest(ctx, input) {
		return cancelled()
	}
	if isNegative(input) {
		t := cancelled()
		t.UserMessage = orderCancelMessage
		return t
	}
	if !isAffirmative(input) {
		return stay("Sorry, I didn't catch that. Should I confirm the order? (yes/no)")
	}

	selected := m.sc.SelectedProduct
	if selected == nil {
		// A restored legacy context can reach confirmation with no
		// selection; re-rank instead of completing an empty order.
		return goTo(StateMatchPreferences)
	}
	return StateTransition{
		NextState:   StateCompleted,
		Status:      StatusCompleted,
		UserMessage: fmt.Sprintf("Order confirmed! %s is on its way. Thanks for shopping with us.", selected.Name),
		ContextUpdates: map[string]any{
			"contract_status":      ContractCompleted,
			"confirmation_pending": false,
		},
		SubtaskUpdates: map[string]string{"confirm_order": SubtaskCompleted},
	}
}

var affirmativeWords = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "correct", "please do"}

var negativeWords = []string{"no", "n", "nope", "negative", "nah"}

func isAffirmative(input string) bool {
	lower := strings.ToLower(strings.TrimSpace(input))
	for _, w := range affirmativeWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return true
		}
	}
	return false
}

func isNegative(input string) bool {
	lower := strings.ToLower(strings.TrimSpace(input))
	for _, w := range negativeWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return true
		}
	}
	return false
}

// fallbackRank is the machine-internal ranking used when the preference
// pipeline cannot deliver: best rating first, then cheapest. Missing
// ratings count as zero; missing prices sort last.
func fallbackRank(items []types.Product, limit int) []types.Product {
	out := make([]types.Product, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].RatingValue(), out[j].RatingValue()
		if ri != rj {
			return ri > rj
		}
		return out[i].PriceValue() < out[j].PriceValue()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
