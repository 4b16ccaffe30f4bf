package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/MercatoLabs/dealkit/shopping"
)

// webResultLimit bounds how many web results a knowledge reply carries.
const webResultLimit = 3

// NewWebSearchDelegate answers knowledge-question intents from a web-search
// adapter. Ads are dropped; the top organic results are formatted into one
// reply. No results is an error so the caller's fallback sentence fires.
func NewWebSearchDelegate(ws shopping.WebAdapter) Delegate {
	return DelegateFunc(func(ctx context.Context, sessionID, text string) (string, error) {
		results, err := ws.Search(ctx, text)
		if err != nil {
			return "", fmt.Errorf("web search: %w", err)
		}

		var b strings.Builder
		n := 0
		for _, r := range results {
			if r.IsAd {
				continue
			}
			if n == 0 {
				b.WriteString("Here's what I found:\n")
			}
			n++
			b.WriteString(fmt.Sprintf("%d. %s — %s (%s)\n", n, r.Title, r.Snippet, r.Link))
			if n == webResultLimit {
				break
			}
		}
		if n == 0 {
			return "", fmt.Errorf("web search: no results for %q", text)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}
