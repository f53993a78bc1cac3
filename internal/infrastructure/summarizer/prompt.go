package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
)

const defaultSystemPrompt = "You are a newsletter editor. Given a collection of recent feed posts, " +
	"create a polished briefing in markdown: a top story, grouped headlines with sources, " +
	"and one forward-looking insight. Filter out promotional spam and low-signal posts."

// presetPrompts are the named system prompts an owner can select.
var presetPrompts = map[string]string{
	"default": defaultSystemPrompt,
	"anti_politics": defaultSystemPrompt +
		" IMPORTANT: filter out all political content; keep only technology, science, design, and culture.",
	"headlines_only": "You are a terse news editor. Produce only a markdown bullet list of one-line " +
		"headlines with author attribution, nothing else.",
}

// systemPrompt resolves the owner's preset, preferring a custom prompt.
func systemPrompt(owner domain.Owner) string {
	if strings.TrimSpace(owner.CustomPrompt) != "" {
		return owner.CustomPrompt
	}
	if prompt, ok := presetPrompts[owner.Preset]; ok {
		return prompt
	}
	return defaultSystemPrompt
}

// userPrompt renders the item batch as JSON for the model, bounded by
// the window it covers.
func userPrompt(items []domain.FeedItem, window domain.TimeRange) (string, error) {
	type promptItem struct {
		ID       string `json:"id"`
		Author   string `json:"author"`
		Name     string `json:"author_name,omitempty"`
		Text     string `json:"text"`
		PostedAt string `json:"posted_at"`
		Likes    int    `json:"likes,omitempty"`
		Reposts  int    `json:"reposts,omitempty"`
		Replies  int    `json:"replies,omitempty"`
		IsRepost bool   `json:"is_repost,omitempty"`
		IsReply  bool   `json:"is_reply,omitempty"`
	}

	payload := make([]promptItem, 0, len(items))
	for _, item := range items {
		payload = append(payload, promptItem{
			ID:       item.ID,
			Author:   item.Author,
			Name:     item.AuthorName,
			Text:     item.Text,
			PostedAt: item.PostedAt.Format("2006-01-02 15:04"),
			Likes:    item.Likes,
			Reposts:  item.Reposts,
			Replies:  item.Replies,
			IsRepost: item.IsRepost,
			IsReply:  item.IsReply,
		})
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt items: %w", err)
	}

	return fmt.Sprintf("Posts from %s to %s:\n\n%s",
		window.From.Format("2006-01-02 15:04"),
		window.To.Format("2006-01-02 15:04"),
		encoded), nil
}
