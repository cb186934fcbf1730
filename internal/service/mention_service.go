package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/store"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// MentionResolver turns @name tokens in outgoing text into durable user
// identifiers. Resolution is best-effort: a failed profile fetch yields an
// empty set instead of failing the send.
//
// Resolution scans the whole user population, not just room members. That
// is acceptable at small scale only; beyond it, resolve against room
// membership or keep a name-to-id index.
type MentionResolver struct {
	docs   store.DocumentStore
	logger zerolog.Logger
}

// NewMentionResolver constructs a resolver over the user collection.
func NewMentionResolver(docs store.DocumentStore, logger zerolog.Logger) *MentionResolver {
	return &MentionResolver{
		docs:   docs,
		logger: logger.With().Str("component", "mention_resolver").Logger(),
	}
}

// Resolve returns the deduplicated identifiers of users whose display name
// matches an @token in the text, case-insensitively. No store access happens
// when the text carries no tokens.
func (r *MentionResolver) Resolve(ctx context.Context, text string) []string {
	tokens := mentionTokens(text)
	if len(tokens) == 0 {
		return []string{}
	}

	snapshot, err := r.docs.Query(ctx, models.UsersCollection, store.Query{})
	if err != nil {
		r.logger.Warn().Err(err).Msg("mention resolution fetch failed")
		return []string{}
	}

	seen := make(map[string]struct{})
	resolved := make([]string, 0, len(tokens))
	for _, doc := range snapshot {
		user := models.UserFromDocument(doc)
		if user.ID == "" || user.DisplayName == "" {
			continue
		}
		for _, token := range tokens {
			if strings.EqualFold(user.DisplayName, token) {
				if _, dup := seen[user.ID]; !dup {
					seen[user.ID] = struct{}{}
					resolved = append(resolved, user.ID)
				}
				break
			}
		}
	}
	return resolved
}

func mentionTokens(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		tokens = append(tokens, match[1])
	}
	return tokens
}
