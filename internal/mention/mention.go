// Package mention handles @mention detection while typing and the
// separate, lenient parse of finalized message text for rendering.
package mention

import (
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"parley/internal/models"
)

var (
	// queryRe matches an in-progress mention: "@" plus zero or more
	// word characters, anchored at the end of the draft.
	queryRe = regexp.MustCompile(`@(\w*)$`)

	// tokenRe matches finalized mention tokens anywhere in stored text.
	tokenRe = regexp.MustCompile(`@\w+`)

	sanitizer = bluemonday.StrictPolicy()
)

// Candidate pairs a room member with its relevance to the current
// query fragment.
type Candidate struct {
	User     models.User
	MatchPos int
}

// DetectQuery reports the active mention query in the draft text, if
// any. The query is the captured word characters, case preserved;
// matching against members is case-folded.
func DetectQuery(text string) (string, bool) {
	m := queryRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Candidates returns the room members whose display name contains the
// query as a case-folded substring, ordered by earliest match position
// and then by display name.
func Candidates(room *models.Room, query string) []Candidate {
	if room == nil {
		return nil
	}
	folded := strings.ToLower(query)

	var out []Candidate
	for _, member := range room.Members {
		pos := strings.Index(strings.ToLower(member.DisplayName), folded)
		if pos < 0 {
			continue
		}
		out = append(out, Candidate{User: member, MatchPos: pos})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchPos != out[j].MatchPos {
			return out[i].MatchPos < out[j].MatchPos
		}
		return out[i].User.DisplayName < out[j].User.DisplayName
	})
	return out
}

// Commit replaces the trailing @query with the chosen member's full
// display name plus a single trailing space. Earlier mentions in the
// text are never retouched. If no query is active the text is returned
// unchanged.
func Commit(text string, user models.User) string {
	return queryRe.ReplaceAllLiteralString(text, "@"+user.DisplayName+" ")
}

// Span is one segment of rendered message text. Mention spans carry
// the resolved member when the captured name matches one; unresolved
// mentions stay marked but non-interactive (User == nil).
type Span struct {
	Text    string
	Mention bool
	User    *models.User
}

// Parse splits finalized stored text into plain and mention spans.
// This is deliberately lenient and non-authoritative: any "@word"
// token becomes a mention span whether or not it resolves against the
// current member list. Plain segments are sanitized before they reach
// a renderer.
func Parse(text string, room *models.Room) []Span {
	if text == "" {
		return nil
	}

	var spans []Span
	last := 0
	for _, loc := range tokenRe.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			spans = append(spans, plainSpan(text[last:loc[0]]))
		}
		token := text[loc[0]:loc[1]]
		span := Span{Text: token, Mention: true}
		if room != nil {
			span.User = room.MemberByDisplayName(token[1:])
		}
		spans = append(spans, span)
		last = loc[1]
	}
	if last < len(text) {
		spans = append(spans, plainSpan(text[last:]))
	}
	return spans
}

func plainSpan(text string) Span {
	return Span{Text: sanitizer.Sanitize(text)}
}

// ResolveClick maps a clicked mention back to a member identity. No
// identity is returned for names that do not resolve in the current
// member list or that resolve to the requesting user; in both cases
// the click goes nowhere.
func ResolveClick(room *models.Room, displayName, selfID string) (*models.User, bool) {
	if room == nil {
		return nil, false
	}
	member := room.MemberByDisplayName(displayName)
	if member == nil || member.ID == selfID {
		return nil, false
	}
	return member, true
}
