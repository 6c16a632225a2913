package adapter

import (
	"regexp"
	"strings"
	"time"
)

// MessageSearcher is implemented by adapters that can search a session's
// message content without a caller having to fetch every message and
// search client-side. Most adapters implement it by calling Messages and
// delegating to SearchMessagesSlice; a few (Warp) search their own SQLite
// store directly for speed.
type MessageSearcher interface {
	SearchMessages(sessionID, query string, opts SearchOptions) ([]MessageMatch, error)
}

// SearchOptions controls how SearchMessages matches query against message
// content.
type SearchOptions struct {
	CaseSensitive bool
	UseRegex      bool
	MaxResults    int
}

// DefaultSearchOptions is a case-insensitive literal search with a
// generous result cap.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{MaxResults: 100}
}

// Match is one occurrence of the query within a single field of a message.
type Match struct {
	Field string // "content", "tool:<name>", "thinking"
	Start int
	End   int
}

// MessageMatch is a message that matched a search, together with every
// occurrence found inside it.
type MessageMatch struct {
	MessageID string
	Role      string
	Timestamp time.Time
	Matches   []Match
}

// SearchMessagesSlice searches content, tool use names/inputs/outputs, and
// thinking blocks of every message for query, returning one MessageMatch
// per message that matched, in the same order messages were given. It
// stops once MaxResults messages have matched, if MaxResults is positive.
func SearchMessagesSlice(messages []Message, query string, opts SearchOptions) ([]MessageMatch, error) {
	if query == "" || len(messages) == 0 {
		return nil, nil
	}

	finder, err := newFinder(query, opts)
	if err != nil {
		return nil, err
	}

	var results []MessageMatch
	for _, m := range messages {
		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			break
		}

		var matches []Match
		matches = append(matches, finder.findAll("content", m.Content)...)
		for _, tu := range m.ToolUses {
			matches = append(matches, finder.findAll("tool:"+tu.Name, tu.Name)...)
			matches = append(matches, finder.findAll("tool:"+tu.Name, tu.Input)...)
			matches = append(matches, finder.findAll("tool:"+tu.Name, tu.Output)...)
		}
		for _, tb := range m.ThinkingBlocks {
			matches = append(matches, finder.findAll("thinking", tb.Content)...)
		}

		if len(matches) == 0 {
			continue
		}
		results = append(results, MessageMatch{
			MessageID: m.ID,
			Role:      m.Role,
			Timestamp: m.Timestamp,
			Matches:   matches,
		})
	}
	return results, nil
}

// finder locates every occurrence of a search query in a string, either as
// a literal substring or a compiled regular expression.
type finder struct {
	re      *regexp.Regexp
	literal string
	ci      bool
}

func newFinder(query string, opts SearchOptions) (*finder, error) {
	if opts.UseRegex {
		pattern := query
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return &finder{re: re}, nil
	}

	literal := query
	if !opts.CaseSensitive {
		literal = strings.ToLower(literal)
	}
	return &finder{literal: literal, ci: !opts.CaseSensitive}, nil
}

func (f *finder) findAll(field, text string) []Match {
	if text == "" {
		return nil
	}

	if f.re != nil {
		var out []Match
		for _, loc := range f.re.FindAllStringIndex(text, -1) {
			out = append(out, Match{Field: field, Start: loc[0], End: loc[1]})
		}
		return out
	}

	haystack := text
	if f.ci {
		haystack = strings.ToLower(haystack)
	}
	var out []Match
	offset := 0
	for {
		idx := strings.Index(haystack[offset:], f.literal)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(f.literal)
		out = append(out, Match{Field: field, Start: start, End: end})
		offset = end
	}
	return out
}
