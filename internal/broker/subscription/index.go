// Package subscription maps topic patterns to subscriber sessions and
// matches concrete topics against those patterns using the broker's
// wildcard syntax: `*` matches anything, `+` matches anything but `/`.
//
// The index is only ever touched from the dispatcher goroutine (see
// internal/broker/core), so it carries no locking of its own.
package subscription

import (
	"regexp"

	"github.com/adred-codev/subscription-broker/internal/broker/session"
)

type pattern struct {
	text        string
	compiled    *regexp.Regexp
	subscribers []*session.Session
}

// Index is the broker's subscription table: pattern string to
// insertion-ordered subscriber list.
type Index struct {
	order []*pattern
	byKey map[string]*pattern
}

// New creates an empty subscription index.
func New() *Index {
	return &Index{byKey: make(map[string]*pattern)}
}

// Subscribe adds s to pattern's subscriber list, compiling the pattern's
// match regular expression once on first use. It is a no-op if s is
// already subscribed to pattern.
func (ix *Index) Subscribe(s *session.Session, patternText string) {
	p, ok := ix.byKey[patternText]
	if !ok {
		p = &pattern{text: patternText, compiled: compileWildcard(patternText)}
		ix.byKey[patternText] = p
		ix.order = append(ix.order, p)
	}
	for _, existing := range p.subscribers {
		if existing == s {
			return
		}
	}
	p.subscribers = append(p.subscribers, s)
}

// Unsubscribe treats selector as a selector against the STORED pattern
// strings, not against concrete topics: it escapes `*` and `+` in selector
// (so they match themselves literally) unless selector is exactly ".*"
// (kept as the catch-all regex), compiles the result, and removes s from
// every stored pattern whose text fully matches it. This mirrors the
// reference implementation's unsubscribe_from_topic behavior, including its
// quirk of leaving every other regex metacharacter in selector live.
func (ix *Index) Unsubscribe(s *session.Session, selector string) {
	re := compileUnsubscribeSelector(selector)
	if re == nil {
		return
	}
	for _, p := range ix.order {
		if !re.MatchString(p.text) {
			continue
		}
		p.subscribers = removeSession(p.subscribers, s)
	}
}

// Match returns every session subscribed to a pattern that matches topic,
// in deterministic pattern-insertion order with first-seen-wins dedup
// across patterns.
func (ix *Index) Match(topic string) []*session.Session {
	seen := make(map[*session.Session]bool)
	var out []*session.Session
	for _, p := range ix.order {
		if p.compiled == nil || !p.compiled.MatchString(topic) {
			continue
		}
		for _, s := range p.subscribers {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func removeSession(subs []*session.Session, s *session.Session) []*session.Session {
	out := subs[:0]
	for _, existing := range subs {
		if existing != s {
			out = append(out, existing)
		}
	}
	return out
}

// compileWildcard turns a subscribed pattern into its match regular
// expression: `*` becomes `.*`, `+` becomes `[^/]*`, and every other
// character is carried through untouched (not escaped), matching the
// reference implementation's notify_subscribers substitution exactly. A
// pattern whose literal characters happen to also be regex metacharacters
// (e.g. a topic containing `(`) therefore behaves as that metacharacter;
// this is an inherited quirk of the wire protocol, not a bug in this index.
func compileWildcard(patternText string) *regexp.Regexp {
	var b []byte
	for i := 0; i < len(patternText); i++ {
		switch patternText[i] {
		case '*':
			b = append(b, ".*"...)
		case '+':
			b = append(b, "[^/]*"...)
		default:
			b = append(b, patternText[i])
		}
	}
	re, err := regexp.Compile("^(?:" + string(b) + ")$")
	if err != nil {
		return nil
	}
	return re
}

// compileUnsubscribeSelector builds the regular expression used to match
// an unsubscribe selector against stored pattern strings: `*` and `+` are
// escaped to match themselves literally, unless selector is exactly ".*".
func compileUnsubscribeSelector(selector string) *regexp.Regexp {
	if selector == ".*" {
		re, err := regexp.Compile("^(?:.*)$")
		if err != nil {
			return nil
		}
		return re
	}
	var b []byte
	for i := 0; i < len(selector); i++ {
		switch selector[i] {
		case '*':
			b = append(b, '\\', '*')
		case '+':
			b = append(b, '\\', '+')
		default:
			b = append(b, selector[i])
		}
	}
	re, err := regexp.Compile("^(?:" + string(b) + ")$")
	if err != nil {
		return nil
	}
	return re
}
