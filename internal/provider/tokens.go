package provider

import (
	"sort"
	"sync"
)

// tokenSet holds the connector tokens permitted to use this provider as
// egress. Membership survives reconnects; the provider replays the whole
// set after each successful authentication.
type tokenSet struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

func newTokenSet() *tokenSet {
	return &tokenSet{tokens: make(map[string]struct{})}
}

// add inserts a token. Idempotent.
func (s *tokenSet) add(token string) {
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
}

func (s *tokenSet) remove(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// list returns the tokens in sorted order.
func (s *tokenSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tokens))
	for token := range s.tokens {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

func (s *tokenSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
