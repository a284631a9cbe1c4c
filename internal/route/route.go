// Package route holds the fixed set of topic → chat mappings and resolves
// which destinations a concrete bus topic is delivered to.
package route

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
)

var (
	// ErrNoRoutes is returned when a table would be empty.
	ErrNoRoutes = errors.New("route: at least one route is required")

	// ErrInvalidRoute is returned for a route with a bad pattern or no chat.
	ErrInvalidRoute = errors.New("route: invalid route")
)

// Table is an immutable, validated set of routes.
type Table struct {
	routes   []domain.TopicRoute
	patterns []string
	chatIDs  []string
}

// NewTable validates routes and builds a Table. Route order is kept; it
// decides which template wins when several routes to the same chat match.
func NewTable(routes []domain.TopicRoute) (*Table, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	t := &Table{routes: make([]domain.TopicRoute, 0, len(routes))}
	seenPattern := make(map[string]bool)
	seenChat := make(map[string]bool)

	for i, r := range routes {
		if err := mqtt.ValidateFilter(r.Pattern); err != nil {
			return nil, fmt.Errorf("%w: routes[%d]: %w", ErrInvalidRoute, i, err)
		}
		if r.ChatID == "" {
			return nil, fmt.Errorf("%w: routes[%d]: chat id is empty", ErrInvalidRoute, i)
		}

		t.routes = append(t.routes, r)
		if !seenPattern[r.Pattern] {
			seenPattern[r.Pattern] = true
			t.patterns = append(t.patterns, r.Pattern)
		}
		if !seenChat[r.ChatID] {
			seenChat[r.ChatID] = true
			t.chatIDs = append(t.chatIDs, r.ChatID)
		}
	}

	return t, nil
}

// Match returns the routes whose pattern matches topic, at most one per
// destination chat. A message is delivered once per chat even when
// overlapping patterns both match it.
func (t *Table) Match(topic string) []domain.TopicRoute {
	var matched []domain.TopicRoute
	var seen map[string]bool

	for _, r := range t.routes {
		if !mqtt.MatchTopic(r.Pattern, topic) {
			continue
		}
		if seen == nil {
			seen = make(map[string]bool, 1)
		}
		if seen[r.ChatID] {
			continue
		}
		seen[r.ChatID] = true
		matched = append(matched, r)
	}

	return matched
}

// Patterns returns the distinct topic filters to subscribe to.
func (t *Table) Patterns() []string {
	return append([]string(nil), t.patterns...)
}

// ChatIDs returns the distinct destination chats in route order.
func (t *Table) ChatIDs() []string {
	return append([]string(nil), t.chatIDs...)
}

// Routes returns a copy of every route.
func (t *Table) Routes() []domain.TopicRoute {
	return append([]domain.TopicRoute(nil), t.routes...)
}
