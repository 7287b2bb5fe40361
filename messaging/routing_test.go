package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoutingKey(t *testing.T) {
	key, err := ParseRoutingKey("ticket.cancelTicket")
	require.NoError(t, err)
	assert.Equal(t, "ticket", key.Domain())
	assert.Equal(t, "cancelTicket", key.Operation())

	for _, bad := range []string{"", "ticket", ".cancel", "ticket.", "ticket.a.b", "ticket.*", "ticket.#"} {
		_, err := ParseRoutingKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestMatchRoutingKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"ticket.*", "ticket.cancelTicket", true},
		{"ticket.*", "ticket", false},
		{"ticket.*", "ticket.a.b", false},
		{"ticket.*", "event.getEvent", false},
		{"ticket.cancelTicket", "ticket.cancelTicket", true},
		{"#", "ticket.cancelTicket", true},
		{"#", "", true},
		{"ticket.#", "ticket", true},
		{"ticket.#", "ticket.a.b", true},
		{"#.cancelTicket", "ticket.cancelTicket", true},
		{"*.cancelTicket", "event.cancelTicket", true},
		{"*.#.b", "a.b", true},
		{"*.#.b", "a.x.y.b", true},
		{"*.#.b", "b", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchRoutingKey(tt.pattern, tt.key))
		})
	}
}

func TestDomainTopology(t *testing.T) {
	topo := DomainTopology("ticket", "ticket-service")
	require.NoError(t, topo.Validate())

	require.Len(t, topo.Exchanges, 1)
	assert.Equal(t, Exchange{Name: "ticket", Kind: ExchangeTopic, Durable: true}, topo.Exchanges[0])
	require.Len(t, topo.Bindings, 1)
	assert.Equal(t, "ticket.*", topo.Bindings[0].Pattern)
	assert.True(t, MatchRoutingKey(topo.Bindings[0].Pattern, "ticket.bookTicket"))

	merged := topo.Merge(DomainTopology("event", "event-service"))
	assert.Len(t, merged.Exchanges, 2)
	assert.Len(t, topo.Exchanges, 1)
}

func TestTopology_ValidateRejects(t *testing.T) {
	assert.Error(t, Topology{Exchanges: []Exchange{{Name: "", Kind: ExchangeTopic}}}.Validate())
	assert.Error(t, Topology{Exchanges: []Exchange{{Name: "x", Kind: "fanout"}}}.Validate())
	assert.Error(t, Topology{Queues: []Queue{{}}}.Validate())
	assert.Error(t, Topology{Bindings: []Binding{{Exchange: "x", Queue: "q", Pattern: "a..b"}}}.Validate())
	assert.Error(t, Topology{Bindings: []Binding{{Exchange: "x", Queue: "q", Pattern: "a.b*"}}}.Validate())
}
