package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/eventcore/pkg/event"
)

func sampleEvent() *event.Event {
	return &event.Event{
		Type:            "order.created",
		EntityID:        "order-1",
		TimestampMicros: 1000,
		Payload:         json.RawMessage(`{"amount":42,"region":"us-east","customer":{"vip":true}}`),
	}
}

func TestFilterEqOnFixedField(t *testing.T) {
	f := Eq("event_type", "order.created")
	assert.True(t, f.Eval(sampleEvent()))

	f2 := Eq("event_type", "order.cancelled")
	assert.False(t, f2.Eval(sampleEvent()))
}

func TestFilterPayloadPath(t *testing.T) {
	f := Eq("payload.amount", float64(42))
	assert.True(t, f.Eval(sampleEvent()))

	nested := Eq("payload.customer.vip", true)
	assert.True(t, nested.Eval(sampleEvent()))
}

func TestFilterMissingPayloadPathIsFalse(t *testing.T) {
	f := Eq("payload.missing.field", "x")
	assert.False(t, f.Eval(sampleEvent()))
}

func TestFilterAndOr(t *testing.T) {
	match := And(Eq("event_type", "order.created"), Eq("payload.region", "us-east"))
	assert.True(t, match.Eval(sampleEvent()))

	noMatch := And(Eq("event_type", "order.created"), Eq("payload.region", "eu-west"))
	assert.False(t, noMatch.Eval(sampleEvent()))

	either := Or(Eq("payload.region", "eu-west"), Eq("payload.region", "us-east"))
	assert.True(t, either.Eval(sampleEvent()))
}

func TestFilterNot(t *testing.T) {
	f := Not(Eq("event_type", "order.cancelled"))
	assert.True(t, f.Eval(sampleEvent()))
}

func TestFilterOrdered(t *testing.T) {
	gt := &Filter{Op: OpGt, Field: "payload.amount", Value: float64(10)}
	assert.True(t, gt.Eval(sampleEvent()))

	between := &Filter{Op: OpBetween, Field: "timestamp", Values: []interface{}{int64(500), int64(1500)}}
	assert.True(t, between.Eval(sampleEvent()))
}

func TestFilterIn(t *testing.T) {
	f := &Filter{Op: OpIn, Field: "payload.region", Values: []interface{}{"eu-west", "us-east"}}
	assert.True(t, f.Eval(sampleEvent()))
}

func TestFilterContains(t *testing.T) {
	f := &Filter{Op: OpContains, Field: "event_type", Value: "created"}
	assert.True(t, f.Eval(sampleEvent()))
}

func TestFilterNilIsAlwaysTrue(t *testing.T) {
	var f *Filter
	assert.True(t, f.Eval(sampleEvent()))
}
