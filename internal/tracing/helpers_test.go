package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		op        DBOperation
		err       error
		wantName  string
		wantTable bool
	}{
		{name: "insert report", table: "fairness_reports", op: DBOperationInsert, wantName: "insert fairness_reports", wantTable: true},
		{name: "flag update fails", table: "manipulation_flags", op: DBOperationUpdate, err: errors.New("conflict"), wantName: "update manipulation_flags", wantTable: true},
		{name: "no table", op: DBOperationQuery, wantName: "query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newSpanRecorder(t)
			_, end := StartDBSpan(context.Background(), tt.table, tt.op)
			end(tt.err)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("kind = %v, want client", span.SpanKind())
			}
			if v, ok := attrValue(span, "db.operation"); !ok || v.AsString() != string(tt.op) {
				t.Errorf("db.operation = %v", v.AsString())
			}
			if _, ok := attrValue(span, "db.sql.table"); ok != tt.wantTable {
				t.Errorf("db.sql.table present = %v, want %v", ok, tt.wantTable)
			}
			wantCode := codes.Unset
			if tt.err != nil {
				wantCode = codes.Error
			}
			if span.Status().Code != wantCode {
				t.Errorf("status = %v, want %v", span.Status().Code, wantCode)
			}
		})
	}
}

func TestStartSpan_NestsAndAnnotates(t *testing.T) {
	recorder := newSpanRecorder(t)

	ctx, endCycle := StartSpan(context.Background(), "refresh.cycle")
	computeCtx, endCompute := StartSpan(ctx, "relevance.compute", AttrCreators.Int(3))
	SetAttributes(computeCtx, AttrGeneration.Int64(7))
	AddEvent(computeCtx, "feed.saturated")
	endCompute(nil)
	endCycle(errors.New("upstream unavailable"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	compute, cycle := spans[0], spans[1]
	if compute.Parent().SpanID() != cycle.SpanContext().SpanID() {
		t.Error("relevance.compute is not a child of refresh.cycle")
	}
	if v, _ := attrValue(compute, AttrCreators); v.AsInt64() != 3 {
		t.Errorf("%s = %d, want 3", AttrCreators, v.AsInt64())
	}
	if v, _ := attrValue(compute, AttrGeneration); v.AsInt64() != 7 {
		t.Errorf("%s = %d, want 7", AttrGeneration, v.AsInt64())
	}
	if events := compute.Events(); len(events) != 1 || events[0].Name != "feed.saturated" {
		t.Errorf("events = %+v", events)
	}
	if cycle.Status().Code != codes.Error {
		t.Errorf("cycle status = %v, want error", cycle.Status().Code)
	}
	if len(cycle.Events()) != 1 {
		t.Errorf("cycle events = %d, want recorded error", len(cycle.Events()))
	}
}

func TestSetAttributes_NoSpan(t *testing.T) {
	// No span in context: must not panic.
	SetAttributes(context.Background(), AttrFeedMode.String("discovery"))
	AddEvent(context.Background(), "noop")
}
