package valuations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
)

func TestRecordValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	cases := []valuation.Valuation{
		{EstimatedValue: 100, Confidence: 0.5},
		{PropertyID: "P1", EstimatedValue: 0, Confidence: 0.5},
		{PropertyID: "P1", EstimatedValue: 100, Confidence: 1.5},
		{PropertyID: "P1", EstimatedValue: 100, Confidence: -0.1},
	}
	for i, v := range cases {
		if _, err := svc.Record(ctx, v); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, v)
		}
	}

	v, err := svc.Record(ctx, valuation.Valuation{PropertyID: " P1 ", EstimatedValue: 455000, Confidence: 0.92, Method: "comparable_sales"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if v.PropertyID != "P1" {
		t.Fatalf("property id = %q, want trimmed", v.PropertyID)
	}
	if v.ID == "" {
		t.Fatalf("expected assigned id")
	}
}

func TestLatest(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Latest(ctx, ""); err == nil {
		t.Fatalf("expected error for empty property id")
	}
	if _, err := svc.Latest(ctx, "P1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	base := time.Now().UTC()
	if _, err := svc.Record(ctx, valuation.Valuation{PropertyID: "P1", EstimatedValue: 400000, Confidence: 0.8, CreatedAt: base}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Record(ctx, valuation.Valuation{PropertyID: "P1", EstimatedValue: 425000, Confidence: 0.9, CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("record: %v", err)
	}

	latest, err := svc.Latest(ctx, "P1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.EstimatedValue != 425000 {
		t.Fatalf("latest value = %d, want the most recent record", latest.EstimatedValue)
	}
}
