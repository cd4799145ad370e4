package memory

import (
	"context"
	"testing"
	"time"

	"donat/internal/core"
)

func TestAppendReturnsRowRefs(t *testing.T) {
	s := New()

	d := core.Donation{
		ID:        1,
		PaymentID: "pay_1",
		Amount:    core.FromMajor(500),
		Name:      "anna",
		Status:    core.StatusCompleted,
		CreatedAt: time.Now(),
	}

	ref1, err := s.Append(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := s.Append(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if ref1 == ref2 {
		t.Errorf("row refs should differ, both %q", ref1)
	}

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("stored %d items, want 2", len(items))
	}
	if items[0].PaymentID != "pay_1" {
		t.Errorf("stored payment id = %q", items[0].PaymentID)
	}
}
