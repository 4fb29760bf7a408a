package store

import (
	"testing"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
)

func TestStateStoreLifecycle(t *testing.T) {
	s := NewInMemoryStateStore()

	if _, ok := s.Get("5297100000001"); ok {
		t.Fatal("expected no state for unknown sender")
	}

	s.Set("5297100000001", models.ConversationState{Step: models.StepWarranty})
	st, ok := s.Get("5297100000001")
	if !ok {
		t.Fatal("expected state after Set")
	}
	if st.Step != models.StepWarranty {
		t.Errorf("expected step %q, got %q", models.StepWarranty, st.Step)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped on Set")
	}

	s.Set("5297100000001", models.ConversationState{Step: models.StepCaptureName, PromotionType: "promo_baterias"})
	st, _ = s.Get("5297100000001")
	if st.Step != models.StepCaptureName || st.PromotionType != "promo_baterias" {
		t.Errorf("expected replaced state, got %+v", st)
	}

	s.Delete("5297100000001")
	if _, ok := s.Get("5297100000001"); ok {
		t.Fatal("expected no state after Delete")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}

func TestDedupLedger(t *testing.T) {
	l := NewDedupLedger("test")

	if l.Seen("wamid.1") {
		t.Fatal("fresh ledger should not have seen any id")
	}
	if !l.Record("wamid.1") {
		t.Fatal("first Record should return true")
	}
	if !l.Seen("wamid.1") {
		t.Fatal("id should be seen after Record")
	}
	if l.Record("wamid.1") {
		t.Fatal("second Record of the same id should return false")
	}

	// An id reused after a clear cycle is treated as new.
	l.Clear()
	if l.Seen("wamid.1") {
		t.Fatal("Clear should drop all recorded ids")
	}
	if !l.Record("wamid.1") {
		t.Fatal("id should be recordable again after Clear")
	}
}
