package sheets

import "testing"

func TestRowField(t *testing.T) {
	r := Row{Number: 2, Fields: []string{"2025-03-01", " 9711234567 ", "Juan Pérez"}}
	if got := r.Field(1); got != "9711234567" {
		t.Errorf("Field(1) = %q, want trimmed phone", got)
	}
	if got := r.Field(7); got != "" {
		t.Errorf("Field beyond row length should be empty, got %q", got)
	}
	if got := r.Field(-1); got != "" {
		t.Errorf("negative Field index should be empty, got %q", got)
	}
}

func TestEffectiveStatus(t *testing.T) {
	cases := []struct {
		name   string
		fields []string
		want   string
	}{
		{"status history with trailing blanks", []string{"2025-03-01", "9711234567", "Juan", "imei", "model", "", "En revisión", ""}, "En revisión"},
		{"latest appended column wins", []string{"2025-03-01", "9711234567", "Juan", "imei", "model", "Recibido", "Entregado"}, "Entregado"},
		{"empty row", []string{"", "", ""}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := Row{Fields: c.fields}
			if got := r.EffectiveStatus(); got != c.want {
				t.Errorf("EffectiveStatus() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestLastMatch(t *testing.T) {
	rows := []Row{
		{Number: 2, Fields: []string{"2025-03-01", "971-123-4567", "Juan", "521971123456789", "Moto G", "Recibido"}},
		{Number: 3, Fields: []string{"2025-03-02", "9711111111", "Ana", "111111111111111", "iPhone", "En revisión"}},
		{Number: 4, Fields: []string{"2025-03-05", "9711234567", "Juan", "521971123456789", "Moto G", "Entregado"}},
	}

	// Append-only source: the last matching row is the most recent.
	row, found := LastMatch(rows, ColPhone, "9711234567")
	if !found {
		t.Fatal("expected a phone match")
	}
	if row.Number != 4 {
		t.Errorf("expected last matching row 4, got %d", row.Number)
	}
	if row.EffectiveStatus() != "Entregado" {
		t.Errorf("expected status of last row, got %q", row.EffectiveStatus())
	}

	if _, found := LastMatch(rows, ColPhone, "0000000000"); found {
		t.Error("expected no match for unknown phone")
	}

	// Phone digits in the sheet are compared after stripping separators.
	if _, found := LastMatch(rows[:1], ColPhone, "9711234567"); !found {
		t.Error("expected match despite dashes in the sheet cell")
	}
}
