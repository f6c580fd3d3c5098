package partition

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFor_Properties(t *testing.T) {
	for population := 1; population <= 60; population++ {
		for workers := 1; workers <= 9; workers++ {
			parts, err := All(population, workers)
			if err != nil {
				t.Fatalf("All(%d, %d): %v", population, workers, err)
			}

			next, total := 0, 0
			minRows, maxRows := population, 0
			for rank, p := range parts {
				if p.Start != next {
					t.Fatalf("N=%d W=%d rank %d starts at %d, want %d", population, workers, rank, p.Start, next)
				}
				next = p.End()
				total += p.Rows
				minRows = min(minRows, p.Rows)
				maxRows = max(maxRows, p.Rows)
			}

			if total != population || next != population {
				t.Errorf("N=%d W=%d covers %d rows ending at %d", population, workers, total, next)
			}
			if maxRows-minRows > 1 {
				t.Errorf("N=%d W=%d imbalance %d", population, workers, maxRows-minRows)
			}
		}
	}
}

func TestFor_Layout(t *testing.T) {
	parts, err := All(10, 4)
	if err != nil {
		t.Fatal(err)
	}

	want := []Partition{
		{Rows: 3, Start: 0},
		{Rows: 3, Start: 3},
		{Rows: 2, Start: 6},
		{Rows: 2, Start: 8},
	}
	if diff := cmp.Diff(want, parts); diff != "" {
		t.Errorf("layout mismatch (-want +got): %s", diff)
	}

	counts, displs := Counts(parts)
	if diff := cmp.Diff([]int{3, 3, 2, 2}, counts); diff != "" {
		t.Errorf("counts (-want +got): %s", diff)
	}
	if diff := cmp.Diff([]int{0, 3, 6, 8}, displs); diff != "" {
		t.Errorf("displs (-want +got): %s", diff)
	}
}

func TestFor_Invalid(t *testing.T) {
	tests := []struct {
		name                      string
		population, workers, rank int
	}{
		{"zero population", 0, 2, 0},
		{"zero workers", 8, 0, 0},
		{"negative rank", 8, 2, -1},
		{"rank too large", 8, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := For(tt.population, tt.workers, tt.rank); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOwner(t *testing.T) {
	parts, _ := All(11, 3)

	for row := 0; row < 11; row++ {
		r := Owner(parts, row)
		if r < 0 || !parts[r].Contains(row) {
			t.Errorf("row %d mapped to rank %d", row, r)
		}
	}
	if Owner(parts, 11) != -1 {
		t.Error("row past the end should have no owner")
	}
}
