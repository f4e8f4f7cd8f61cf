package migrations

import "testing"

func TestMigrationsDiscovered(t *testing.T) {
	ms := Migrations.Sorted()
	if len(ms) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(ms))
	}
	if ms[0].Name != "20241122010000" || ms[1].Name != "20241122020000" {
		t.Fatalf("unexpected order: %s, %s", ms[0].Name, ms[1].Name)
	}
	for _, m := range ms {
		if m.Up == nil || m.Down == nil {
			t.Fatalf("migration %s lacks up or down", m.Name)
		}
	}
}
