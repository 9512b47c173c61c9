package schema

import "testing"

func TestResolveOrderedAssignsO2MIdsAscending(t *testing.T) {
	s, err := resolveOrdered(
		[]string{"ADDRESS", "SCRIPT_HASH"},
		map[string]bool{"ADDRESS": true, "SCRIPT_HASH": true},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("resolveOrdered: %v", err)
	}
	if len(s.O2M) != 2 {
		t.Fatalf("len(O2M) = %d, want 2", len(s.O2M))
	}
	if s.O2M[0].Name != "ADDRESS" || s.O2M[0].Id != 0 {
		t.Fatalf("ADDRESS = %+v, want id 0", s.O2M[0])
	}
	if s.O2M[1].Name != "SCRIPT_HASH" || s.O2M[1].Id != 1 {
		t.Fatalf("SCRIPT_HASH = %+v, want id 1", s.O2M[1])
	}
}

func TestResolveOrderedAssignsO2OIdsDescending(t *testing.T) {
	s, err := resolveOrdered(nil, nil,
		[]string{"BOX_ID", "OTHER"},
		map[string]bool{"BOX_ID": true, "OTHER": true},
	)
	if err != nil {
		t.Fatalf("resolveOrdered: %v", err)
	}
	if s.O2O[0].Id != 255 || s.O2O[1].Id != 254 {
		t.Fatalf("O2O ids = [%d %d], want [255 254]", s.O2O[0].Id, s.O2O[1].Id)
	}
}

func TestResolveOrderedSkipsDisabledEntries(t *testing.T) {
	s, err := resolveOrdered(
		[]string{"ADDRESS", "SCRIPT_HASH"},
		map[string]bool{"ADDRESS": true, "SCRIPT_HASH": false},
		[]string{"A", "B"},
		map[string]bool{"A": false, "B": true},
	)
	if err != nil {
		t.Fatalf("resolveOrdered: %v", err)
	}
	if len(s.O2M) != 1 || s.O2M[0].Name != "ADDRESS" || s.O2M[0].Id != 0 {
		t.Fatalf("O2M = %+v, want exactly ADDRESS at id 0", s.O2M)
	}
	if len(s.O2O) != 1 || s.O2O[0].Name != "B" || s.O2O[0].Id != 255 {
		t.Fatalf("O2O = %+v, want exactly B at id 255", s.O2O)
	}
}

func TestByNameLookup(t *testing.T) {
	s, err := resolveOrdered([]string{"ADDRESS"}, map[string]bool{"ADDRESS": true}, nil, nil)
	if err != nil {
		t.Fatalf("resolveOrdered: %v", err)
	}
	if _, ok := s.ByName("ADDRESS"); !ok {
		t.Fatalf("expected ADDRESS to resolve")
	}
	if _, ok := s.ByName("MISSING"); ok {
		t.Fatalf("expected MISSING to be absent")
	}
}

func TestColumnFamilyNamesCoversEveryIndex(t *testing.T) {
	s, err := resolveOrdered(
		[]string{"ADDRESS"}, map[string]bool{"ADDRESS": true},
		[]string{"BOX_ID"}, map[string]bool{"BOX_ID": true},
	)
	if err != nil {
		t.Fatalf("resolveOrdered: %v", err)
	}
	names := s.ColumnFamilyNames()
	want := []string{
		"O2M_ADDRESS_RELATIONS", "O2M_UTXO_BIRTH_PK_BY_ADDRESS", "O2M_ADDRESS_BY_UTXO_BIRTH_PK",
		"O2O_UTXO_BIRTH_PK_BY_BOX_ID",
	}
	if len(names) != len(want) {
		t.Fatalf("ColumnFamilyNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ColumnFamilyNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
