package models

import (
	"encoding/json"
	"testing"
)

func TestIDAcceptsStringAndNumber(t *testing.T) {
	var g Group
	if err := json.Unmarshal([]byte(`{"id":42,"name":"team","contacts":[{"id":"c-1","name":"A","email":"a@x.io"}]}`), &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if g.ID != "42" {
		t.Errorf("group id = %q, want 42", g.ID)
	}
	if got := g.MemberIDs(); len(got) != 1 || got[0] != "c-1" {
		t.Errorf("member ids = %v", got)
	}
}

func TestIDNull(t *testing.T) {
	var c Contact
	if err := json.Unmarshal([]byte(`{"id":null,"name":"A"}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ID != "" {
		t.Errorf("id = %q, want empty", c.ID)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ann@Example.COM "); got != "ann@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}

func TestIDEncodesNumbersAsNumbers(t *testing.T) {
	var g Group
	if err := json.Unmarshal([]byte(`{"id":7,"name":"team","contacts":[{"id":1},{"id":"c-2"},{"id":"007"}]}`), &g); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(g.MemberIDs())
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `[1,"c-2","007"]` {
		t.Errorf("ids = %s", raw)
	}
	raw, _ = json.Marshal(struct {
		ID ID `json:"id"`
	}{g.ID})
	if string(raw) != `{"id":7}` {
		t.Errorf("group = %s", raw)
	}
	if raw, _ := json.Marshal(ID("")); string(raw) != `""` {
		t.Errorf("empty = %s", raw)
	}
}
