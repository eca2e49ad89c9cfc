package query

import "testing"

func TestParseEmpty(t *testing.T) {
	f, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.Match(map[string][]string{"name": {"test01"}}) {
		t.Fatalf("empty filter should match every node")
	}
}

func TestParseExpression(t *testing.T) {
	attrs := map[string][]string{"name": {"test01"}, "group": {"testers"}}

	f, err := Parse("name=test01")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.Match(attrs) {
		t.Fatalf("name=test01 should match")
	}

	f, err = Parse("group=testers")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.Match(attrs) {
		t.Fatalf("group=testers should match")
	}

	f, err = Parse("random=string")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Match(attrs) {
		t.Fatalf("random=string should not match")
	}
}

func TestParseAndConjunction(t *testing.T) {
	attrs := map[string][]string{"name": {"test01"}, "group": {"testers"}}
	f, err := Parse("name=test01&group=testers")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.Match(attrs) {
		t.Fatalf("conjunction of two true pairs should match")
	}

	f, err = Parse("name=test01&group=workers")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Match(attrs) {
		t.Fatalf("conjunction with one false pair should not match")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("name=test01&"); err == nil {
		t.Fatalf("trailing & should be a syntax error")
	}
	if _, err := Parse("name==test01"); err == nil {
		t.Fatalf("double = should be a syntax error")
	}
}

func TestScanSimpleKeyValue(t *testing.T) {
	tokens, err := newScanner("name=value").scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("len(tokens) = %d, want 3", len(tokens))
	}
	want := []TokenType{TokenLiteral, TokenEqual, TokenLiteral}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Fatalf("tokens[%d].Type = %v, want %v", i, tokens[i].Type, tt)
		}
	}
}

func TestScanMultipleKeyValue(t *testing.T) {
	tokens, err := newScanner("k1=v1&k2=v2").scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(tokens) != 7 {
		t.Fatalf("len(tokens) = %d, want 7", len(tokens))
	}
	if tokens[3].Type != TokenAnd {
		t.Fatalf("tokens[3].Type = %v, want TokenAnd", tokens[3].Type)
	}
}

func TestScanInvalid(t *testing.T) {
	cases := []string{"name!value", "1241", "!asdad!sadsd"}
	for _, c := range cases {
		if _, err := newScanner(c).scan(); err == nil {
			t.Fatalf("scan(%q) should fail", c)
		}
	}
}

func TestScanEmpty(t *testing.T) {
	tokens, err := newScanner("").scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("len(tokens) = %d, want 0", len(tokens))
	}
}
