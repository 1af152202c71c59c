package parser

import "testing"

func lexAll(input string, errorRecovery bool) []*token {
	l := newLexer(input, "t.nacl", errorRecovery)
	var toks []*token
	for {
		tok := l.NextToken()
		if tok == nil {
			return toks
		}
		toks = append(toks, tok)
	}
}

func codes(toks []*token) []code {
	out := make([]code, len(toks))
	for i, t := range toks {
		out[i] = t.code
	}
	return out
}

func TestLexPunctuation(t *testing.T) {
	toks := lexAll("type x.T { a = 1 }", false)
	want := []code{tIdentifier, tIdentifier, code('{'), tIdentifier, code('='), tIdentifier, code('}')}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, c := range want {
		if toks[i].code != c {
			t.Errorf("token %d: got %v, want %v", i, toks[i].code, c)
		}
	}
}

func TestLexQuotedString(t *testing.T) {
	toks := lexAll(`a = "hello\nworld"`, false)
	if len(toks) != 3 {
		t.Fatalf("got %d tokens, want 3: %v", len(toks), toks)
	}
	if toks[2].code != tString || toks[2].text != "hello\nworld" {
		t.Errorf("got %#v, want tString %q", toks[2], "hello\nworld")
	}
}

func TestLexTemplateInterpolationPreserved(t *testing.T) {
	toks := lexAll(`a = "pre ${x.T.f} post"`, false)
	if toks[2].code != tString {
		t.Fatalf("expected tString, got %v", toks[2].code)
	}
	if toks[2].text != "pre ${x.T.f} post" {
		t.Errorf("got %q", toks[2].text)
	}
}

func TestLexMultilineString(t *testing.T) {
	toks := lexAll("a = '''line one\nline two\n'''", false)
	if toks[2].code != tMLString {
		t.Fatalf("expected tMLString, got %v: %q", toks[2].code, toks[2].text)
	}
	if toks[2].text != "line one\nline two" {
		t.Errorf("got %q, want trailing newline trimmed", toks[2].text)
	}
}

func TestLexWildcardRequiresRecoveryMode(t *testing.T) {
	errout := &errCounter{}
	l := newLexer("*", "t.nacl", false)
	l.errout = errout
	toks := drain(l)
	if len(toks) != 1 || toks[0].code != tError {
		t.Fatalf("expected a single tError token for a rejected wildcard, got %v", toks)
	}
	if errout.n == 0 {
		t.Errorf("expected an error to be recorded")
	}

	toks = lexAll("*", true)
	if len(toks) != 1 || toks[0].code != tWildcard {
		t.Fatalf("expected a single tWildcard token in recovery mode, got %v", toks)
	}
}

type errCounter struct{ n int }

func (e *errCounter) Write(p []byte) (int, error) {
	e.n++
	return len(p), nil
}

func drain(l *lexer) []*token {
	var toks []*token
	for {
		tok := l.NextToken()
		if tok == nil {
			return toks
		}
		toks = append(toks, tok)
	}
}

func TestLexComments(t *testing.T) {
	toks := lexAll("a = 1 // a comment\nb = 2", false)
	if len(codes(toks)) != 6 {
		t.Fatalf("comment not skipped: %v", toks)
	}
}
