package lexer

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestLexInstruction(t *testing.T) {
	toks, err := Lex("mov r0, 42 ; set result")
	assert(t, err == nil, "unexpected error: %v", err)

	kinds := make([]Kind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []Kind{Ident, Ident, Comma, Number, Newline, EOF}
	assert(t, len(kinds) == len(want), "got %d tokens, want %d: %v", len(kinds), len(want), kinds)
	for i, k := range want {
		assert(t, kinds[i] == k, "token %d: got %v want %v", i, kinds[i], k)
	}
}

func TestLexWidthSuffix(t *testing.T) {
	toks, err := Lex("push.d r1")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, toks[0].Kind == Ident && toks[0].Text == "push", "got %+v", toks[0])
	assert(t, toks[1].Kind == Dot, "got %+v", toks[1])
	assert(t, toks[2].Kind == Ident && toks[2].Text == "d", "got %+v", toks[2])
}

func TestLexIndirectOperand(t *testing.T) {
	toks, err := Lex("mov [r0], 0xAA")
	assert(t, err == nil, "unexpected error: %v", err)
	want := []Kind{Ident, LBracket, Ident, RBracket, Comma, Number, Newline, EOF}
	assert(t, len(toks) == len(want), "got %d tokens, want %d", len(toks), len(want))
	for i, k := range want {
		assert(t, toks[i].Kind == k, "token %d: got %v want %v", i, toks[i].Kind, k)
	}
}

func TestLexStringLiteral(t *testing.T) {
	toks, err := Lex(`msg: string "hi\n"`)
	assert(t, err == nil, "unexpected error: %v", err)
	want := []Kind{Ident, Colon, Ident, String, Newline, EOF}
	assert(t, len(toks) == len(want), "got %d tokens, want %d", len(toks), len(want))
	assert(t, toks[3].Text == "hi\n", "got %q", toks[3].Text)
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := Lex(`pstr "hi`)
	assert(t, err != nil, "expected error for unterminated string")
}

func TestLexCharLiteral(t *testing.T) {
	toks, err := Lex(`push 'a'`)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, toks[1].Kind == Char && toks[1].Text == "a", "got %+v", toks[1])
}
