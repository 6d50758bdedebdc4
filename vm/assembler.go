package vm

import (
	"strconv"
	"strings"

	"alvm/internal/diag"
	"alvm/internal/lexer"
)

/*
	Two-pass assembler (spec.md §4.2).

	Pass 1 (preprocess) walks the token stream recording label
	addresses and data-section literals without emitting any
	instructions. Pass 2 re-walks the same lines and emits one
	Instruction per mnemonic, resolving every identifier operand
	against the data table first, then the label table.

	Unlike the teacher's compile.go (which keeps comments/escape
	tables and, in its earlier incarnation, the whole label/data table
	pair as package-level state), every table here lives on an
	AssembleContext value built fresh per call to Compile — spec.md §9's
	explicit redesign direction, so assembler_test.go can run cases
	(including in parallel) without cross-test interference.
*/

// DataType is the literal type of a data-section item.
type DataType int

const (
	DataByte DataType = iota
	DataWord
	DataDword
	DataString
)

var dataTypeNames = map[string]DataType{
	"byte":   DataByte,
	"word":   DataWord,
	"dword":  DataDword,
	"string": DataString,
}

// DataInfo records one `data` directive's placement in the blob.
type DataInfo struct {
	Addr  uint32
	Size  uint32
	Value uint32
	Type  DataType
}

// labelScope is the per-section label table: the running instruction
// count ("next_address") and the name -> address map.
type labelScope struct {
	next   uint32
	labels map[string]uint32
}

// Program is the assembler's output: a resolved instruction sequence
// plus the data blob, exactly the (instruction_sequence, data_blob)
// pair spec.md §1/§4.2 describes.
type Program struct {
	Instructions []Instruction
	Data         []byte
	// DebugSym maps instruction index -> original source line, built
	// only when compiled with WithDebugSymbols.
	DebugSym map[int]string
}

const defaultSection = "code"

// AssembleContext owns every table the assembler needs for one
// compilation. Nothing here is package-level state.
type AssembleContext struct {
	data     map[string]DataInfo
	sections map[string]*labelScope
	seen     map[string]bool // name -> defined, across data + all label scopes
	blob     []byte
	section  string
	debugSym map[int]string
	withDbg  bool
}

// Option configures a Compile call.
type Option func(*AssembleContext)

// WithDebugSymbols requests that Compile also build an instruction
// index -> source line map, mirroring the teacher's debugSym feature.
func WithDebugSymbols() Option {
	return func(c *AssembleContext) { c.withDbg = true }
}

func newAssembleContext(opts ...Option) *AssembleContext {
	c := &AssembleContext{
		data:     make(map[string]DataInfo),
		sections: make(map[string]*labelScope),
		seen:     make(map[string]bool),
		section:  defaultSection,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.withDbg {
		c.debugSym = make(map[int]string)
	}
	c.sections[defaultSection] = &labelScope{labels: make(map[string]uint32)}
	return c
}

func (c *AssembleContext) scope(section string) *labelScope {
	s, ok := c.sections[section]
	if !ok {
		s = &labelScope{labels: make(map[string]uint32)}
		c.sections[section] = s
	}
	return s
}

func (c *AssembleContext) markSeen(name string, pos diag.Position) error {
	if c.seen[name] {
		return diag.New(pos, ErrDuplicateSymbol, name)
	}
	c.seen[name] = true
	return nil
}

// statement is one source line already split off the token stream:
// its tokens (sans the trailing Newline) and where it started.
type statement struct {
	tokens []lexer.Token
	pos    diag.Position
}

// splitStatements groups a flat token stream into per-line statements.
func splitStatements(tokens []lexer.Token) []statement {
	var stmts []statement
	var cur []lexer.Token
	var pos diag.Position
	havePos := false

	flush := func() {
		if len(cur) > 0 {
			stmts = append(stmts, statement{tokens: cur, pos: pos})
		}
		cur = nil
		havePos = false
	}

	for _, tok := range tokens {
		switch tok.Kind {
		case lexer.Newline:
			flush()
		case lexer.EOF:
			flush()
		default:
			if !havePos {
				pos = tok.Pos
				havePos = true
			}
			cur = append(cur, tok)
		}
	}
	flush()
	return stmts
}

// Compile assembles a token stream into a Program, or returns the
// first structured error encountered (spec.md §4.2's contract).
func Compile(tokens []lexer.Token, opts ...Option) (Program, error) {
	ctx := newAssembleContext(opts...)
	stmts := splitStatements(tokens)

	if err := ctx.pass1(stmts); err != nil {
		return Program{}, err
	}

	instrs, err := ctx.pass2(stmts)
	if err != nil {
		return Program{}, err
	}

	if len(instrs) == 0 || instrs[len(instrs)-1].Op != End {
		instrs = append(instrs, Instruction{Op: End, Op1: none, Op2: none, Width: Width32})
	}

	return Program{Instructions: instrs, Data: ctx.blob, DebugSym: ctx.debugSym}, nil
}

// pass1 records label addresses and data-section layout. It never
// emits instructions; mnemonic lines only advance the active
// section's instruction counter.
func (c *AssembleContext) pass1(stmts []statement) error {
	c.section = defaultSection
	for i := range c.sections {
		c.sections[i].next = 0
	}

	for _, st := range stmts {
		toks := st.tokens
		if len(toks) == 0 {
			continue
		}

		if isSectionDirective(toks) {
			c.section = toks[1].Text
			c.scope(c.section)
			continue
		}

		if len(toks) >= 2 && toks[1].Kind == lexer.Colon {
			name := toks[0].Text
			if len(toks) > 2 {
				// data item: name: type literal
				if err := c.defineData(name, toks[2:], st.pos); err != nil {
					return err
				}
				continue
			}
			// bare label definition
			if err := c.markSeen(name, st.pos); err != nil {
				return err
			}
			c.scope(c.section).labels[name] = c.scope(c.section).next
			continue
		}

		if c.section == "data" {
			return diag.New(st.pos, ErrUnexpectedToken, toks[0].Text)
		}

		// instruction line: counts as one instruction in this section
		c.scope(c.section).next++
	}

	return nil
}

func isSectionDirective(toks []lexer.Token) bool {
	return len(toks) >= 2 && toks[0].Kind == lexer.Ident && toks[0].Text == "section" && toks[1].Kind == lexer.Ident
}

func (c *AssembleContext) defineData(name string, rest []lexer.Token, pos diag.Position) error {
	if len(rest) < 2 {
		return diag.New(pos, ErrUnexpectedToken, name)
	}
	typeTok, litTok := rest[0], rest[1]
	dt, ok := dataTypeNames[typeTok.Text]
	if !ok {
		return diag.New(typeTok.Pos, ErrUnexpectedToken, typeTok.Text)
	}

	if err := c.markSeen(name, pos); err != nil {
		return err
	}

	addr := uint32(len(c.blob))
	switch dt {
	case DataString:
		if litTok.Kind != lexer.String {
			return diag.New(litTok.Pos, ErrUnexpectedToken, litTok.Text)
		}
		bytes := append([]byte(litTok.Text), 0)
		c.blob = append(c.blob, bytes...)
		c.data[name] = DataInfo{Addr: addr, Size: uint32(len(bytes)), Type: dt}
	default:
		value, err := parseScalarLiteral(litTok)
		if err != nil {
			return err
		}
		size := dataTypeSize(dt)
		bytes := make([]byte, size)
		putLittleEndian(bytes, value)
		c.blob = append(c.blob, bytes...)
		c.data[name] = DataInfo{Addr: addr, Size: size, Value: value, Type: dt}
	}

	return nil
}

func dataTypeSize(dt DataType) uint32 {
	switch dt {
	case DataByte:
		return 1
	case DataWord:
		return 2
	default:
		return 4
	}
}

func putLittleEndian(bytes []byte, value uint32) {
	for i := range bytes {
		bytes[i] = byte(value >> (8 * uint(i)))
	}
}

func parseScalarLiteral(tok lexer.Token) (uint32, error) {
	switch tok.Kind {
	case lexer.Number:
		return parseNumber(tok)
	case lexer.Char:
		runes := []rune(tok.Text)
		if len(runes) != 1 {
			return 0, diag.New(tok.Pos, ErrBadNumeric, tok.Text)
		}
		return uint32(runes[0]), nil
	default:
		return 0, diag.New(tok.Pos, ErrUnexpectedToken, tok.Text)
	}
}

func parseNumber(tok lexer.Token) (uint32, error) {
	text := tok.Text
	base := 10
	neg := false
	if strings.HasPrefix(text, "-") {
		neg = true
		text = text[1:]
	}
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		base = 16
		text = text[2:]
	}
	if neg {
		v, err := strconv.ParseInt("-"+text, base, 64)
		if err != nil {
			return 0, diag.New(tok.Pos, ErrBadNumeric, tok.Text)
		}
		return uint32(int32(v)), nil
	}
	v, err := strconv.ParseUint(text, base, 64)
	if err != nil {
		return 0, diag.New(tok.Pos, ErrBadNumeric, tok.Text)
	}
	return uint32(v), nil
}

func (c *AssembleContext) resolveIdentifier(name string, pos diag.Position) (uint32, error) {
	if info, ok := c.data[name]; ok {
		return info.Addr, nil
	}
	if scope, ok := c.sections[c.section]; ok {
		if addr, ok2 := scope.labels[name]; ok2 {
			return addr, nil
		}
	}
	// identifiers may reference labels defined in another section too
	for _, scope := range c.sections {
		if addr, ok := scope.labels[name]; ok {
			return addr, nil
		}
	}
	return 0, diag.New(pos, ErrUnresolvedSymbol, name)
}
