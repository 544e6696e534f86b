package chunker

import (
	"strings"
)

// stmtKind classifies the statement currently being scanned.
type stmtKind int

const (
	kindUnknown  stmtKind = iota
	kindPlain             // ends at the first top-level ';'
	kindCompound          // function/procedure/trigger body, ends when BEGIN/END depth returns to zero
	kindBlock             // bare BEGIN ... END block
	kindView              // ends at the first ';' regardless of nesting
)

// keywordAliases maps misspelled keywords found in exported dumps to the
// canonical keyword.
var keywordAliases = map[string]string{
	"BEGN":       "BEGIN",
	"BEGINN":     "BEGIN",
	"BEIGN":      "BEGIN",
	"BEGING":     "BEGIN",
	"EDN":        "END",
	"ENDD":       "END",
	"ENND":       "END",
	"FUNCTON":    "FUNCTION",
	"FUNCITON":   "FUNCTION",
	"FUCNTION":   "FUNCTION",
	"FUNTION":    "FUNCTION",
	"PROCEDRUE":  "PROCEDURE",
	"PROCEDUER":  "PROCEDURE",
	"PROCEDUR":   "PROCEDURE",
	"PROCEEDURE": "PROCEDURE",
}

// createTargets decides the statement kind from the object created.
var createTargets = map[string]stmtKind{
	"FUNCTION":  kindCompound,
	"PROCEDURE": kindCompound,
	"TRIGGER":   kindCompound,
	"EVENT":     kindCompound,
	"PACKAGE":   kindCompound,
	"VIEW":      kindView,
	"TABLE":     kindPlain,
	"INDEX":     kindPlain,
	"SCHEMA":    kindPlain,
	"DATABASE":  kindPlain,
	"SEQUENCE":  kindPlain,
	"TYPE":      kindPlain,
	"EXTENSION": kindPlain,
	"ROLE":      kindPlain,
	"USER":      kindPlain,
	"DOMAIN":    kindPlain,
}

// maxCreatePrefixWords bounds how many modifier words (OR REPLACE, DEFINER,
// TEMPORARY, ...) may precede the created object before the statement is
// treated as plain.
const maxCreatePrefixWords = 8

// blockEndModifiers follow END without closing a BEGIN or CASE.
var blockEndModifiers = map[string]bool{
	"IF": true, "LOOP": true, "WHILE": true, "REPEAT": true, "FOR": true,
}

// transactionWords after a leading BEGIN mean a transaction, not a block.
var transactionWords = map[string]bool{
	"TRANSACTION": true, "WORK": true, "TRAN": true,
	"DEFERRED": true, "IMMEDIATE": true, "EXCLUSIVE": true,
}

// statementKeywords start a statement of their own and are never read as
// the label of a closing END.
var statementKeywords = map[string]bool{
	"BEGIN": true, "END": true, "COMMIT": true, "ROLLBACK": true, "GO": true,
	"CREATE": true, "ALTER": true, "DROP": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "SELECT": true, "GRANT": true, "SET": true,
}

func canonicalKeyword(word string) string {
	upper := strings.ToUpper(word)
	if alias, ok := keywordAliases[upper]; ok {
		return alias
	}
	return upper
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// sqlScanner walks SQL text byte by byte. Multi-byte UTF-8 sequences never
// contain ASCII bytes, so byte scanning is safe for delimiters.
type sqlScanner struct {
	src   string
	pos   int
	start int
	out   []string

	kind     stmtKind
	words    int
	depth    int
	sawBegin bool
	prevWord string

	delim string // client terminator set by DELIMITER; empty means ';'
	lead  string // comments held for the next statement
}

// SplitStatements splits SQL text into statements. Terminating ';' stay
// attached to their statement. Empty statements are dropped.
func SplitStatements(text string) []string {
	s := &sqlScanner{src: text}
	s.run()
	return s.out
}

func (s *sqlScanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '-' && s.peekByte(1) == '-':
			s.skipLineComment()
		case c == '#' && s.kind == kindUnknown && s.words == 0:
			s.skipLineComment()
		case c == '/' && s.peekByte(1) == '*':
			s.skipBlockComment()
		case c == '\'' || c == '"' || c == '`':
			s.pos = skipQuoted(s.src, s.pos)
		case s.delim != "" && strings.HasPrefix(s.src[s.pos:], s.delim):
			s.pos += len(s.delim)
			s.emit()
		case c == '$' && (s.prevWord == "AS" || s.prevWord == "DO"):
			s.skipDollarQuoted()
		case isWordStart(c):
			if s.words == 0 && s.delimiterDirective() {
				continue
			}
			s.word()
		case c == ';':
			s.pos++
			if s.delim != "" {
				continue
			}
			if s.kind == kindCompound || s.kind == kindBlock {
				if s.depth > 0 {
					continue
				}
			}
			s.emit()
		default:
			s.pos++
		}
	}
	s.emitRest()
}

// delimiterDirective consumes a MySQL client "DELIMITER x" line. Until the
// next directive, statements end at x and BEGIN/END nesting is not tracked.
// The directive line belongs to no statement.
func (s *sqlScanner) delimiterDirective() bool {
	w, end := readWord(s.src, s.pos)
	if !strings.EqualFold(w, "DELIMITER") || end >= len(s.src) || !isSpace(s.src[end]) {
		return false
	}
	lineEnd := len(s.src)
	if i := strings.IndexByte(s.src[end:], '\n'); i >= 0 {
		lineEnd = end + i
	}
	fields := strings.Fields(s.src[end:lineEnd])
	if len(fields) == 0 {
		return false
	}

	if lead := strings.TrimSpace(s.src[s.start:s.pos]); lead != "" {
		if len(s.out) > 0 {
			s.out[len(s.out)-1] += "\n" + lead
		} else {
			s.lead = lead
		}
	}
	s.delim = fields[0]
	if s.delim == ";" {
		s.delim = ""
	}
	s.pos = lineEnd
	s.start = lineEnd
	return true
}

func (s *sqlScanner) peekByte(offset int) byte {
	if s.pos+offset < len(s.src) {
		return s.src[s.pos+offset]
	}
	return 0
}

func (s *sqlScanner) skipLineComment() {
	i := strings.IndexByte(s.src[s.pos:], '\n')
	if i < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += i + 1
}

func (s *sqlScanner) skipBlockComment() {
	i := strings.Index(s.src[s.pos+2:], "*/")
	if i < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += 2 + i + 2
}

// skipQuoted returns the position just past the string literal opened at
// pos. Backslash escapes the next byte; a doubled quote closes and reopens.
func skipQuoted(src string, pos int) int {
	quote := src[pos]
	pos++
	for pos < len(src) {
		switch src[pos] {
		case '\\':
			pos += 2
			continue
		case quote:
			return pos + 1
		}
		pos++
	}
	return len(src)
}

// skipDollarQuoted skips a $tag$ ... $tag$ body. A '$' that does not open a
// well-formed tag is consumed as a plain byte.
func (s *sqlScanner) skipDollarQuoted() {
	end := s.pos + 1
	for end < len(s.src) && isWordByte(s.src[end]) {
		end++
	}
	if end >= len(s.src) || s.src[end] != '$' {
		s.pos++
		return
	}
	tag := s.src[s.pos : end+1]
	i := strings.Index(s.src[end+1:], tag)
	if i < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos = end + 1 + i + len(tag)
	s.prevWord = ""
}

// readWord returns the word starting at pos and the position after it.
func readWord(src string, pos int) (string, int) {
	end := pos
	for end < len(src) && isWordByte(src[end]) {
		end++
	}
	return src[pos:end], end
}

// nextToken skips whitespace and comments after pos and reports the next
// canonical keyword (if any), its end, and the first significant byte.
func (s *sqlScanner) nextToken(pos int) (word string, end int, first byte) {
	for pos < len(s.src) {
		c := s.src[pos]
		switch {
		case isSpace(c):
			pos++
		case c == '-' && pos+1 < len(s.src) && s.src[pos+1] == '-':
			i := strings.IndexByte(s.src[pos:], '\n')
			if i < 0 {
				return "", len(s.src), 0
			}
			pos += i + 1
		case c == '/' && pos+1 < len(s.src) && s.src[pos+1] == '*':
			i := strings.Index(s.src[pos+2:], "*/")
			if i < 0 {
				return "", len(s.src), 0
			}
			pos += 2 + i + 2
		case isWordStart(c):
			w, e := readWord(s.src, pos)
			return canonicalKeyword(w), e, c
		default:
			return "", pos, c
		}
	}
	return "", pos, 0
}

func (s *sqlScanner) word() {
	raw, end := readWord(s.src, s.pos)
	s.pos = end
	w := canonicalKeyword(raw)
	s.words++

	if s.delim != "" {
		s.prevWord = w
		return
	}
	if s.kind == kindUnknown {
		s.classify(w)
	} else if s.kind == kindCompound || s.kind == kindBlock {
		s.track(w)
	}
	s.prevWord = w
}

// classify settles the statement kind from its leading keywords.
func (s *sqlScanner) classify(w string) {
	if s.words == 1 {
		switch w {
		case "CREATE", "ALTER":
			return
		case "BEGIN":
			next, _, first := s.nextToken(s.pos)
			if first == ';' || first == 0 || transactionWords[next] {
				s.kind = kindPlain
				return
			}
			s.kind = kindBlock
			s.depth = 1
			s.sawBegin = true
			return
		default:
			s.kind = kindPlain
			return
		}
	}

	if k, ok := createTargets[w]; ok {
		s.kind = k
		return
	}
	if s.words > maxCreatePrefixWords {
		s.kind = kindPlain
	}
}

// track maintains BEGIN/END depth inside compound constructs.
func (s *sqlScanner) track(w string) {
	switch w {
	case "BEGIN":
		s.depth++
		s.sawBegin = true
	case "CASE":
		if s.sawBegin {
			s.depth++
		}
	case "END":
		next, nextEnd, _ := s.nextToken(s.pos)
		if blockEndModifiers[next] {
			s.pos = nextEnd
			s.prevWord = next
			return
		}
		if next == "CASE" {
			s.pos = nextEnd
		}
		if s.depth == 0 {
			return
		}
		s.depth--
		if s.depth == 0 && s.sawBegin {
			s.closeCompound()
		}
	}
}

// closeCompound ends the statement after its final END, absorbing an
// optional label and trailing ';' ("END;", "END proc_name;").
func (s *sqlScanner) closeCompound() {
	next, end, first := s.nextToken(s.pos)
	switch {
	case first == ';':
		s.pos = end + 1
	case next != "" && !statementKeywords[next]:
		if _, labelEnd, after := s.nextToken(end); after == ';' {
			s.pos = labelEnd + 1
		}
	}
	s.emit()
}

func (s *sqlScanner) emit() {
	stmt := strings.TrimSpace(s.src[s.start:s.pos])
	if stmt != "" && stmt != ";" && stmt != s.delim {
		if s.lead != "" {
			stmt = s.lead + "\n" + stmt
			s.lead = ""
		}
		s.out = append(s.out, stmt)
	}
	s.start = s.pos
	s.kind = kindUnknown
	s.words = 0
	s.depth = 0
	s.sawBegin = false
	s.prevWord = ""
}

// emitRest flushes the unterminated remainder. A remainder holding only
// comments is attached to the previous statement.
func (s *sqlScanner) emitRest() {
	if s.start >= len(s.src) {
		return
	}
	rest := strings.TrimSpace(s.src[s.start:])
	if s.words == 0 && rest != "" && len(s.out) > 0 {
		s.out[len(s.out)-1] += "\n" + rest
		s.start = len(s.src)
		return
	}
	s.pos = len(s.src)
	s.emit()
}

// SplitSQL splits SQL text into statements and breaks statements longer than
// budget characters. Oversized INSERT ... VALUES statements are split between
// value tuples; other oversized statements are split on line boundaries.
func SplitSQL(text string, budget int) []string {
	var out []string
	for _, stmt := range SplitStatements(text) {
		if budget <= 0 || runeLen(stmt) <= budget {
			out = append(out, stmt)
			continue
		}
		if parts, ok := splitInsert(stmt, budget); ok {
			out = append(out, parts...)
			continue
		}
		out = append(out, splitLines(stmt, budget)...)
	}
	return out
}

// splitInsert rewrites an INSERT ... VALUES (...), (...) statement into
// several INSERT statements that each stay within budget. A tuple is never
// split; a single tuple larger than budget becomes its own statement, even
// when it is the only one.
func splitInsert(stmt string, budget int) ([]string, bool) {
	head, tuples, tail, ok := parseInsert(stmt)
	if !ok {
		return nil, false
	}

	head = strings.TrimRight(head, " \t\r\n") + " "
	tail = strings.TrimSpace(tail)
	if tail != "" && !strings.HasPrefix(tail, ";") {
		tail = " " + tail
	}
	base := runeLen(head) + runeLen(tail)

	var out, current []string
	size := base
	flush := func() {
		if len(current) > 0 {
			out = append(out, head+strings.Join(current, ",")+tail)
		}
		current, size = nil, base
	}

	for _, tuple := range tuples {
		add := runeLen(tuple)
		if len(current) > 0 {
			add++ // comma
		}
		if len(current) > 0 && size+add > budget {
			flush()
			add = runeLen(tuple)
		}
		current = append(current, tuple)
		size += add
	}
	flush()
	return out, true
}

// parseInsert locates the VALUES keyword of an INSERT or REPLACE statement
// and the value tuples that follow it. head ends with VALUES; tail is
// everything after the last tuple.
func parseInsert(stmt string) (head string, tuples []string, tail string, ok bool) {
	pos, words, depth := 0, 0, 0
	valuesEnd := -1

	for pos < len(stmt) && valuesEnd < 0 {
		c := stmt[pos]
		switch {
		case c == '-' && pos+1 < len(stmt) && stmt[pos+1] == '-':
			i := strings.IndexByte(stmt[pos:], '\n')
			if i < 0 {
				return "", nil, "", false
			}
			pos += i + 1
		case c == '/' && pos+1 < len(stmt) && stmt[pos+1] == '*':
			i := strings.Index(stmt[pos+2:], "*/")
			if i < 0 {
				return "", nil, "", false
			}
			pos += 2 + i + 2
		case c == '\'' || c == '"' || c == '`':
			pos = skipQuoted(stmt, pos)
		case c == '(':
			depth++
			pos++
		case c == ')':
			depth--
			pos++
		case isWordStart(c):
			w, end := readWord(stmt, pos)
			w = strings.ToUpper(w)
			words++
			if words == 1 && w != "INSERT" && w != "REPLACE" {
				return "", nil, "", false
			}
			if depth == 0 && (w == "VALUES" || w == "VALUE") {
				valuesEnd = end
			}
			pos = end
		default:
			pos++
		}
	}
	if valuesEnd < 0 {
		return "", nil, "", false
	}

	pos = valuesEnd
	tailStart := -1
	for pos < len(stmt) && tailStart < 0 {
		c := stmt[pos]
		switch {
		case isSpace(c) || c == ',':
			pos++
		case c == '(':
			end := matchParen(stmt, pos)
			if end < 0 {
				return "", nil, "", false
			}
			tuples = append(tuples, stmt[pos:end+1])
			pos = end + 1
		default:
			tailStart = pos
		}
	}
	if tailStart < 0 {
		tailStart = len(stmt)
	}
	return stmt[:valuesEnd], tuples, stmt[tailStart:], len(tuples) > 0
}

// matchParen returns the index of the ')' closing the '(' at open, tracking
// nesting and string literals, or -1 when unbalanced.
func matchParen(s string, open int) int {
	depth := 0
	for pos := open; pos < len(s); {
		switch s[pos] {
		case '\'', '"', '`':
			pos = skipQuoted(s, pos)
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return pos
			}
		}
		pos++
	}
	return -1
}

// splitLines accumulates whole lines until the next line would exceed
// budget. A single line longer than budget is cut into budget-sized windows.
func splitLines(stmt string, budget int) []string {
	var out []string
	var b strings.Builder
	size := 0

	flush := func() {
		if strings.TrimSpace(b.String()) != "" {
			out = append(out, strings.TrimRight(b.String(), "\n"))
		}
		b.Reset()
		size = 0
	}

	for _, line := range strings.SplitAfter(stmt, "\n") {
		n := runeLen(line)
		if n > budget {
			flush()
			for _, w := range windows(line, budget) {
				b.WriteString(w)
				flush()
			}
			continue
		}
		if size > 0 && size+n > budget {
			flush()
		}
		b.WriteString(line)
		size += n
	}
	flush()
	return out
}
