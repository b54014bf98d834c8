package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfmark/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // stream payload (after 'stream' keyword)
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline-image"
	default:
		return "keyword"
	}
}

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // names and keywords
	Bytes []byte // strings, stream and inline image payloads
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Hex   bool // TokenString written as <...>
	Gen   int  // TokenRef generation; the object number is in Int
}

type Config struct {
	MaxStringLength int64
	Recovery        recovery.Strategy
}

// Scanner tokenizes PDF syntax held in memory.
type Scanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	component     string
}

// New returns a scanner positioned at the start of data.
func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg, nextStreamLen: -1, component: "scanner"}
}

func (s *Scanner) Position() int64 { return s.pos }

// Len is the size of the underlying buffer.
func (s *Scanner) Len() int64 { return int64(len(s.data)) }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength tells the scanner how many payload bytes follow the next
// 'stream' keyword. A negative value makes it search for 'endstream'.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peekAhead(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				s.pos++
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
			continue
		}
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.fail(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if err := s.recover(errors.New("invalid hex digit"), "hex"); err != nil {
				return Token{}, err
			}
			continue
		}
		nibbles = append(nibbles, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, s.fail(errors.New("hex string too long"), "hex")
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

// scanStream consumes the payload that follows a 'stream' keyword.
func (s *Scanner) scanStream(start int64) (Token, error) {
	// PDF 7.3.8: the keyword is followed by CRLF or LF; tolerate a bare CR.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	needle := []byte("endstream")
	l := s.nextStreamLen
	s.nextStreamLen = -1
	if l >= 0 && dataStart+l <= int64(len(s.data)) {
		end := dataStart + l
		rest := bytes.TrimLeft(s.data[end:], "\r\n \t")
		if bytes.HasPrefix(rest, needle) {
			payload := s.data[dataStart:end]
			s.pos = int64(len(s.data)-len(rest)) + int64(len(needle))
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
		if err := s.recover(errors.New("stream /Length does not reach endstream"), "stream"); err != nil {
			return Token{}, err
		}
	}
	idx := bytes.Index(s.data[dataStart:], needle)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		payload := s.data[dataStart:]
		s.pos = int64(len(s.data))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
	end := dataStart + int64(idx)
	// The EOL before endstream is not part of the data.
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	payload := s.data[dataStart:end]
	s.pos = dataStart + int64(idx+len(needle))
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

// scanInlineImage consumes bytes after the ID keyword up to the EI operator.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	if s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	for i := dataStart; i+1 < int64(len(s.data)); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		prevOK := i > dataStart && isWhitespace(s.data[i-1])
		nextOK := i+2 >= int64(len(s.data)) || isDelimiter(s.data[i+2])
		if prevOK && nextOK {
			payload := s.data[dataStart : i-1]
			s.pos = i + 2
			return Token{Type: TokenInlineImage, Bytes: payload, Pos: start}, nil
		}
	}
	s.pos = int64(len(s.data))
	return Token{}, s.fail(errors.New("unterminated inline image"), "inline_image")
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// A stray delimiter such as ')' outside a string.
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start:s.pos]), Pos: start}, nil
	}
	first := numberToken(num1, start)
	if !first.IsInt || first.Int < 0 {
		return first, nil
	}
	// Look ahead for "<gen> R".
	save := s.pos
	s.skipWSAndComments()
	num2 := s.scanNumberString()
	if num2 != "" {
		second := numberToken(num2, 0)
		s.skipWSAndComments()
		if second.IsInt && second.Int >= 0 && s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
			(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
			s.pos++
			return Token{Type: TokenRef, Int: first.Int, Gen: int(second.Int), IsInt: true, Pos: start}, nil
		}
	}
	s.pos = save
	return first, nil
}

func numberToken(lit string, pos int64) Token {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Str: lit, Pos: pos}
	}
	f, _ := strconv.ParseFloat(normalizeReal(lit), 64)
	return Token{Type: TokenNumber, Float: f, Str: lit, Pos: pos}
}

// normalizeReal repairs forms like "--5", "5.", "-.5" and "1.2.3" that real
// writers emit and strconv rejects.
func normalizeReal(lit string) string {
	neg := false
	i := 0
	for i < len(lit) && (lit[i] == '+' || lit[i] == '-') {
		if lit[i] == '-' {
			neg = !neg
		}
		i++
	}
	body := lit[i:]
	if dot := bytes.IndexByte([]byte(body), '.'); dot >= 0 {
		if second := bytes.IndexByte([]byte(body[dot+1:]), '.'); second >= 0 {
			body = body[:dot+1+second]
		}
	}
	if body == "" || body == "." {
		body = "0"
	}
	if neg {
		return "-" + body
	}
	return body
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if !(c == '+' || c == '-' || c == '.') || (seenDigit && c != '.') {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func (s *Scanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		// Malformed text is tolerated unless a strategy says otherwise.
		return nil
	}
	action := s.cfg.Recovery.OnError(context.Background(), err, recovery.Location{
		ByteOffset: s.pos,
		Component:  s.component + ":" + loc,
	})
	if action == recovery.ActionFail {
		return err
	}
	return nil
}

func (s *Scanner) fail(err error, loc string) error {
	if s.cfg.Recovery != nil {
		s.cfg.Recovery.OnError(context.Background(), err, recovery.Location{ByteOffset: s.pos, Component: s.component + ":" + loc})
	}
	return err
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
