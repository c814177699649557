// Package search provides query parsing and execution for the event
// search API backed by ClickHouse.
package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TokenType represents the type of a query token.
type TokenType int

const (
	TokenField TokenType = iota
	TokenOperator
	TokenValue
	TokenAnd
	TokenOr
	TokenNot
	TokenLParen
	TokenRParen
	TokenEOF
)

// Token represents a parsed query token.
type Token struct {
	Type  TokenType
	Value string
}

// Operator represents a comparison operator.
type Operator string

const (
	OpEquals      Operator = "="
	OpNotEquals   Operator = "!="
	OpGreater     Operator = ">"
	OpGreaterEq   Operator = ">="
	OpLess        Operator = "<"
	OpLessEq      Operator = "<="
	OpContains    Operator = "~"
	OpNotContains Operator = "!~"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "!exists"
)

// Condition represents a single search condition.
type Condition struct {
	Field       string
	Operator    Operator
	Value       interface{}
	IsRegex     bool
	IsPhrase    bool   // value was a quoted phrase
	IsTag       bool   // field targets the sensitivity_tags array
	IsMetadata  bool   // field is metadata.* or meta.*
	MetadataKey string // JSON key within metadata (e.g. "model_name")
	OpenParens  int    // opening parens before this condition
	CloseParens int    // closing parens after this condition
}

// Query represents a parsed search query.
type Query struct {
	Conditions []Condition
	Logic      []string // "AND" or "OR" between conditions
	TimeRange  *TimeRange
	Limit      int
	Offset     int
	OrderBy    string
	OrderDesc  bool
}

// TimeRange represents a time-based filter.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Lexer tokenizes a query string.
type Lexer struct {
	input   string
	pos     int
	current rune
}

// NewLexer creates a new lexer for the input string.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	if len(input) > 0 {
		l.current = rune(input[0])
	}
	return l
}

func (l *Lexer) advance() {
	l.pos++
	if l.pos < len(l.input) {
		l.current = rune(l.input[l.pos])
	} else {
		l.current = 0
	}
}

func (l *Lexer) peek() rune {
	if l.pos+1 < len(l.input) {
		return rune(l.input[l.pos+1])
	}
	return 0
}

func (l *Lexer) skipWhitespace() {
	for unicode.IsSpace(l.current) {
		l.advance()
	}
}

func isOperatorStart(r rune) bool {
	switch r {
	case ':', '=', '!', '>', '<', '~':
		return true
	}
	return false
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	switch {
	case l.current == 0:
		return Token{Type: TokenEOF}
	case l.current == '(':
		l.advance()
		return Token{Type: TokenLParen, Value: "("}
	case l.current == ')':
		l.advance()
		return Token{Type: TokenRParen, Value: ")"}
	case isOperatorStart(l.current):
		return l.readOperator()
	case l.current == '"' || l.current == '\'':
		return l.readQuotedString()
	}

	return l.readIdentifier()
}

func (l *Lexer) readOperator() Token {
	switch l.current {
	case ':', '=':
		l.advance()
		return Token{Type: TokenOperator, Value: "="}
	case '!':
		l.advance()
		switch l.current {
		case '=':
			l.advance()
			return Token{Type: TokenOperator, Value: "!="}
		case '~':
			l.advance()
			return Token{Type: TokenOperator, Value: "!~"}
		}
		return Token{Type: TokenNot, Value: "NOT"}
	case '>':
		l.advance()
		if l.current == '=' {
			l.advance()
			return Token{Type: TokenOperator, Value: ">="}
		}
		return Token{Type: TokenOperator, Value: ">"}
	case '<':
		l.advance()
		if l.current == '=' {
			l.advance()
			return Token{Type: TokenOperator, Value: "<="}
		}
		return Token{Type: TokenOperator, Value: "<"}
	case '~':
		l.advance()
		return Token{Type: TokenOperator, Value: "~"}
	}
	l.advance()
	return Token{Type: TokenOperator, Value: "="}
}

func (l *Lexer) readQuotedString() Token {
	quote := l.current
	l.advance()
	start := l.pos

	for l.current != 0 && l.current != quote {
		if l.current == '\\' && l.peek() == quote {
			l.advance()
		}
		l.advance()
	}

	value := l.input[start:l.pos]
	if l.current == quote {
		l.advance()
	}
	return Token{Type: TokenValue, Value: value}
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos

	for l.current != 0 && !unicode.IsSpace(l.current) &&
		l.current != '(' && l.current != ')' && !isOperatorStart(l.current) {
		l.advance()
	}

	value := l.input[start:l.pos]

	switch strings.ToUpper(value) {
	case "AND", "&&":
		return Token{Type: TokenAnd, Value: "AND"}
	case "OR", "||":
		return Token{Type: TokenOr, Value: "OR"}
	case "NOT":
		return Token{Type: TokenNot, Value: "NOT"}
	}

	// An identifier followed by an operator is a field name.
	l.skipWhitespace()
	if isOperatorStart(l.current) {
		return Token{Type: TokenField, Value: value}
	}

	return Token{Type: TokenValue, Value: value}
}

// Parser parses query tokens into a Query structure.
type Parser struct {
	lexer   *Lexer
	current Token
}

// NewParser creates a new parser for the query string.
func NewParser(query string) *Parser {
	p := &Parser{lexer: NewLexer(query)}
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

// Parse parses the query string into a Query structure.
func (p *Parser) Parse() (*Query, error) {
	query := &Query{
		Limit:     100,
		OrderBy:   "timestamp",
		OrderDesc: true,
	}

	pendingParens := 0

	for p.current.Type != TokenEOF {
		switch p.current.Type {
		case TokenField:
			cond, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			cond.OpenParens = pendingParens
			pendingParens = 0
			query.Conditions = append(query.Conditions, cond)

		case TokenAnd:
			if len(query.Conditions) > 0 {
				query.Logic = append(query.Logic, "AND")
			}
			p.advance()

		case TokenOr:
			if len(query.Conditions) > 0 {
				query.Logic = append(query.Logic, "OR")
			}
			p.advance()

		case TokenLParen:
			pendingParens++
			p.advance()

		case TokenRParen:
			if len(query.Conditions) > 0 {
				query.Conditions[len(query.Conditions)-1].CloseParens++
			}
			p.advance()

		case TokenNot:
			p.advance()
			if p.current.Type == TokenField {
				cond, err := p.parseCondition()
				if err != nil {
					return nil, err
				}
				switch cond.Operator {
				case OpEquals:
					cond.Operator = OpNotEquals
				case OpContains:
					cond.Operator = OpNotContains
				case OpExists:
					cond.Operator = OpNotExists
				}
				cond.OpenParens = pendingParens
				pendingParens = 0
				query.Conditions = append(query.Conditions, cond)
			}

		default:
			p.advance()
		}
	}

	return query, nil
}

func (p *Parser) parseCondition() (Condition, error) {
	cond := Condition{
		Field:    p.current.Value,
		Operator: OpEquals,
	}

	fieldLower := strings.ToLower(cond.Field)
	switch {
	case strings.HasPrefix(fieldLower, "metadata."):
		cond.IsMetadata = true
		cond.MetadataKey = cond.Field[len("metadata."):]
	case strings.HasPrefix(fieldLower, "meta."):
		cond.IsMetadata = true
		cond.MetadataKey = cond.Field[len("meta."):]
	case fieldLower == "tag" || fieldLower == "tags" || fieldLower == "sensitivity_tags":
		cond.IsTag = true
	}

	p.advance()

	if p.current.Type == TokenOperator {
		cond.Operator = Operator(p.current.Value)
		p.advance()
	}

	if p.current.Type == TokenValue || p.current.Type == TokenField {
		value := p.current.Value

		if strings.Contains(value, " ") {
			cond.IsPhrase = true
		}

		// Wildcard values become regular expressions.
		if strings.Contains(value, "*") && !cond.IsPhrase {
			cond.IsRegex = true
			value = "^" + strings.ReplaceAll(regexp.QuoteMeta(value), "\\*", ".*") + "$"
		}

		if cond.IsPhrase || cond.IsRegex || cond.IsTag {
			cond.Value = value
		} else if num, err := strconv.ParseInt(value, 10, 64); err == nil {
			cond.Value = num
		} else if num, err := strconv.ParseFloat(value, 64); err == nil {
			cond.Value = num
		} else if dur, ok := parseDuration(value); ok {
			// Relative time such as "now-1h".
			cond.Value = time.Now().Add(-dur)
		} else {
			cond.Value = value
		}

		p.advance()
	}

	return cond, nil
}

// parseDuration parses relative time expressions like "now-1h", "now-24h".
func parseDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(s)
	if !strings.HasPrefix(s, "now") {
		return 0, false
	}

	s = strings.TrimPrefix(s, "now")
	if s == "" {
		return 0, true
	}

	switch s[0] {
	case '-', '+':
		s = s[1:]
	default:
		return 0, false
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		if strings.HasSuffix(s, "d") {
			if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
				return time.Duration(days) * 24 * time.Hour, true
			}
		}
		return 0, false
	}

	return dur, true
}

// ParseQuery is a convenience function to parse a query string.
func ParseQuery(query string) (*Query, error) {
	return NewParser(query).Parse()
}

// FieldMapping maps query field names to events table columns.
var FieldMapping = map[string]string{
	"event_id":    "event_id",
	"id":          "event_id",
	"event_type":  "event_type",
	"type":        "event_type",
	"timestamp":   "timestamp",
	"time":        "timestamp",
	"ts":          "timestamp",
	"received_at": "received_at",
	// Entity references
	"source_system_id": "source_system_id",
	"source":           "source_system_id",
	"src":              "source_system_id",
	"target_entity_id": "target_entity_id",
	"target":           "target_entity_id",
	"dst":              "target_entity_id",
	"identity_id":      "identity_id",
	"identity":         "identity_id",
	"user":             "identity_id",
	// Risk attributes
	"exposure_direction":   "exposure_direction",
	"exposure":             "exposure_direction",
	"data_volume_estimate": "data_volume_estimate",
	"volume":               "data_volume_estimate",
	"privilege_level":      "privilege_level",
	"privilege":            "privilege_level",
	// Array and JSON fields
	"sensitivity_tags": "sensitivity_tags",
	"tags":             "sensitivity_tags",
	"tag":              "sensitivity_tags",
	"metadata":         "metadata",
}

// MapField maps a query field name to a database column.
func MapField(field string) (string, bool) {
	if col, ok := FieldMapping[strings.ToLower(field)]; ok {
		return col, true
	}
	if strings.HasPrefix(field, "metadata.") || strings.HasPrefix(field, "meta.") {
		return field, true
	}
	return field, false
}

// String returns a string representation of the query.
func (q *Query) String() string {
	var parts []string
	for i, cond := range q.Conditions {
		parts = append(parts, fmt.Sprintf("%s%s%v", cond.Field, cond.Operator, cond.Value))
		if i < len(q.Logic) {
			parts = append(parts, q.Logic[i])
		}
	}
	return strings.Join(parts, " ")
}
