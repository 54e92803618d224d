package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// StandardLimit applies whenever no explicit limit was requested.
	StandardLimit = 50
	MaxLimit      = 1000
)

type LimitMode uint8

const (
	LimitUnspecified LimitMode = iota
	LimitDefault
	LimitExplicit
)

func (m LimitMode) String() string {
	switch m {
	case LimitDefault:
		return "default"
	case LimitExplicit:
		return "explicit"
	default:
		return "unspecified"
	}
}

// Limit distinguishes "the user said nothing" from "the user asked for the
// default" from "the user asked for N". Merge adopts any specified limit.
type Limit struct {
	Mode  LimitMode
	Value int
}

func ExplicitLimit(n int) Limit {
	return Limit{Mode: LimitExplicit, Value: n}
}

func DefaultLimit() Limit {
	return Limit{Mode: LimitDefault}
}

func (l Limit) Explicit() bool {
	return l.Mode == LimitExplicit
}

// Specified reports whether the user said anything about the limit, including
// asking for the default.
func (l Limit) Specified() bool {
	return l.Mode != LimitUnspecified
}

// Effective is the row limit the compiled query uses.
func (l Limit) Effective() int {
	if l.Mode == LimitExplicit {
		return l.Value
	}
	return StandardLimit
}

func (l Limit) String() string {
	if l.Mode == LimitExplicit {
		return strconv.Itoa(l.Value)
	}
	return l.Mode.String()
}

func (l Limit) MarshalJSON() ([]byte, error) {
	switch l.Mode {
	case LimitExplicit:
		return []byte(strconv.Itoa(l.Value)), nil
	case LimitDefault:
		return []byte(`"default"`), nil
	default:
		return []byte("null"), nil
	}
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = Limit{}
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		raw = strings.TrimSpace(raw)
		if strings.EqualFold(raw, "default") || raw == "" {
			*l = DefaultLimit()
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("limit: %q is neither a number nor \"default\"", raw)
		}
		*l = ExplicitLimit(n)
		return nil
	}

	var number json.Number
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&number); err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	n, err := number.Int64()
	if err != nil {
		return fmt.Errorf("limit: %s is not an integer", number)
	}
	*l = ExplicitLimit(int(n))
	return nil
}
