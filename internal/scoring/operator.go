package scoring

import (
	"strings"

	"github.com/spigell/interview-advancer/internal/errors"
)

type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpGreater        Operator = ">"
	OpEqual          Operator = "=="
	OpLessOrEqual    Operator = "<="
	OpLess           Operator = "<"
)

var operatorAliases = map[string]Operator{
	">=": OpGreaterOrEqual,
	"≥":  OpGreaterOrEqual,
	">":  OpGreater,
	"==": OpEqual,
	"=":  OpEqual,
	"<=": OpLessOrEqual,
	"≤":  OpLessOrEqual,
	"<":  OpLess,
}

func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.TrimSpace(s)]
	if !ok {
		return "", errors.NewConfigurationError("unknown operator %q", s)
	}
	return op, nil
}

var errUnsupported = errors.New("operator not supported for value kind")

// Compare applies op as "actual op threshold". Both values must be of the
// same kind; booleans and text only support equality.
func Compare(actual Value, op Operator, threshold Value) (bool, error) {
	if actual.kind != threshold.kind {
		return false, errors.Newf("cannot compare %s with %s", actual.kind, threshold.kind)
	}

	switch actual.kind {
	case KindNumber:
		a, b := actual.num, threshold.num
		switch op {
		case OpGreaterOrEqual:
			return a >= b, nil
		case OpGreater:
			return a > b, nil
		case OpEqual:
			return a == b, nil
		case OpLessOrEqual:
			return a <= b, nil
		case OpLess:
			return a < b, nil
		}
	case KindBool:
		if op == OpEqual {
			return actual.b == threshold.b, nil
		}
	case KindText:
		if op == OpEqual {
			return actual.text == threshold.text, nil
		}
	}

	return false, errors.Wrapf(errUnsupported, "%s on %s", op, actual.kind)
}
