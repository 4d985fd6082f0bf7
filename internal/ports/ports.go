// Package ports validates the listening ports assigned to secondary nodes.
package ports

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/singbox-portmap/internal/model"
)

const (
	MinPort = 1
	MaxPort = 65535
)

type Kind int

const (
	KindNone Kind = iota
	KindInvalid
	KindDuplicate
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindDuplicate:
		return "DUPLICATE"
	default:
		return "NONE"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Result is the outcome of one validation pass. Duplicate and Invalid hold
// input indices in ascending order.
type Result struct {
	Valid     bool  `json:"valid"`
	Kind      Kind  `json:"kind"`
	Duplicate []int `json:"duplicate"`
	Invalid   []int `json:"invalid"`
}

// Validate checks every value against [MinPort, MaxPort] and, among the
// in-range values, reports each index whose value occurs more than once.
// The aggregate Kind is INVALID whenever any value is out of range, even if
// duplicates exist too.
func Validate(values []int) Result {
	ok := make([]bool, len(values))
	for i, v := range values {
		ok[i] = v >= MinPort && v <= MaxPort
	}
	return evaluate(values, ok)
}

// ValidateText is Validate over raw input text. Text that is not a base-10
// integer is INVALID.
func ValidateText(raw []string) Result {
	values := make([]int, len(raw))
	ok := make([]bool, len(raw))
	for i, s := range raw {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		values[i] = v
		ok[i] = v >= MinPort && v <= MaxPort
	}
	return evaluate(values, ok)
}

func evaluate(values []int, ok []bool) Result {
	res := Result{Duplicate: []int{}, Invalid: []int{}}

	count := make(map[int]int, len(values))
	for i, v := range values {
		if !ok[i] {
			res.Invalid = append(res.Invalid, i)
			continue
		}
		count[v]++
	}
	for i, v := range values {
		if ok[i] && count[v] > 1 {
			res.Duplicate = append(res.Duplicate, i)
		}
	}

	switch {
	case len(res.Invalid) > 0:
		res.Kind = KindInvalid
	case len(res.Duplicate) > 0:
		res.Kind = KindDuplicate
	default:
		res.Kind = KindNone
		res.Valid = true
	}
	return res
}

// Flags returns one mark per input: true when the input is invalid or a
// duplicate. It is derived from the result alone so no earlier mark survives.
func (r Result) Flags(n int) []bool {
	flags := make([]bool, n)
	for _, i := range r.Invalid {
		if i < n {
			flags[i] = true
		}
	}
	for _, i := range r.Duplicate {
		if i < n {
			flags[i] = true
		}
	}
	return flags
}

func (r Result) Err() error {
	switch r.Kind {
	case KindInvalid:
		return &PortError{
			Kind: KindInvalid,
			AppError: model.AppError{
				Code:    "PORT_INVALID",
				Message: fmt.Sprintf("端口必须是 %d-%d 之间的整数", MinPort, MaxPort),
				Stage:   model.StageValidatePorts,
				Hint:    "invalid input index: " + joinInts(r.Invalid),
			},
		}
	case KindDuplicate:
		return &PortError{
			Kind: KindDuplicate,
			AppError: model.AppError{
				Code:    "PORT_DUPLICATE",
				Message: "端口不能重复",
				Stage:   model.StageValidatePorts,
				Hint:    "duplicate input index: " + joinInts(r.Duplicate),
			},
		}
	default:
		return nil
	}
}

type PortError struct {
	Kind     Kind
	AppError model.AppError
}

func (e *PortError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
}

// Sequential returns n ports counting up from start. It does not validate;
// the result goes through Validate like any user input.
func Sequential(start, n int) []int {
	if n <= 0 {
		return []int{}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
