package grouping

import (
	"errors"
	"fmt"
	"strings"
)

// Method names a grouping policy.
type Method string

const (
	MethodFunctional Method = "functional"
	MethodSemantic   Method = "semantic"
	MethodLayer      Method = "layer"
	MethodHybrid     Method = "hybrid"
)

// Methods lists every supported grouping method in a stable order.
var Methods = []Method{MethodFunctional, MethodSemantic, MethodLayer, MethodHybrid}

// ErrInvalidGrouping is returned for method names outside Methods.
var ErrInvalidGrouping = errors.New("invalid grouping method")

// InvalidGroupingError names the rejected grouping method.
type InvalidGroupingError struct {
	Value string
}

func (e *InvalidGroupingError) Error() string {
	names := make([]string, len(Methods))
	for i, m := range Methods {
		names[i] = string(m)
	}
	return fmt.Sprintf("invalid grouping method %q (want one of %s)", e.Value, strings.Join(names, ", "))
}

func (e *InvalidGroupingError) Is(target error) bool {
	return target == ErrInvalidGrouping
}

// ParseMethod validates a grouping method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := methods[m]; !ok {
		return "", &InvalidGroupingError{Value: s}
	}
	return m, nil
}

// Role is the coarse computational stage a supernode represents.
type Role string

const (
	RoleInputDetector       Role = "input-detector"
	RoleRelationalProcessor Role = "relational-processor"
	RoleOutputPromoter      Role = "output-promoter"
)

// Supernode is a labeled cluster of feature nodes.
type Supernode struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	NodeIDs        []string `json:"node_ids"`
	LayerRange     [2]int   `json:"layer_range"`
	Role           Role     `json:"functional_role"`
	TotalInfluence float64  `json:"total_influence"`
}

// MinLayer returns the lowest member layer.
func (s *Supernode) MinLayer() int {
	return s.LayerRange[0]
}

// MaxLayer returns the highest member layer.
func (s *Supernode) MaxLayer() int {
	return s.LayerRange[1]
}

// Contains reports whether id is a member.
func (s *Supernode) Contains(id string) bool {
	for _, m := range s.NodeIDs {
		if m == id {
			return true
		}
	}
	return false
}

// FallbackLabel is the deterministic label used when no better one exists.
func FallbackLabel(role Role, minLayer, maxLayer int) string {
	return fmt.Sprintf("%s (layers %d-%d)", role, minLayer, maxLayer)
}
