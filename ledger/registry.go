/*
registry.go - Registration of fee types, branches and payment channels

PURPOSE:
  The ledger does not hard-code which fee types a school charges or which
  branches it runs. Domain packages register them on init(), configuration
  may replace the branch list at startup, and validation looks them up here.

HOW IT WORKS:
  1. fees/types.go registers the default fee types, methods and sources
  2. cmd/server replaces branches from configuration (SetBranches)
  3. Request validation calls the Is* helpers

USAGE:
  func init() {
      ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: "monthly", Label: "Monthly tuition", Monthly: true})
  }

  if !ledger.IsFeeType("exam") { ... }

SEE ALSO:
  - types.go: The enum types
  - fees/types.go: Default registrations
*/
package ledger

import (
	"sort"
	"sync"
)

// =============================================================================
// ENUM SET
// =============================================================================

type enumSet[T ~string] struct {
	mu     sync.RWMutex
	values map[T]bool
}

func newEnumSet[T ~string]() *enumSet[T] {
	return &enumSet[T]{values: make(map[T]bool)}
}

func (s *enumSet[T]) add(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[v] = true
}

func (s *enumSet[T]) replace(vs []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[T]bool, len(vs))
	for _, v := range vs {
		s.values[v] = true
	}
}

func (s *enumSet[T]) has(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[v]
}

func (s *enumSet[T]) list() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.values))
	for v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	branchSet  = newEnumSet[Branch]()
	methodSet  = newEnumSet[PaymentMethod]()
	sourceSet  = newEnumSet[PaymentSource]()
	feeTypesMu sync.RWMutex
	feeTypes   = make(map[FeeType]FeeTypeInfo)
)

// =============================================================================
// FEE TYPES
// =============================================================================

// FeeTypeInfo describes a registered fee type.
type FeeTypeInfo struct {
	Type  FeeType
	Label string
	// Monthly fee types are charged once per calendar month; the others
	// still carry a billing month (the month they were charged in).
	Monthly bool
}

// RegisterFeeType adds a fee type to the registry.
func RegisterFeeType(info FeeTypeInfo) {
	feeTypesMu.Lock()
	defer feeTypesMu.Unlock()
	feeTypes[info.Type] = info
}

// LookupFeeType finds a registered fee type.
func LookupFeeType(id string) (FeeTypeInfo, bool) {
	feeTypesMu.RLock()
	defer feeTypesMu.RUnlock()
	info, ok := feeTypes[FeeType(id)]
	return info, ok
}

func IsFeeType(t FeeType) bool {
	_, ok := LookupFeeType(string(t))
	return ok
}

// FeeTypes returns all registered fee types sorted by id.
func FeeTypes() []FeeTypeInfo {
	feeTypesMu.RLock()
	defer feeTypesMu.RUnlock()
	out := make([]FeeTypeInfo, 0, len(feeTypes))
	for _, info := range feeTypes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// =============================================================================
// BRANCHES AND PAYMENT CHANNELS
// =============================================================================

func RegisterBranch(b Branch) { branchSet.add(b) }

// SetBranches replaces the registered branches (configuration override).
func SetBranches(bs []Branch) { branchSet.replace(bs) }

func IsBranch(b Branch) bool { return branchSet.has(b) }
func Branches() []Branch     { return branchSet.list() }

func RegisterPaymentMethod(m PaymentMethod) { methodSet.add(m) }
func IsPaymentMethod(m PaymentMethod) bool  { return methodSet.has(m) }
func PaymentMethods() []PaymentMethod       { return methodSet.list() }

func RegisterPaymentSource(s PaymentSource) { sourceSet.add(s) }
func IsPaymentSource(s PaymentSource) bool  { return sourceSet.has(s) }
func PaymentSources() []PaymentSource       { return sourceSet.list() }
