package entity

import "fmt"

// RelatedKind is the closed set of business documents a request can gate.
type RelatedKind string

const (
	RelatedPurchaseRequest RelatedKind = "PURCHASE_REQUEST"
	RelatedPurchaseOrder   RelatedKind = "PURCHASE_ORDER"
	RelatedGoodsReceipt    RelatedKind = "GOODS_RECEIPT"
	RelatedInvoice         RelatedKind = "INVOICE"
	RelatedLeaveRequest    RelatedKind = "LEAVE_REQUEST"
	RelatedExpenseClaim    RelatedKind = "EXPENSE_CLAIM"
	RelatedPayroll         RelatedKind = "PAYROLL"
)

var validRelatedKinds = map[RelatedKind]bool{
	RelatedPurchaseRequest: true,
	RelatedPurchaseOrder:   true,
	RelatedGoodsReceipt:    true,
	RelatedInvoice:         true,
	RelatedLeaveRequest:    true,
	RelatedExpenseClaim:    true,
	RelatedPayroll:         true,
}

// IsValid returns true if the kind is one of the supported document kinds
func (k RelatedKind) IsValid() bool {
	return validRelatedKinds[k]
}

// RelatedTo points at the business document the request gates.
// Kind and ID travel together; a RelatedTo with an empty Kind means "none".
type RelatedTo struct {
	Kind    RelatedKind `json:"kind,omitempty" yaml:"kind"`
	ID      string      `json:"id,omitempty" yaml:"id"`
	Display string      `json:"display,omitempty" yaml:"display"`
}

// IsZero reports whether no document is referenced.
func (r RelatedTo) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Validate checks that the reference is either empty or a known kind with an ID.
func (r RelatedTo) Validate() error {
	if r.IsZero() {
		return nil
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("unknown related document kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("related %s requires an id", r.Kind)
	}
	return nil
}
