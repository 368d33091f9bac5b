package ledger

// DueAmount is what remains to be paid: max(payable - received, 0).
// Overpayment does not produce a negative due.
func DueAmount(payable, received Money) Money {
	return payable.Sub(received).NonNegative()
}

// StatusFor derives the payment status.
//
//	unpaid   nothing received against a non-zero charge
//	paid     nothing left to pay (includes fully waived charges)
//	partial  otherwise
func StatusFor(payable, received Money) PaymentStatus {
	due := DueAmount(payable, received)
	switch {
	case received.IsZero() && payable.IsPositive():
		return StatusUnpaid
	case !due.IsPositive():
		return StatusPaid
	default:
		return StatusPartial
	}
}

// Derive returns both derived fields.
func Derive(payable, received Money) (Money, PaymentStatus) {
	return DueAmount(payable, received), StatusFor(payable, received)
}
