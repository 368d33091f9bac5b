// Package fees implements the school fee workflows on top of the ledger:
// receiving a payment, reconciling an edit, reversing a record, listing and
// auditing.
package fees

import "github.com/warp/fee-ledger/ledger"

// =============================================================================
// FEE TYPES, BRANCHES AND PAYMENT CHANNELS
// =============================================================================

const (
	FeeAdmission   ledger.FeeType = "admission"
	FeeMonthly     ledger.FeeType = "monthly"
	FeeExam        ledger.FeeType = "exam"
	FeeResidential ledger.FeeType = "residential"
	FeeMeal        ledger.FeeType = "meal"
)

const (
	BranchBoys  ledger.Branch = "boys"
	BranchGirls ledger.Branch = "girls"
)

const (
	MethodCash          ledger.PaymentMethod = "cash"
	MethodBankTransfer  ledger.PaymentMethod = "bank_transfer"
	MethodMobileBanking ledger.PaymentMethod = "mobile_banking"
	MethodCheque        ledger.PaymentMethod = "cheque"
)

const (
	SourceOffice ledger.PaymentSource = "office"
	SourceOnline ledger.PaymentSource = "online"
	SourceAgent  ledger.PaymentSource = "agent"
)

// SystemActor performs automated corrections.
const SystemActor = "system:audit"

// Register the school's fee types and channels with the ledger registry.
// Branches are defaults; configuration may replace them at startup.
func init() {
	ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: FeeAdmission, Label: "Admission fee"})
	ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: FeeMonthly, Label: "Monthly tuition", Monthly: true})
	ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: FeeExam, Label: "Examination fee"})
	ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: FeeResidential, Label: "Residential fee", Monthly: true})
	ledger.RegisterFeeType(ledger.FeeTypeInfo{Type: FeeMeal, Label: "Meal fee", Monthly: true})

	ledger.RegisterBranch(BranchBoys)
	ledger.RegisterBranch(BranchGirls)

	for _, m := range []ledger.PaymentMethod{MethodCash, MethodBankTransfer, MethodMobileBanking, MethodCheque} {
		ledger.RegisterPaymentMethod(m)
	}
	for _, s := range []ledger.PaymentSource{SourceOffice, SourceOnline, SourceAgent} {
		ledger.RegisterPaymentSource(s)
	}
}
