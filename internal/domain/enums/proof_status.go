package enums

type ProofStatus string

const (
	ProofStatusPending   ProofStatus = "pending"
	ProofStatusValidated ProofStatus = "validated"
	ProofStatusRejected  ProofStatus = "rejected"
)
