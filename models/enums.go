package models

// Sentiment is the business's own judgement of a client relationship.
// `unreviewed` means nobody (human or provider) has rated this client yet.
type Sentiment string

const (
	SentimentGood       Sentiment = "good"
	SentimentBad        Sentiment = "bad"
	SentimentUnreviewed Sentiment = "unreviewed"
)

func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentGood, SentimentBad, SentimentUnreviewed:
		return true
	}
	return false
}

func (s Sentiment) String() string { return string(s) }

// InvoiceStatus mirrors the invoicing provider's view of a client's latest invoice.
type InvoiceStatus string

const (
	InvoiceStatusNone    InvoiceStatus = "none"
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusVoided  InvoiceStatus = "voided"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusNone, InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusVoided:
		return true
	}
	return false
}

// ReviewSource marks which text a client's current ReviewRecord surfaces.
type ReviewSource string

const (
	ReviewSourceInternal ReviewSource = "internal"
	ReviewSourceExternal ReviewSource = "external"
)

func (s ReviewSource) IsValid() bool {
	return s == ReviewSourceInternal || s == ReviewSourceExternal
}

const (
	UserRoleAdmin = "Admin"
	UserRoleOwner = "Owner"
	UserRoleStaff = "Staff"
)
