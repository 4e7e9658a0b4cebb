package domain

// LoadStatus is the canonical load lifecycle state.
type LoadStatus string

const (
	LoadDraft                LoadStatus = "draft"
	LoadPending              LoadStatus = "pending"
	LoadPriced               LoadStatus = "priced"
	LoadPostedToCarriers     LoadStatus = "posted_to_carriers"
	LoadOpenForBid           LoadStatus = "open_for_bid"
	LoadCounterReceived      LoadStatus = "counter_received"
	LoadAwarded              LoadStatus = "awarded"
	LoadInvoiceCreated       LoadStatus = "invoice_created"
	LoadInvoiceSent          LoadStatus = "invoice_sent"
	LoadInvoiceAcknowledged  LoadStatus = "invoice_acknowledged"
	LoadInvoicePaid          LoadStatus = "invoice_paid"
	LoadInTransit            LoadStatus = "in_transit"
	LoadDelivered            LoadStatus = "delivered"
	LoadClosed               LoadStatus = "closed"
	LoadCancelled            LoadStatus = "cancelled"
)

// AllLoadStatuses lists every canonical state, used by the transition
// matrix tests and request validation.
var AllLoadStatuses = []LoadStatus{
	LoadDraft, LoadPending, LoadPriced, LoadPostedToCarriers,
	LoadOpenForBid, LoadCounterReceived, LoadAwarded,
	LoadInvoiceCreated, LoadInvoiceSent, LoadInvoiceAcknowledged,
	LoadInvoicePaid, LoadInTransit, LoadDelivered,
	LoadClosed, LoadCancelled,
}

func (s LoadStatus) Valid() bool {
	for _, v := range AllLoadStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s LoadStatus) Terminal() bool {
	return s == LoadClosed || s == LoadCancelled
}

// BidStatus is the lifecycle state of a single bid.
type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidCountered BidStatus = "countered"
	BidExpired   BidStatus = "expired"
)

// BidType distinguishes who originated the offer.
type BidType string

const (
	BidTypeCarrier      BidType = "carrier_bid"
	BidTypeAdminPosted  BidType = "admin_posted"
	BidTypeAdminCounter BidType = "admin_counter"
)

// CarrierType feeds downstream reporting only; it never gates behavior.
type CarrierType string

const (
	CarrierEnterprise CarrierType = "enterprise"
	CarrierSolo       CarrierType = "solo"
)

// SenderRole identifies who wrote a negotiation message.
type SenderRole string

const (
	SenderCarrier SenderRole = "carrier"
	SenderAdmin   SenderRole = "admin"
	SenderSystem  SenderRole = "system"
)

// MessageType tags entries in the negotiation ledger.
type MessageType string

const (
	MsgCarrierBid       MessageType = "carrier_bid"
	MsgCounterOffer     MessageType = "counter_offer"
	MsgBidAccepted      MessageType = "bid_accepted"
	MsgBidRejected      MessageType = "bid_rejected"
	MsgSystemNote       MessageType = "system_note"
	MsgSimulatedBid     MessageType = "simulated_bid"
	MsgSimulatedCounter MessageType = "simulated_counter"
)

// Simulated reports whether the message records an admin-posted offer
// rather than a real carrier one.
func (m MessageType) Simulated() bool {
	return m == MsgSimulatedBid || m == MsgSimulatedCounter
}

// InvoiceStatus is the invoice workflow state.
type InvoiceStatus string

const (
	InvoiceDraft       InvoiceStatus = "draft"
	InvoiceSent        InvoiceStatus = "sent"
	InvoiceViewed      InvoiceStatus = "viewed"
	InvoiceApproved    InvoiceStatus = "approved"
	InvoiceNegotiating InvoiceStatus = "negotiating"
	InvoicePaid        InvoiceStatus = "paid"
	InvoiceOverdue     InvoiceStatus = "overdue"
	InvoiceDisputed    InvoiceStatus = "disputed"
	InvoicePushFailed  InvoiceStatus = "push_failed"
	InvoiceSuperseded  InvoiceStatus = "superseded"
	InvoiceCancelled   InvoiceStatus = "cancelled"
)

// Terminal invoices accept no further workflow operation.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoicePaid, InvoiceDisputed, InvoiceSuperseded, InvoiceCancelled:
		return true
	}
	return false
}

// ShipperResponse is the shipper's reply to a sent invoice.
type ShipperResponse string

const (
	RespondApprove   ShipperResponse = "approve"
	RespondNegotiate ShipperResponse = "negotiate"
	RespondQuery     ShipperResponse = "query"
	RespondReject    ShipperResponse = "reject"
)

func (r ShipperResponse) Valid() bool {
	switch r {
	case RespondApprove, RespondNegotiate, RespondQuery, RespondReject:
		return true
	}
	return false
}

// PartyRole is the marketplace role of an account.
type PartyRole string

const (
	RoleShipper PartyRole = "shipper"
	RoleCarrier PartyRole = "carrier"
	RoleAdmin   PartyRole = "admin"
)

// PostingMode controls which carriers may bid on a posted load.
type PostingMode string

const (
	PostOpen    PostingMode = "open"
	PostInvited PostingMode = "invited"
)
