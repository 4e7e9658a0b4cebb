package server

import (
	"freightline/internal/domain"
)

// Request bodies. Domain types double as response bodies; they already
// carry the JSON shape the API promises.

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"shipper,carrier,admin"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type RegisterPartyRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Role        string `json:"role" enum:"shipper,carrier,admin"`
	CarrierType string `json:"carrier_type,omitempty" enum:"enterprise,solo"`
}

type SubmitLoadRequest struct {
	ID                 string  `json:"id,omitempty"`
	Origin             string  `json:"origin"`
	Destination        string  `json:"destination"`
	Cargo              string  `json:"cargo,omitempty"`
	WeightTons         float64 `json:"weight_tons"`
	ShipperPricePerTon *int64  `json:"shipper_price_per_ton,omitempty"`
}

type SuggestPriceRequest struct {
	Amount int64 `json:"amount" minimum:"1"`
}

type PriceLoadRequest struct {
	FinalPrice      int64 `json:"final_price" minimum:"1"`
	ExpectedVersion *int  `json:"expected_version,omitempty"`
}

type PostLoadRequest struct {
	Mode            string   `json:"mode,omitempty" enum:"open,invited"`
	InvitedCarriers []string `json:"invited_carriers,omitempty"`
	ExpectedVersion *int     `json:"expected_version,omitempty"`
}

type TransitionRequest struct {
	Target          string `json:"target"`
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
}

type PlaceBidRequest struct {
	CarrierID string `json:"carrier_id,omitempty"`
	Amount    int64  `json:"amount" minimum:"1"`
	Notes     string `json:"notes,omitempty"`
}

type CounterOfferRequest struct {
	Amount int64  `json:"amount" minimum:"1"`
	Body   string `json:"body,omitempty"`
}

type RejectBidRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateInvoiceRequest struct {
	Breakdown      domain.PriceBreakdown `json:"breakdown"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type InvoiceResponseRequest struct {
	Response      string `json:"response" enum:"approve,negotiate,query,reject"`
	CounterAmount *int64 `json:"counter_amount,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ReviseInvoiceRequest struct {
	Breakdown      domain.PriceBreakdown `json:"breakdown"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type ConfirmPaymentRequest struct {
	Amount    int64  `json:"amount" minimum:"1"`
	Reference string `json:"reference,omitempty"`
}

type CancelInvoiceRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BidResult pairs the bid with the load it touched; most bid operations
// move the load lifecycle in the same transaction.
type BidResult struct {
	Bid  domain.Bid  `json:"bid"`
	Load domain.Load `json:"load"`
}

type ThreadResponse struct {
	Thread   domain.NegotiationThread    `json:"thread"`
	Messages []domain.NegotiationMessage `json:"messages,omitempty"`
}

type loadList struct {
	Items []domain.Load `json:"items"`
}

type bidList struct {
	Items []domain.Bid `json:"items"`
}

type invoiceList struct {
	Items []domain.Invoice `json:"items"`
}

type stateLogList struct {
	Items []domain.StateChange `json:"items"`
}
