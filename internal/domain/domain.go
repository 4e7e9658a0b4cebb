package domain

// Amounts are whole rupees. Timestamps are RFC3339 UTC strings.

type Party struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        PartyRole   `json:"role" enum:"shipper,carrier,admin"`
	CarrierType CarrierType `json:"carrier_type,omitempty" enum:"enterprise,solo"`
	Verified    bool        `json:"verified"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
}

type Load struct {
	ID             string     `json:"id"`
	ShipperID      string     `json:"shipper_id"`
	CarrierID      *string    `json:"carrier_id,omitempty"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	Cargo          string     `json:"cargo,omitempty"`
	WeightTons     float64    `json:"weight_tons"`
	Status         LoadStatus `json:"status"`
	PreviousStatus LoadStatus `json:"previous_status,omitempty"`
	Version        int        `json:"version"`

	ShipperPricePerTon  *int64  `json:"shipper_price_per_ton,omitempty"`
	AdminSuggestedPrice *int64  `json:"admin_suggested_price,omitempty"`
	AdminFinalPrice     *int64  `json:"admin_final_price,omitempty"`
	PriceLocked         bool    `json:"price_locked"`
	PriceLockedBy       *string `json:"price_locked_by,omitempty"`
	PriceLockedAt       *string `json:"price_locked_at,omitempty" format:"date-time"`

	PostingMode     PostingMode `json:"posting_mode,omitempty" enum:"open,invited"`
	InvitedCarriers []string    `json:"invited_carriers,omitempty"`
	AwardedBidID    *string     `json:"awarded_bid_id,omitempty"`
	ActiveInvoiceID *string     `json:"active_invoice_id,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Bid struct {
	ID             string      `json:"id"`
	LoadID         string      `json:"load_id"`
	CarrierID      string      `json:"carrier_id"`
	Amount         int64       `json:"amount"`
	CounterAmount  *int64      `json:"counter_amount,omitempty"`
	PreviousAmount *int64      `json:"previous_amount,omitempty"`
	Status         BidStatus   `json:"status" enum:"pending,accepted,rejected,countered,expired"`
	BidType        BidType     `json:"bid_type" enum:"carrier_bid,admin_posted,admin_counter"`
	CarrierType    CarrierType `json:"carrier_type,omitempty" enum:"enterprise,solo"`
	Notes          string      `json:"notes,omitempty"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
	UpdatedAt      string      `json:"updated_at" format:"date-time"`
}

// EffectiveAmount is the price the bid settles at: the latest counter if
// one exists, otherwise the original offer.
func (b Bid) EffectiveAmount() int64 {
	if b.CounterAmount != nil {
		return *b.CounterAmount
	}
	return b.Amount
}

// NegotiationMessage is an immutable ledger entry. Seq is assigned by the
// store and defines the total order of the thread; messages are never
// edited or deleted, corrections are new messages.
type NegotiationMessage struct {
	Seq            int64       `json:"seq"`
	ID             string      `json:"id"`
	LoadID         string      `json:"load_id"`
	BidID          *string     `json:"bid_id,omitempty"`
	SenderRole     SenderRole  `json:"sender_role" enum:"carrier,admin,system"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Amount         *int64      `json:"amount,omitempty"`
	PreviousAmount *int64      `json:"previous_amount,omitempty"`
	Body           string      `json:"body,omitempty"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
}

// NegotiationThread is a derived per-load summary of the message ledger.
// It must always be reproducible by replaying the messages.
type NegotiationThread struct {
	LoadID            string  `json:"load_id"`
	TotalBids         int     `json:"total_bids"`
	RealBids          int     `json:"real_bids"`
	SimulatedBids     int     `json:"simulated_bids"`
	PendingCounters   int     `json:"pending_counters"`
	AcceptedBidID     *string `json:"accepted_bid_id,omitempty"`
	AcceptedCarrierID *string `json:"accepted_carrier_id,omitempty"`
	AcceptedAmount    *int64  `json:"accepted_amount,omitempty"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// PriceBreakdown is the invoice cost composition. GSTAmount, subtotal and
// total are computed by the engine, never supplied by the caller.
type PriceBreakdown struct {
	BaseFreight   int64   `json:"base_freight" required:"false"`
	FuelSurcharge int64   `json:"fuel_surcharge,omitempty"`
	Tolls         int64   `json:"tolls,omitempty"`
	GSTPercent    float64 `json:"gst_percent,omitempty"`
	GSTAmount     int64   `json:"gst_amount,omitempty"`
	Discount      int64   `json:"discount,omitempty"`
}

type Invoice struct {
	ID                string          `json:"id"`
	LoadID            string          `json:"load_id"`
	IdempotencyKey    string          `json:"idempotency_key"`
	Status            InvoiceStatus   `json:"status"`
	Revision          int             `json:"revision"`
	PreviousInvoiceID *string         `json:"previous_invoice_id,omitempty"`
	ShipperResponse   ShipperResponse `json:"shipper_response,omitempty"`
	CounterAmount     *int64          `json:"counter_amount,omitempty"`
	Breakdown         PriceBreakdown  `json:"breakdown"`
	Subtotal          int64           `json:"subtotal"`
	Total             int64           `json:"total"`
	DueAt             *string         `json:"due_at,omitempty" format:"date-time"`
	SentAt            *string         `json:"sent_at,omitempty" format:"date-time"`
	ViewedAt          *string         `json:"viewed_at,omitempty" format:"date-time"`
	PaidAt            *string         `json:"paid_at,omitempty" format:"date-time"`
	PaidAmount        *int64          `json:"paid_amount,omitempty"`
	PaidReference     *string         `json:"paid_reference,omitempty"`
	Version           int             `json:"version"`
	CreatedAt         string          `json:"created_at" format:"date-time"`
	UpdatedAt         string          `json:"updated_at" format:"date-time"`
}

// StateChange is one append-only audit row; the load and invoice histories
// share the shape.
type StateChange struct {
	ID        int64  `json:"id"`
	EntityID  string `json:"entity_id"`
	ActorID   string `json:"actor_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Reason    string `json:"reason,omitempty"`
	Metadata  string `json:"metadata_json,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	PartyID   string `json:"party_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
