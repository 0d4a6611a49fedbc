package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Listing is a sellable stock record owned by one branch
type Listing struct {
	ID        string          `db:"id" json:"id"`
	CompanyID string          `db:"company_id" json:"company_id"`
	BranchID  string          `db:"branch_id" json:"branch_id"`
	Brand     string          `db:"brand" json:"brand"`
	Model     string          `db:"model" json:"model"`
	Spec      string          `db:"spec" json:"spec"`
	Qty       int             `db:"qty" json:"qty"`
	Price     decimal.Decimal `db:"price" json:"price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Order is a transfer order between a buyer branch and a seller branch
type Order struct {
	ID              string          `db:"id" json:"id"`
	BuyerCompanyID  string          `db:"buyer_company_id" json:"buyer_company_id"`
	BuyerBranchID   string          `db:"buyer_branch_id" json:"buyer_branch_id"`
	SellerCompanyID string          `db:"seller_company_id" json:"seller_company_id"`
	SellerBranchID  string          `db:"seller_branch_id" json:"seller_branch_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	PlatformFee     decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	ShippingFee     decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
	PaymentMode     string          `db:"payment_mode" json:"payment_mode"`
	Status          OrderStatus     `db:"status" json:"status"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	ConfirmedAt     *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	DispatchedAt    *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	AcceptedAt      *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderLine captures the price and quantity of a listing at order time
type OrderLine struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ListingID string          `db:"listing_id" json:"listing_id"`
	Qty       int             `db:"qty" json:"qty"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// Payment is the escrow record of an order
type Payment struct {
	ID             string          `db:"id" json:"id"`
	OrderID        string          `db:"order_id" json:"order_id"`
	Method         string          `db:"method" json:"method"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Fee            decimal.Decimal `db:"fee" json:"fee"`
	Status         PaymentStatus   `db:"status" json:"status"`
	ProviderRef    string          `db:"provider_ref" json:"provider_ref,omitempty"`
	VirtualAccount string          `db:"virtual_account" json:"virtual_account,omitempty"`
	PaymentURL     string          `db:"payment_url" json:"payment_url,omitempty"`
	WebhookPayload string          `db:"webhook_payload" json:"-"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	ReleasedAt     *time.Time      `db:"released_at" json:"released_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Shipment is the courier record of an order
type Shipment struct {
	ID              string          `db:"id" json:"id"`
	OrderID         string          `db:"order_id" json:"order_id"`
	Provider        string          `db:"provider" json:"provider"`
	QuoteID         string          `db:"quote_id" json:"quote_id"`
	Status          ShipmentStatus  `db:"status" json:"status"`
	Fee             decimal.Decimal `db:"fee" json:"fee"`
	PickupAddress   string          `db:"pickup_address" json:"pickup_address"`
	DeliveryAddress string          `db:"delivery_address" json:"delivery_address"`
	DriverID        string          `db:"driver_id" json:"driver_id,omitempty"`
	DriverName      string          `db:"driver_name" json:"driver_name,omitempty"`
	DriverPhone     string          `db:"driver_phone" json:"driver_phone,omitempty"`
	TrackingURL     string          `db:"tracking_url" json:"tracking_url,omitempty"`
	ProofPhotos     pq.StringArray  `db:"proof_photos" json:"proof_photos,omitempty"`
	EtaMin          int             `db:"eta_min" json:"eta_min"`
	EtaMax          int             `db:"eta_max" json:"eta_max"`
	PickedUpAt      *time.Time      `db:"picked_up_at" json:"picked_up_at,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Branch holds the address used for courier pickup and drop-off
type Branch struct {
	CompanyID string `db:"company_id" json:"company_id"`
	BranchID  string `db:"branch_id" json:"branch_id"`
	Name      string `db:"name" json:"name"`
	Address   string `db:"address" json:"address"`
	City      string `db:"city" json:"city"`
	District  string `db:"district" json:"district"`
}

// FullAddress formats the branch address for courier requests
func (b Branch) FullAddress() string {
	return b.Address + ", " + b.City + " " + b.District
}

// User is an account that can act on behalf of a branch
type User struct {
	UID       string `db:"uid" json:"uid"`
	CompanyID string `db:"company_id" json:"company_id"`
	BranchID  string `db:"branch_id" json:"branch_id"`
	Role      string `db:"role" json:"role"`
	IsActive  bool   `db:"is_active" json:"is_active"`
}

// Caller is the authenticated identity behind a request
type Caller struct {
	UID       string
	CompanyID string
	BranchID  string
	Role      string
}

// RoleAdmin may read any order
const RoleAdmin = "admin"

// PaymentModeEscrow is the only supported payment mode
const PaymentModeEscrow = "escrow"

// Payment methods
const (
	PaymentMethodVirtualAccount = "virtual_account"
	PaymentMethodATM            = "atm"
	PaymentMethodCard           = "card"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventKey    string    `db:"event_key"`
	Source      string    `db:"source"`
	ProcessedAt time.Time `db:"processed_at"`
}

// OrderView is the polling read model of an order
type OrderView struct {
	Order    *Order      `json:"order"`
	Lines    []OrderLine `json:"lines"`
	Payment  *Payment    `json:"payment,omitempty"`
	Shipment *Shipment   `json:"shipment,omitempty"`
}

// Order list sides
const (
	OrderSideAll    = "all"
	OrderSideBuyer  = "buyer"
	OrderSideSeller = "seller"
)

// OrderFilter selects the orders a branch participates in
type OrderFilter struct {
	CompanyID string
	BranchID  string
	Side      string
	Status    OrderStatus
	Limit     int
	Offset    int
}
