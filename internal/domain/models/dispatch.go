package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NoteState is the lifecycle of a dispatch note as observed by the client.
type NoteState string

const (
	// NoteStateUnknown covers notes whose state is null or not yet replicated.
	NoteStateUnknown NoteState = ""
	NoteStateDraft   NoteState = "draft"
	NoteStatePosted  NoteState = "posted"
)

// ParseNoteState normalizes a raw replicated state value. Server-side
// "reconciled" notes are already past posting, so they read as posted.
func ParseNoteState(raw string) NoteState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return NoteStateDraft
	case "posted", "reconciled":
		return NoteStatePosted
	default:
		return NoteStateUnknown
	}
}

// BaleState is the state of a dispatched bale row.
type BaleState string

const (
	BaleStateDraft  BaleState = "draft"
	BaleStateCancel BaleState = "cancel"
)

// StockStatus describes a bale's custody state.
type StockStatus string

const (
	StockInStock   StockStatus = "in_stock"
	StockInTransit StockStatus = "in_transit"
	StockOutStock  StockStatus = "out_stock"
)

// WarehouseType classifies warehouses for dispatch topology.
type WarehouseType string

const (
	WarehouseInternal       WarehouseType = "internal"
	WarehouseFactoryStorage WarehouseType = "factory_storage"
	WarehouseExternal       WarehouseType = "external"
)

// IsInternal reports whether stock kept here stays under our custody.
func (t WarehouseType) IsInternal() bool {
	return t == WarehouseInternal || t == WarehouseFactoryStorage
}

// Warehouse is a physical storage site.
type Warehouse struct {
	ID                string        `bson:"_id" json:"id"`
	Name              string        `bson:"name" json:"name"`
	Type              WarehouseType `bson:"type" json:"type"`
	DefaultLocationID string        `bson:"default_location_id" json:"default_location_id"`
}

// DispatchNote groups bales moving from a source to a destination warehouse.
type DispatchNote struct {
	ID                      string    `bson:"_id" json:"id" validate:"required"`
	RemoteID                int64     `bson:"remote_id,omitempty" json:"remote_id,omitempty"`
	Reference               string    `bson:"reference" json:"reference"`
	SourceWarehouseID       string    `bson:"source_warehouse_id" json:"source_warehouse_id" validate:"required"`
	DestinationWarehouseID  string    `bson:"destination_warehouse_id" json:"destination_warehouse_id" validate:"required,nefield=SourceWarehouseID"`
	ProductID               string    `bson:"product_id,omitempty" json:"product_id,omitempty"`
	ShippingInstructionID   string    `bson:"shipping_instruction_id,omitempty" json:"shipping_instruction_id,omitempty"`
	TransportID             string    `bson:"transport_id,omitempty" json:"transport_id,omitempty"`
	DriverName              string    `bson:"driver_name,omitempty" json:"driver_name,omitempty"`
	TruckReg                string    `bson:"truck_reg,omitempty" json:"truck_reg,omitempty"`
	NoTransportationDetails bool      `bson:"no_transportation_details" json:"no_transportation_details"`
	State                   NoteState `bson:"state" json:"state"`
	CreatedAt               time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time `bson:"updated_at" json:"updated_at"`
}

// DisplayName is the label shown to operators.
func (n DispatchNote) DisplayName() string {
	if n.Reference != "" {
		return n.Reference
	}
	return n.ID
}

// ShippedBale is the authoritative record of a physical bale.
type ShippedBale struct {
	ID                string          `bson:"_id" json:"id"`
	Barcode           string          `bson:"barcode" json:"barcode"`
	LogisticsBarcode  string          `bson:"logistics_barcode,omitempty" json:"logistics_barcode,omitempty"`
	ProductID         string          `bson:"product_id" json:"product_id"`
	ProductName       string          `bson:"product_name" json:"product_name"`
	GradeID           string          `bson:"grade_id" json:"grade_id"`
	GradeName         string          `bson:"grade_name" json:"grade_name"`
	Mass              decimal.Decimal `bson:"mass" json:"mass"`
	ReceivedMass      decimal.Decimal `bson:"received_mass" json:"received_mass"`
	WarehouseID       string          `bson:"warehouse_id" json:"warehouse_id"`
	LocationID        string          `bson:"location_id,omitempty" json:"location_id,omitempty"`
	StockStatus       StockStatus     `bson:"stock_status" json:"stock_status"`
	Received          bool            `bson:"received" json:"received"`
	Dispatched        bool            `bson:"dispatched" json:"dispatched"`
	DispatchReference string          `bson:"dispatch_reference,omitempty" json:"dispatch_reference,omitempty"`
	UpdatedAt         time.Time       `bson:"updated_at" json:"updated_at"`
}

// NominalMass is the received mass when known, otherwise the declared mass.
func (b ShippedBale) NominalMass() decimal.Decimal {
	if b.ReceivedMass.IsPositive() {
		return b.ReceivedMass
	}
	return b.Mass
}

// DispatchedBale attaches a shipped bale to a dispatch note.
type DispatchedBale struct {
	ID               string          `bson:"_id" json:"id"`
	DispatchNoteID   string          `bson:"dispatch_note_id" json:"dispatch_note_id"`
	ShippedBaleID    string          `bson:"shipped_bale_id" json:"shipped_bale_id"`
	Barcode          string          `bson:"barcode" json:"barcode"`
	LogisticsBarcode string          `bson:"logistics_barcode,omitempty" json:"logistics_barcode,omitempty"`
	Mass             decimal.Decimal `bson:"mass" json:"mass"`
	State            BaleState       `bson:"state" json:"state"`
	Origin           string          `bson:"origin" json:"origin"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at" json:"updated_at"`
}

// Active reports whether the row still holds its bale.
func (d DispatchedBale) Active() bool {
	return d.State != BaleStateCancel
}

// ShippingInstructionLine is the remaining mass allowed per product and grade.
type ShippingInstructionLine struct {
	ID            string          `bson:"_id" json:"id"`
	InstructionID string          `bson:"instruction_id" json:"instruction_id"`
	ProductID     string          `bson:"product_id" json:"product_id"`
	GradeID       string          `bson:"grade_id" json:"grade_id"`
	RemainingMass decimal.Decimal `bson:"remaining_mass" json:"remaining_mass"`
}
