package models

import (
	"fmt"
	"time"
)

// Replicated table names.
const (
	TableDispatchNotes   = "dispatch_notes"
	TableShippedBales    = "shipped_bales"
	TableDispatchedBales = "dispatched_bales"
)

// OperationKind is the mutation recorded by a pending operation.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Payload keys read by the duplicate checks.
const (
	PayloadDispatchNoteID = "dispatch_note_id"
	PayloadShippedBaleID  = "shipped_bale_id"
	PayloadBarcode        = "barcode"
	PayloadState          = "state"
)

// PendingOperation is a local write not yet acknowledged upstream.
type PendingOperation struct {
	ID        int64          `bson:"_id" json:"id"`
	Table     string         `bson:"table" json:"table"`
	Kind      OperationKind  `bson:"kind" json:"kind"`
	RecordID  string         `bson:"record_id" json:"record_id"`
	Payload   map[string]any `bson:"payload" json:"payload"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
}

// Field returns a payload value rendered as a string, or "" when absent.
func (p PendingOperation) Field(key string) string {
	v, ok := p.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DispatchedBalePayload flattens a row into the fields the queue filters on.
func DispatchedBalePayload(row DispatchedBale) map[string]any {
	return map[string]any{
		PayloadDispatchNoteID: row.DispatchNoteID,
		PayloadShippedBaleID:  row.ShippedBaleID,
		PayloadBarcode:        row.Barcode,
		"logistics_barcode":   row.LogisticsBarcode,
		"mass":                row.Mass.String(),
		PayloadState:          string(row.State),
		"origin":              row.Origin,
	}
}

// ShippedBalePayload flattens the stock fields changed by posting.
func ShippedBalePayload(b ShippedBale) map[string]any {
	return map[string]any{
		PayloadBarcode:       b.Barcode,
		"warehouse_id":       b.WarehouseID,
		"location_id":        b.LocationID,
		"stock_status":       string(b.StockStatus),
		"received":           b.Received,
		"dispatched":         b.Dispatched,
		"dispatch_reference": b.DispatchReference,
	}
}

// DispatchNotePayload flattens the note header.
func DispatchNotePayload(n DispatchNote) map[string]any {
	return map[string]any{
		"reference":                 n.Reference,
		"source_warehouse_id":       n.SourceWarehouseID,
		"destination_warehouse_id":  n.DestinationWarehouseID,
		"product_id":                n.ProductID,
		"shipping_instruction_id":   n.ShippingInstructionID,
		"no_transportation_details": n.NoTransportationDetails,
		PayloadState:                string(n.State),
	}
}
