package domain

import "github.com/shopspring/decimal"

type OrderKind string

const (
	OrderKindMaker     OrderKind = "maker"
	OrderKindMarketIOC OrderKind = "market_ioc"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a single order under management by the Execution Adapter.
// OrderID is globally unique and monotonic within a process lifetime.
type Order struct {
	OrderID     uint64
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	LimitPrice  decimal.Decimal
	Kind        OrderKind
	Status      OrderStatus
	CreatedTs   int64
	ReduceOnly  bool
	IsShadow    bool
}
