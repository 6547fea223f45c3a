package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PlatformAPI is the slice of the platform client the built-in tools use.
type PlatformAPI interface {
	CreateOrder(ctx context.Context, vendorID string, payload []byte) (string, error)
	CreatePaymentLink(ctx context.Context, vendorID string, payload []byte) (string, error)
	GetSchedule(ctx context.Context, vendorID, date string) (string, error)
	UpdateShoppingList(ctx context.Context, vendorID string, payload []byte) (string, error)
	SearchProducts(ctx context.Context, vendorID, query string) (string, error)
}

// NewPlatformRegistry builds the standard registry: the platform tools
// plus the web-only booking form opener.
func NewPlatformRegistry(api PlatformAPI, logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)

	r.Register(Definition{
		Name:        "create_order",
		Description: "Place an order for the current client with the given line items.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"client_id": {"type": "string"},
				"items": {"type": "array", "items": {"type": "object", "properties": {
					"product_id": {"type": "string"},
					"quantity": {"type": "integer"}
				}, "required": ["product_id", "quantity"]}}
			},
			"required": ["items"]
		}`),
	}, func(ctx context.Context, args json.RawMessage, tctx Context) (string, error) {
		return api.CreateOrder(ctx, tctx.Subject.ID, args)
	})

	r.Register(Definition{
		Name:        "create_payment_link",
		Description: "Create a payment link for a given amount that the vendor can forward to a client.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"amount": {"type": "number"},
				"currency": {"type": "string"},
				"description": {"type": "string"}
			},
			"required": ["amount"]
		}`),
	}, func(ctx context.Context, args json.RawMessage, tctx Context) (string, error) {
		return api.CreatePaymentLink(ctx, tctx.Subject.ID, args)
	})

	r.Register(Definition{
		Name:        "get_schedule",
		Description: "Get the vendor's bookings and appointments for a day (defaults to today).",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"date": {"type": "string", "format": "date"}}
		}`),
	}, func(ctx context.Context, args json.RawMessage, tctx Context) (string, error) {
		var params struct {
			Date string `json:"date"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid get_schedule arguments: %w", err)
			}
		}
		return api.GetSchedule(ctx, tctx.Subject.ID, params.Date)
	})

	r.Register(Definition{
		Name:        "update_shopping_list",
		Description: "Add, remove, or check off items on the client's shopping list.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"client_id": {"type": "string"},
				"add": {"type": "array", "items": {"type": "string"}},
				"remove": {"type": "array", "items": {"type": "string"}}
			}
		}`),
	}, func(ctx context.Context, args json.RawMessage, tctx Context) (string, error) {
		return api.UpdateShoppingList(ctx, tctx.Subject.ID, args)
	})

	r.Register(Definition{
		Name:        "search_products",
		Description: "Search the vendor's product catalog by name or keyword.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"query": {"type": "string"}},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args json.RawMessage, tctx Context) (string, error) {
		var params struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid search_products arguments: %w", err)
		}
		return api.SearchProducts(ctx, tctx.Subject.ID, params.Query)
	})

	// Web only: drives the browser UI, meaningless on other surfaces.
	r.Register(Definition{
		Name:        "open_booking_form",
		Description: "Open the interactive booking form in the vendor dashboard, prefilled for a client.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"client_id": {"type": "string"}}
		}`),
		UINavigation: true,
	}, func(_ context.Context, args json.RawMessage, _ Context) (string, error) {
		data, _ := json.Marshal(map[string]any{"action": "open_booking_form", "args": json.RawMessage(argsOrEmpty(args))})
		return string(data), nil
	})

	return r
}

func argsOrEmpty(args json.RawMessage) []byte {
	if len(args) == 0 {
		return []byte("{}")
	}
	return args
}
