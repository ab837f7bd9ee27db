package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("ticket_units")

		collection.Fields.Add(
			&core.TextField{Name: "order_number", Required: true},
			&core.TextField{Name: "customer_id", Required: true},
			&core.TextField{Name: "line_item_id", Required: true},
			&core.NumberField{Name: "sub_index", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.BoolField{Name: "usable"},
			&core.TextField{Name: "purchaser_name"},
			&core.EmailField{Name: "purchaser_email"},
			&core.TextField{Name: "owner_reference"},
			&core.TextField{Name: "seat_reference"},
			&core.TextField{Name: "display_color"},
			&core.TextField{Name: "amount"},
			&core.TextField{Name: "financial_status"},
			&core.TextField{Name: "fulfillment_status"},
			&core.JSONField{Name: "tags"},
			&core.DateField{Name: "used_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// The natural key is unique at the storage layer so concurrent
		// inserts for the same unit are mutually exclusive.
		collection.AddIndex("idx_ticket_units_natural_key", true,
			"order_number, customer_id, line_item_id, sub_index", "")
		collection.AddIndex("idx_ticket_units_order", false, "order_number", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_units")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
