package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_units")
		if err != nil {
			return err
		}

		// speed up the per-line-item usable count
		collection.AddIndex("idx_ticket_units_line_item", false,
			"order_number, line_item_id, usable", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_units")
		if err != nil {
			return err
		}

		collection.RemoveIndex("idx_ticket_units_line_item")

		return app.Save(collection)
	})
}
