package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/catalog"
	"github.com/clinicware/payrail/internal/checkout"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/customer"
	"github.com/clinicware/payrail/internal/delivery"
	"github.com/clinicware/payrail/internal/events"
	"github.com/clinicware/payrail/internal/integration"
	"github.com/clinicware/payrail/internal/migration"
	"github.com/clinicware/payrail/internal/observability"
	"github.com/clinicware/payrail/internal/openfinance"
	"github.com/clinicware/payrail/internal/payment/adapters"
	"github.com/clinicware/payrail/internal/payment/webhook"
	"github.com/clinicware/payrail/internal/ratelimit"
	"github.com/clinicware/payrail/internal/renewal"
	"github.com/clinicware/payrail/internal/routing"
	"github.com/clinicware/payrail/internal/server"
	"github.com/clinicware/payrail/internal/subscription"
	"github.com/clinicware/payrail/internal/transaction"
	"github.com/clinicware/payrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		adapters.Module,
		integration.Module,
		routing.Module,
		catalog.Module,
		customer.Module,
		transaction.Module,
		subscription.Module,
		openfinance.Module,
		delivery.Module,
		events.Module,
		checkout.Module,
		webhook.Module,

		// Job endpoints run the same engine the scheduler binary does.
		renewal.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
