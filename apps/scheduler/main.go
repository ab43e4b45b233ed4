package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/catalog"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/customer"
	"github.com/clinicware/payrail/internal/delivery"
	"github.com/clinicware/payrail/internal/events"
	"github.com/clinicware/payrail/internal/integration"
	"github.com/clinicware/payrail/internal/observability"
	"github.com/clinicware/payrail/internal/openfinance"
	"github.com/clinicware/payrail/internal/payment/adapters"
	"github.com/clinicware/payrail/internal/ratelimit"
	"github.com/clinicware/payrail/internal/renewal"
	"github.com/clinicware/payrail/internal/routing"
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
		ratelimit.Module,

		// Domain services required by the renewal engine
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

		renewal.Module,

		// No server module: the loops drive everything.
		renewal.RunnerModule,
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
