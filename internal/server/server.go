// Package server is the HTTP surface: merchant-facing configuration APIs,
// the public checkout endpoint, provider webhook ingestion, and the job
// trigger endpoints mirroring the scheduler.
package server

import (
	"context"
	"net/http"
	"time"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	checkoutdomain "github.com/clinicware/payrail/internal/checkout/domain"
	"github.com/clinicware/payrail/internal/config"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/observability"
	obsmiddleware "github.com/clinicware/payrail/internal/observability/logger"
	obsmetrics "github.com/clinicware/payrail/internal/observability/metrics"
	obstracing "github.com/clinicware/payrail/internal/observability/tracing"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	"github.com/clinicware/payrail/internal/payment/webhook"
	"github.com/clinicware/payrail/internal/renewal"
	routingdomain "github.com/clinicware/payrail/internal/routing/domain"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	integrationSvc  integrationdomain.Service
	routingSvc      routingdomain.Service
	catalogSvc      catalogdomain.Service
	customerSvc     customerdomain.Service
	subscriptionSvc subscriptiondomain.Service
	transactionSvc  transactiondomain.Service
	consentSvc      openfinancedomain.Service
	eventSvc        eventsdomain.Service
	checkoutSvc     checkoutdomain.Service
	webhookSvc      *webhook.Service
	renewalEngine   *renewal.Engine
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	IntegrationSvc  integrationdomain.Service
	RoutingSvc      routingdomain.Service
	CatalogSvc      catalogdomain.Service
	CustomerSvc     customerdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	TransactionSvc  transactiondomain.Service
	ConsentSvc      openfinancedomain.Service
	EventSvc        eventsdomain.Service
	CheckoutSvc     checkoutdomain.Service
	WebhookSvc      *webhook.Service
	RenewalEngine   *renewal.Engine
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		integrationSvc:  p.IntegrationSvc,
		routingSvc:      p.RoutingSvc,
		catalogSvc:      p.CatalogSvc,
		customerSvc:     p.CustomerSvc,
		subscriptionSvc: p.SubscriptionSvc,
		transactionSvc:  p.TransactionSvc,
		consentSvc:      p.ConsentSvc,
		eventSvc:        p.EventSvc,
		checkoutSvc:     p.CheckoutSvc,
		webhookSvc:      p.WebhookSvc,
		renewalEngine:   p.RenewalEngine,
	}

	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()
	svc.registerJobRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.MerchantContext())

	api.GET("/integrations", s.listIntegrations)
	api.POST("/integrations", s.connectIntegration)
	api.POST("/integrations/:provider/rotate", s.rotateIntegration)
	api.PATCH("/integrations/:provider/active", s.setIntegrationActive)

	api.GET("/routing/rules", s.listRoutingRules)
	api.POST("/routing/rules", s.createRoutingRule)
	api.PUT("/routing/rules/:id", s.updateRoutingRule)
	api.DELETE("/routing/rules/:id", s.deleteRoutingRule)
	api.GET("/routing/preview", s.previewRouting)

	api.POST("/products", s.createProduct)
	api.GET("/products", s.listProducts)
	api.POST("/offers", s.createOffer)
	api.GET("/offers", s.listOffers)
	api.GET("/offers/:id", s.getOffer)
	api.PUT("/offers/:id", s.updateOffer)
	api.PATCH("/offers/:id/active", s.setOfferActive)
	api.PATCH("/offers/:id/provider-config", s.mergeOfferProviderConfig)

	api.GET("/subscriptions/:id", s.getSubscription)
	api.POST("/subscriptions/:id/cancel", s.cancelSubscription)
	api.POST("/subscriptions/:id/clear-attention", s.clearSubscriptionAttention)
	api.GET("/customers/:id/subscriptions", s.listCustomerSubscriptions)

	api.GET("/transactions", s.listTransactions)
	api.POST("/transactions/:id/refund", s.refundTransaction)

	api.GET("/webhook-endpoints", s.listWebhookEndpoints)
	api.POST("/webhook-endpoints", s.addWebhookEndpoint)
	api.PATCH("/webhook-endpoints/:id/active", s.setWebhookEndpointActive)

	api.POST("/open-finance/consents", s.createConsent)
	api.POST("/open-finance/consents/:linkID/authorize", s.authorizeConsent)
	api.POST("/open-finance/consents/:linkID/revoke", s.revokeConsent)
}

func (s *Server) registerPublicRoutes() {
	s.engine.POST("/checkout", s.checkout)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider/:merchantID", s.ingestWebhook)
}

func (s *Server) registerJobRoutes() {
	jobs := s.engine.Group("/jobs")
	jobs.Use(s.JobAuth())

	jobs.POST("/billing-scheduler", s.runJob(s.renewalEngine.RunHourlyObserve))
	jobs.POST("/daily-billing-renewal", s.runJob(s.renewalEngine.RunDailyRenewal))
	jobs.POST("/check-stuck-deliveries", s.runJob(s.renewalEngine.RunStuckDeliveries))
	jobs.POST("/open-finance/recurring/run", s.runJob(s.renewalEngine.RunOpenFinance))
}

func (s *Server) runJob(job func(ctx context.Context) (*renewal.RunSummary, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := job(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
