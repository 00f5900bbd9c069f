package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/canteen-backend/api/controllers"
	accountcontrollers "github.com/angelmondragon/canteen-backend/api/controllers/accounts"
	externalcontrollers "github.com/angelmondragon/canteen-backend/api/controllers/external"
	inventorycontrollers "github.com/angelmondragon/canteen-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/canteen-backend/api/controllers/orders"
	refundcontrollers "github.com/angelmondragon/canteen-backend/api/controllers/refunds"
	"github.com/angelmondragon/canteen-backend/api/middleware"
	"github.com/angelmondragon/canteen-backend/pkg/config"
	"github.com/angelmondragon/canteen-backend/pkg/enums"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/canteen-backend/pkg/redis"
)

// Deps carries everything the HTTP surface dispatches to.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Gatherer    prometheus.Gatherer

	Orders    ordercontrollers.Placer
	Lifecycle ordercontrollers.Transitioner
	External  externalcontrollers.Service
	Refunds   refundcontrollers.Refunder
	Accounts  accountcontrollers.Service
	Inventory inventorycontrollers.Totaler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}, logg))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	staff := middleware.RequireRole(logg, enums.UserRoleAdmin, enums.UserRoleCanteen)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Post("/orders", ordercontrollers.Place(deps.Orders, logg))
		r.With(staff).Post("/orders/{orderId}/transition", ordercontrollers.Transition(deps.Lifecycle, logg))

		r.Get("/inventory/{productId}/total", inventorycontrollers.Total(deps.Inventory, logg))

		r.Route("/external-codes/{code}", func(r chi.Router) {
			r.Use(staff)
			r.Get("/", externalcontrollers.Lookup(deps.External, logg))
			r.Post("/redeem", externalcontrollers.Redeem(deps.External, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
			r.Post("/orders/external", externalcontrollers.Issue(deps.External, logg))
			r.Post("/refunds", refundcontrollers.Refund(deps.Refunds, logg))
			r.Post("/topups", accountcontrollers.TopUp(deps.Accounts, logg))
			r.Post("/withdrawals", accountcontrollers.Withdraw(deps.Accounts, logg))
		})
	})

	return r
}
