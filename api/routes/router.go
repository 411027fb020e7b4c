package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mealmesh/ordering-backend/api/controllers"
	ordercontrollers "github.com/mealmesh/ordering-backend/api/controllers/orders"
	sagacontrollers "github.com/mealmesh/ordering-backend/api/controllers/sagas"
	"github.com/mealmesh/ordering-backend/api/middleware"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	orchestrator sagacontrollers.Orchestrator,
	orderCommands ordercontrollers.CommandService,
	orderViews ordercontrollers.ViewService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.CORS(),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", sagacontrollers.CreateOrder(orchestrator, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(orderViews, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(orderCommands, logg))
			r.Post("/{orderId}/accept", ordercontrollers.Accept(orderCommands, logg))
			r.Post("/{orderId}/prepare", ordercontrollers.StartPreparing(orderCommands, logg))
			r.Post("/{orderId}/ready", ordercontrollers.MarkReadyForPickup(orderCommands, logg))
			r.Post("/{orderId}/pickup", ordercontrollers.MarkPickedUp(orderCommands, logg))
			r.Post("/{orderId}/deliver", ordercontrollers.MarkDelivered(orderCommands, logg))
		})

		r.Route("/sagas", func(r chi.Router) {
			r.Get("/{sagaId}", sagacontrollers.Status(orchestrator, logg))
		})

		r.Get("/consumers/{consumerId}/orders", ordercontrollers.ListByConsumer(orderViews, logg))
		r.Get("/restaurants/{restaurantId}/orders", ordercontrollers.ListByRestaurant(orderViews, logg))
		r.Get("/couriers/{courierId}/orders", ordercontrollers.ListByCourier(orderViews, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Post("/orders/{orderId}/approve", ordercontrollers.Approve(orderCommands, logg))
		r.Post("/orders/{orderId}/reject", ordercontrollers.Reject(orderCommands, logg))
		r.Post("/orders/{orderId}/rebuild-view", ordercontrollers.RebuildView(orderViews, logg))
	})

	return r
}
