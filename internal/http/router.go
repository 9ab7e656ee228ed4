// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hailing/internal/http/handlers"
	"hailing/internal/http/middleware"
	"hailing/internal/infra"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/group"
	"hailing/internal/modules/location"
	"hailing/internal/modules/matching"
	"hailing/internal/modules/places"
	"hailing/internal/modules/pricing"
	"hailing/internal/modules/ride"
	"hailing/internal/modules/trip"
)

type Services struct {
	Drivers   *driver.Service
	Locations *location.Service
	Matching  *matching.Service
	Rides     *ride.Service
	Groups    *group.Service
	Places    *places.Service
	Trips     *trip.Service
	Pricing   *pricing.Service
}

// NewRouter registers every route. A nil verifier leaves /api open.
func NewRouter(svc Services, verifier infra.TokenVerifier, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if verifier != nil {
		api.Use(middleware.Auth(verifier))
	}

	driverHandler := handlers.NewDriverHandler(svc.Drivers, svc.Matching, svc.Rides)
	locationHandler := handlers.NewLocationHandler(svc.Locations, svc.Matching)
	api.POST("/drivers", driverHandler.Register)
	api.GET("/drivers/:id", driverHandler.Get)
	api.PUT("/drivers/:id/location", locationHandler.Update)
	api.GET("/drivers/:id/location", locationHandler.Get)
	api.POST("/drivers/:id/availability", locationHandler.SetAvailability)
	api.GET("/drivers/:id/route", locationHandler.Route)
	api.GET("/drivers/:id/requests", driverHandler.PendingRequests)
	api.GET("/drivers/:id/active", driverHandler.Active)
	api.GET("/nearby-drivers", locationHandler.Nearby)

	fareHandler := handlers.NewFareHandler(svc.Pricing)
	api.GET("/fares/estimate", fareHandler.Estimate)

	rideHandler := handlers.NewRideHandler(svc.Rides)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/:id/status", rideHandler.Status)
	api.POST("/rides/:id/accept", rideHandler.Accept)
	api.POST("/rides/:id/en-route", rideHandler.EnRoute)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.POST("/rides/:id/customer-cancel", rideHandler.CustomerCancel)

	groupHandler := handlers.NewGroupHandler(svc.Groups)
	api.POST("/groups", groupHandler.Create)
	api.GET("/groups/:id", groupHandler.Get)

	placeHandler := handlers.NewPlaceHandler(svc.Places)
	api.GET("/places/search", placeHandler.Search)
	api.GET("/places/suggest", placeHandler.Suggest)
	api.POST("/places", placeHandler.Add)

	tripHandler := handlers.NewTripHandler(svc.Trips)
	api.POST("/trips/from-request/:id", tripHandler.FromRequest)
	api.GET("/trips/:id", tripHandler.Get)
	api.POST("/trips/:id/rating", tripHandler.Rate)
	api.POST("/trips/:id/payment", tripHandler.Payment)

	return r
}
