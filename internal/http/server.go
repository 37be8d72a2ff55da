package httpapi

import (
	"net/http"
	"time"

	"cautela-backend-go/internal/config"
	"cautela-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
)

type Server struct {
	DB         *sqlx.DB
	Config     config.Config
	Tokens     services.TokenService
	Bus        *services.EventBus
	Tracker    *services.HeartbeatTracker
	Presence   *services.ConnectionCache
	Dispatcher *services.Dispatcher
}

func NewServer(db *sqlx.DB, cfg config.Config, bus *services.EventBus, tracker *services.HeartbeatTracker, presence *services.ConnectionCache, dispatcher *services.Dispatcher) *Server {
	tokens := services.TokenService{
		Secret:      []byte(cfg.JWTSecret),
		Issuer:      cfg.JWTIssuer,
		AccessTTL:   time.Duration(cfg.AccessTTLSeconds) * time.Second,
		RefreshTTL:  time.Duration(cfg.RefreshTTLSeconds) * time.Second,
		RememberTTL: time.Duration(cfg.RememberTTLSeconds) * time.Second,
	}
	return &Server{
		DB:         db,
		Config:     cfg,
		Tokens:     tokens,
		Bus:        bus,
		Tracker:    tracker,
		Presence:   presence,
		Dispatcher: dispatcher,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	if len(s.Config.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.Config.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.Register)
		api.Post("/auth/login", s.Login)
		api.Post("/auth/refresh", s.Refresh)
		api.Post("/auth/logout", s.Logout)

		// Device firmware cannot hold user tokens, so the ingest surface
		// is unauthenticated and identifies callers by device id.
		api.Route("/esp32", func(esp chi.Router) {
			esp.Post("/connection", s.DeviceConnection)
			esp.Post("/sensor-data", s.DeviceSensorData)
			esp.Post("/fall-alert", s.DeviceFallAlert)
			esp.Post("/panic-alert", s.DevicePanicAlert)
			esp.Get("/connection-status", s.DeviceConnectionStatus)
			esp.Post("/webhook", s.EmergencyWebhook)
		})

		api.Route("/me", func(me chi.Router) {
			me.Use(WithAuth(s.Tokens))
			me.Get("/", s.Me)
			me.Get("/profile", s.Me)
			me.Put("/profile", s.UpdateProfile)
			me.Delete("/", s.DeleteAccount)
			me.Put("/password", s.ChangePassword)
			me.Post("/ping", s.Ping)
		})

		api.Route("/devices", func(devices chi.Router) {
			devices.Use(WithAuth(s.Tokens))
			devices.Post("/link", s.LinkDevice)
			devices.Get("/{deviceId}/status", s.DeviceStatus)
		})

		api.Route("/elders", func(elders chi.Router) {
			elders.Use(WithAuth(s.Tokens))
			elders.Get("/", s.MyElders)
			elders.Get("/shared", s.SharedElders)
			elders.Put("/{elderId}", s.UpdateElder)
			elders.Delete("/{elderId}", s.UnlinkElder)
			elders.Get("/{elderId}/notifications", s.ElderNotifications)
		})

		api.Route("/groups", func(groups chi.Router) {
			groups.Use(WithAuth(s.Tokens))
			groups.Get("/", s.MyGroups)
			groups.Post("/", s.CreateGroup)
			groups.Post("/join", s.JoinGroup)
			groups.Get("/{groupId}", s.GetGroup)
			groups.Delete("/{groupId}/leave", s.LeaveGroup)
			groups.Delete("/{groupId}/members/{userId}", s.RemoveGroupMember)
			groups.Post("/{groupId}/elders", s.ShareElder)
			groups.Delete("/{groupId}/elders/{elderId}", s.UnshareElder)
		})

		api.Route("/notifications", func(notifications chi.Router) {
			notifications.Use(WithAuth(s.Tokens))
			notifications.Get("/", s.MyNotifications)
			notifications.Post("/", s.CreateNotification)
			notifications.Get("/{notificationId}", s.GetNotification)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(WithAuth(s.Tokens))
			admin.Use(RequireRole(services.RoleAdmin))
			admin.Get("/metrics/history", s.MetricsHistory)
			admin.Get("/devices/status", s.FleetStatus)
			admin.Route("/users", func(users chi.Router) {
				users.Get("/", s.ListUsers)
				users.Post("/", s.CreateUser)
				users.Put("/{userId}", s.UpdateUser)
				users.Delete("/{userId}", s.DeleteUser)
				users.Post("/{userId}/roles", s.AssignRole)
				users.Delete("/{userId}/roles/{role}", s.RemoveRole)
			})
			admin.Route("/notifications", func(notifications chi.Router) {
				notifications.Put("/{notificationId}", s.AdminUpdateNotification)
				notifications.Delete("/{notificationId}", s.AdminDeleteNotification)
			})
		})
	})

	r.Get("/ws/events", s.EventsSocket)
	r.Get("/ws/metrics", s.MetricsSocket)
	return r
}
