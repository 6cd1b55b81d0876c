package domain

const (
	// Base of the API group.
	BaseApiGroupEndpoint = "api"

	// Used by the frontend to start bulk batches per target kind.
	BulkVenuesEndpoint   = "bulk/venues"
	BulkNetworksEndpoint = "bulk/networks"
	BulkDevicesEndpoint  = "bulk/devices"

	// Read and control accessors for bulk sessions.
	BulkSessionsEndpoint = "bulk/sessions"

	// Used internally (by the frontend) to get the system config from the backend.
	SystemConfigEndpoint = "config"

	// Websocket endpoint over which session-state updates are pushed to the frontend.
	SessionsWebsocketEndpoint = "ws/sessions"

	// Default endpoint to serve Prometheus metric scraping requests.
	PrometheusEndpoint = "/metrics"

	// Used by frontend to authenticate and get access to the dashboard.
	AuthenticateRequest = "authenticate"

	// Used by frontend to refresh its JWT.
	RefreshToken = "refresh-token"
)

// Server is the backend HTTP server for the bulk-operations dashboard.
type Server interface {
	// Serve runs the server. This is a blocking call.
	Serve() error
}
