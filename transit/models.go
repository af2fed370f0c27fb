package transit

// Route captures one transport line (bus, train, or tram).
type Route struct {
	ID            string
	RouteNumber   string
	RouteName     string
	TransportType string
}

// RouteWithIncidents pairs a route with its active incident count.
type RouteWithIncidents struct {
	Route
	ActiveIncidents int
}

// Stop captures one named stop with its coordinates.
type Stop struct {
	ID        string
	StopName  string
	Latitude  float64
	Longitude float64
}

// StopWithIncidents pairs a stop with the count of active incidents nearby.
type StopWithIncidents struct {
	Stop
	NearbyIncidents int
}
