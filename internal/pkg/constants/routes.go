package constants

// Route constants shared by the router and by code that builds public URLs
const (
	WebhookRoute       = "/webhooks/payments"
	HealthRoute        = "/health"
	MetricsRoute       = "/metrics"
	MonitorRoute       = "/monitor"
	CheckoutRoute      = "/checkout"
	SellerRoute        = "/seller"
	SellerAccountRoute = "/seller/account"
	OrdersRoute        = "/orders"
	ListingsRoute      = "/listings"
	APIRoute           = "/api"
)

// Query values appended to the onboarding links handed to the processor
const (
	OnboardingRefreshQuery = "?onboarding=refresh"
	OnboardingReturnQuery  = "?onboarding=return"
)
