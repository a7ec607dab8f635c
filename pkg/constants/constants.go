package constants

// Name fragments that keep a pending service request out of the operator
// queue. Matching is case-insensitive.
const (
	// RegistrationMarker identifies client-onboarding placeholder requests.
	RegistrationMarker = "registration"
)

// Descriptions written to the transaction trail.
const (
	InitialFundingDescription = "Initial card funding"
	SubscriptionDescription   = "Subscription: %s"
	RenewalDescription        = "Subscription renewal: %s"
)
