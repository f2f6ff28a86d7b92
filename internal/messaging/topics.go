package messaging

// Topic constants for the arbnet messaging system
const (
	// Peer request/response edge
	TopicRequests  = "arb.requests"  // transport gateway → validatord
	TopicResponses = "arb.responses" // validatord → transport gateway

	// Scanner output, consumed by external schedulers
	TopicOpportunities = "arb.opportunities" // scannerd → consumers
)
