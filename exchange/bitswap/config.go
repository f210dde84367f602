package bitswap

import "time"

// Config holds the tunable constants of the Bitswap core. Values are
// opaque to the wire format. Core reads MaxProvidersForFind and
// FindProvidersSaturation; ConnKeepAlive, OutboundNegotiationTimeout and
// MaxDialNegotiatedStreams are carried as values only, and no code in this
// module applies them to a substream or connection.
type Config struct {
	// MaxProvidersForFind bounds how many connected (or not yet dialed)
	// peers find_providers probes with a want-have. Probing every known peer wastes bandwidth
	// and delays useful wantlists.
	MaxProvidersForFind int

	// FindProvidersSaturation is the number of accumulated Have responses
	// at which a FindProviders query completes early, regardless of how
	// many candidate peers remain unanswered. Bounds unbounded waiting
	// while still yielding a diverse provider set.
	FindProvidersSaturation int

	// ConnKeepAlive is the substream idle keep-alive timeout: handlers
	// quiet for longer than this are assumed to have lost their peer's
	// interest.
	ConnKeepAlive time.Duration

	// OutboundNegotiationTimeout bounds how long an outbound substream
	// negotiation may take before it is abandoned.
	OutboundNegotiationTimeout time.Duration

	// MaxDialNegotiatedStreams bounds the number of simultaneous
	// outbound dial-negotiated substreams per connection, covering
	// bursty dispatch without exhausting transport buffers.
	MaxDialNegotiatedStreams int
}

// DefaultConfig returns the constants named in the protocol spec.
func DefaultConfig() Config {
	return Config{
		MaxProvidersForFind:        10,
		FindProvidersSaturation:    40,
		ConnKeepAlive:              30 * time.Second,
		OutboundNegotiationTimeout: 30 * time.Second,
		MaxDialNegotiatedStreams:   64,
	}
}
