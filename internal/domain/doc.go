/*
Package domain contains the core entities and interfaces for the RPC balancer.

Key Components:

Endpoint Entity:
Endpoint represents one configured backend RPC endpoint together with its live
health and performance state. It maintains request counters, an exponential
moving average of call latency, a dynamically adjusted effective weight and the
exponential-backoff deactivation state. All compound state transitions are
applied under a per-endpoint lock so concurrent callers and the background
health monitor never observe partial updates.

	endpoint := domain.NewEndpoint("https://fullnode.mainnet.example.io:443", 3, policy)
	endpoint.RecordSuccess(42*time.Millisecond, policy)
	if endpoint.IsCandidate() {
		// Eligible for selection
	}

TrackerPolicy:
TrackerPolicy bundles the thresholds and tuning constants that drive weight
adjustment, forgiveness and deactivation. A single policy instance is shared by
the failure tracker and the health monitor so both sides of the state machine
agree on the same constants.

Transport:
Transport is the single-entry interface every outbound call routes through.
Keeping it to one Call method (plus a lightweight Probe) means instrumentation
and failover wrap a plain function call rather than intercepting arbitrary
method names.
*/
package domain
