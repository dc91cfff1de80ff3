package protect

import "time"

// EndpointClass is the coarse label the limiter uses to look up a policy.
type EndpointClass string

const (
	ClassAuthLogin         EndpointClass = "auth_login"
	ClassAuthRegister      EndpointClass = "auth_register"
	ClassAuthPasswordReset EndpointClass = "auth_password_reset"
	ClassVPNConnect        EndpointClass = "vpn_connect"
	ClassVPNDisconnect     EndpointClass = "vpn_disconnect"
	ClassPayments          EndpointClass = "payments"
	ClassWebsocket         EndpointClass = "websocket"
	ClassGeneral           EndpointClass = "general"
)

// Policy is a sliding-window rate limit: a request is admitted while the
// number of requests in the trailing window stays below Limit+Burst.
type Policy struct {
	Limit  int
	Window time.Duration
	Burst  int
}

// Cap is the admission ceiling including burst allowance.
func (p Policy) Cap() int { return p.Limit + p.Burst }

// defaultPolicies mirrors the product's per-endpoint limits.
var defaultPolicies = map[EndpointClass]Policy{
	ClassAuthLogin:         {Limit: 5, Window: 300 * time.Second, Burst: 2},
	ClassAuthRegister:      {Limit: 3, Window: 3600 * time.Second, Burst: 1},
	ClassAuthPasswordReset: {Limit: 3, Window: 3600 * time.Second, Burst: 1},
	ClassVPNConnect:        {Limit: 20, Window: 60 * time.Second, Burst: 5},
	ClassVPNDisconnect:     {Limit: 30, Window: 60 * time.Second, Burst: 10},
	ClassPayments:          {Limit: 10, Window: 300 * time.Second, Burst: 3},
	ClassWebsocket:         {Limit: 5, Window: 60 * time.Second, Burst: 2},
	ClassGeneral:           {Limit: 60, Window: 60 * time.Second, Burst: 20},
}

// PolicyFor returns the policy for the class, falling back to general.
func PolicyFor(class EndpointClass) Policy {
	if p, ok := defaultPolicies[class]; ok {
		return p
	}
	return defaultPolicies[ClassGeneral]
}
