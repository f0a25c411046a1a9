// Package api is the agent's context-provider HTTP server.
//
// The Broker calls it back for attributes the agent registered: updates and
// queries arrive on /v1/updateContext and /v1/queryContext (legacy) or
// /v2/op/update and /v2/op/query (current), and subscription notifications
// on the configured notification path. Requests are scoped by the
// fiware-service and fiware-servicepath headers, with configured defaults
// when the Broker omits them.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
