// Package httpclient is the registry transport: a pooled HTTP client that
// issues GET/PUT/POST/DELETE calls against a registry REST API with a
// per-request deadline, token or basic auth injection, optional TLS and
// optional retry / circuit breaking.
//
// Every failure is returned as an *errors.AppError classified for the
// registration and discovery state machines: connection and timeout failures
// and 5xx/429 responses are TRANSPORT_ERROR (retryable), other non-2xx
// responses keep their status so callers can map 404/410 to an unknown
// instance, and undecodable bodies become MALFORMED_RESPONSE via DecodeJSON.
//
//	client, err := httpclient.New(httpclient.Config{
//	    BaseURL: "http://eureka:8761/eureka",
//	    Timeout: 5 * time.Second,
//	})
//	resp, err := client.Do(ctx, httpclient.Request{
//	    Method: http.MethodPut,
//	    Path:   "/apps/ORDERS/orders-1",
//	})
package httpclient
