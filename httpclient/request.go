package httpclient

import "time"

// Request describes one registry call.
type Request struct {
	Method string
	// Path is appended to the client's BaseURL. Can be a full URL if BaseURL is empty.
	Path    string
	Headers map[string]string
	Query   map[string]string
	// Body accepts io.Reader, []byte, string, or any value that will be
	// JSON-encoded.
	Body any
	// Timeout overrides Config.Timeout for this call. Long-poll queries set it
	// above the registry wait time.
	Timeout time.Duration
	// Auth overrides the client-level auth for this request.
	Auth *AuthConfig
	// Operation names the call in errors and spans ("register", "renew", ...).
	Operation string
}

// Response is the result of a registry call.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Header returns a response header value by canonical name.
func (r *Response) Header(name string) string {
	return r.Headers[name]
}
