package ami

import (
	"strconv"
	"time"
)

// Event represents one AMI message as an ordered set of key-value headers.
// Unsolicited events and action responses share this shape; responses carry
// a Response header and are routed separately by the Client.
type Event struct {
	headers []header
}

type header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key-value pairs.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Type returns the Event header value (the AMI event name).
func (e Event) Type() string {
	return e.Get("Event")
}

// ActionID returns the correlation id carried by the message, if any.
func (e Event) ActionID() string {
	return e.Get("ActionID")
}

// GetInt returns the integer value for the given key, or 0 if not found/parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// GetFloat returns the float value for the given key, or 0 if not found/parseable.
func (e Event) GetFloat(key string) float64 {
	v, _ := strconv.ParseFloat(e.Get(key), 64)
	return v
}

// GetTime returns the timestamp for the given key parsed as RFC3339, or zero time.
func (e Event) GetTime(key string) time.Time {
	t, _ := time.Parse(time.RFC3339, e.Get(key))
	return t
}

// Headers returns all headers as key-value pairs.
func (e Event) Headers() []header {
	return e.headers
}

// Fields returns the headers as a plain map. Later duplicates win.
func (e Event) Fields() map[string]string {
	m := make(map[string]string, len(e.headers))
	for _, h := range e.headers {
		m[h.Key] = h.Value
	}
	return m
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Success returns true for a response message with Response: Success.
func (e Event) Success() bool {
	return e.Get("Response") == "Success"
}
