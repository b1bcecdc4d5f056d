package http

import (
	"net/http"
	"time"
)

// TimingInfo stores the time spent in each phase of one request.
type TimingInfo struct {
	StartTime           time.Time     `json:"startTime"`
	DNSLookupTime       time.Duration `json:"dnsLookup"`
	TCPConnectTime      time.Duration `json:"tcpConnect"`
	TLSHandshakeTime    time.Duration `json:"tlsHandshake"`
	TimeToFirstByte     time.Duration `json:"timeToFirstByte"`
	ContentTransferTime time.Duration `json:"contentTransfer"`
	TotalTime           time.Duration `json:"total"`
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     TimingInfo
	// ReadError is set when the body could not be read completely.
	ReadError string
}

// Latency is the end-to-end time of the request.
func (r *Response) Latency() time.Duration {
	return r.Timing.TotalTime
}
