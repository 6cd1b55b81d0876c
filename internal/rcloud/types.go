package rcloud

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ActivityResult is the response body returned by the remote network-management API for
// accepted requests. Most mutating calls are asynchronous on the remote side; the
// activity id correlates follow-up status queries with the original request.
type ActivityResult struct {
	RequestId  string `json:"requestId"`
	ActivityId string `json:"activityId"`
	Status     string `json:"status,omitempty"`
}

// GetActivityId returns the remote system's async job id for this result.
func (r *ActivityResult) GetActivityId() string {
	return r.ActivityId
}

func (r *ActivityResult) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// APIError is a failed response from the remote API. Error() yields the raw response
// body so downstream consumers can dig the real failure message out of the nested
// structure the API wraps it in.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return e.Body
}

func (e *APIError) String() string {
	return fmt.Sprintf("APIError[StatusCode=%d, Body=%s]", e.StatusCode, e.Body)
}

// VenueRequest is the payload for venue create/delete calls.
type VenueRequest struct {
	Name    string `json:"name"`
	VenueId string `json:"venueId,omitempty"`
}

// NetworkRequest is the payload for network create/delete calls.
type NetworkRequest struct {
	Name      string `json:"name"`
	NetworkId string `json:"networkId,omitempty"`
	VenueId   string `json:"venueId,omitempty"`
}

// DeviceRequest is the payload for device create/delete/move/activate calls.
type DeviceRequest struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serialNumber,omitempty"`
	VenueId      string `json:"venueId,omitempty"`
}
