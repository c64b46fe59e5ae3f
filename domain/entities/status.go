package entities

// Statistics are runtime counters reported by get_status.
type Statistics struct {
	Requests       uint64 `json:"requests"`
	Invocations    uint64 `json:"invocations"`
	Rejected       uint64 `json:"rejected"`
	InternalErrors uint64 `json:"internal_errors"`
	StartedAt      int64  `json:"started_at"`
}

// Status is the document returned by get_status and the admin status endpoint.
type Status struct {
	Plugs      []Route    `json:"plugs"`
	BlobNames  []BlobName `json:"blob_names"`
	Blobs      []BlobInfo `json:"blobs"`
	Filters    []Filter   `json:"filters"`
	Statistics Statistics `json:"statistics"`
}
