package entities

// Filter is a guest function run before every function route. It sees the
// same buffers as the route handler.
type Filter struct {
	ID         string `json:"id"`
	Module     string `json:"module"`
	EntryPoint string `json:"entry_point"`
	Data       string `json:"data,omitempty"`
}
