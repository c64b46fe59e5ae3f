package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/wireformat"
)

// Request is an inbound event already read off the transport.
type Request struct {
	Header     http.Header
	Method     string
	Path       string
	RawQuery   string
	Host       string
	Proto      string
	RemoteAddr string
	RequestURI string
	Body       []byte
}

// FromHTTP reads r into a Request. Bodies larger than maxBody are rejected
// with a DecodeError; maxBody <= 0 disables the limit.
func FromHTTP(r *http.Request, maxBody int64) (*Request, error) {
	var body []byte
	if r.Body != nil {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return nil, &domainerrors.DecodeError{What: "request body", Err: err}
		}
		if maxBody > 0 && int64(len(b)) > maxBody {
			return nil, &domainerrors.DecodeError{What: "request body", Err: fmt.Errorf("larger than %d bytes", maxBody)}
		}
		body = b
	}
	return &Request{
		Header:     r.Header,
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Host:       r.Host,
		Proto:      r.Proto,
		RemoteAddr: r.RemoteAddr,
		RequestURI: r.RequestURI,
		Body:       body,
	}, nil
}

// headers builds the input buffer headers: lower-cased request headers
// (first value), then the x-moc request metadata.
func (r *Request) headers(params map[string]string, plugData string) []wireformat.Pair {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]wireformat.Pair, 0, len(names)+9+len(params))
	for _, name := range names {
		if values := r.Header[name]; len(values) > 0 {
			pairs = append(pairs, wireformat.Pair{Name: strings.ToLower(name), Value: values[0]})
		}
	}
	pairs = append(pairs,
		wireformat.Pair{Name: "x-moc-host", Value: r.Host},
		wireformat.Pair{Name: "x-moc-method", Value: strings.ToLower(r.Method)},
		wireformat.Pair{Name: "x-moc-proto", Value: r.Proto},
		wireformat.Pair{Name: "x-moc-remote-addr", Value: r.RemoteAddr},
		wireformat.Pair{Name: "x-moc-request-uri", Value: r.RequestURI},
		wireformat.Pair{Name: "x-moc-url-path", Value: r.Path},
		wireformat.Pair{Name: "x-moc-url-query", Value: r.RawQuery},
	)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, wireformat.Pair{Name: "x-moc-path-param-" + strings.ToLower(k), Value: params[k]})
	}
	return append(pairs, wireformat.Pair{Name: "x-moc-plug-data", Value: plugData})
}

// Response is the outcome of one dispatched request.
type Response struct {
	Err    error
	Header []wireformat.Pair
	Body   []byte
	Status int
	State  entities.InvocationState
}

type errorBody struct {
	Message string `json:"message"`
}

func rejection(status int, err error, message string) *Response {
	body, _ := json.Marshal(errorBody{Message: message})
	return &Response{
		Status: status,
		Header: []wireformat.Pair{{Name: "content-type", Value: "application/json"}},
		Body:   body,
		Err:    err,
	}
}

// Write copies the response onto w. Later headers replace earlier ones with
// the same name.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for _, p := range r.Header {
		h.Set(p.Name, p.Value)
	}
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}
