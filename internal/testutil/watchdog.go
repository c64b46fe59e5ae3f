package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/wireformat"
)

const watchdogPrefix = "/watchdog-v1/status/services/"

type watchdogPost struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type watchdogMessage struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type watchdogService struct {
	Timestamp int64 `json:"timestamp"`
}

type watchdogStatus struct {
	Description string                     `json:"description"`
	Services    map[string]watchdogService `json:"services"`
}

// WatchdogModule is a service watchdog guest. Services report with
// postStatus (JSON body) or addStatus (:service path parameter); getStatus
// lists the last report time of every service.
func WatchdogModule() NativeModule {
	return NativeModule{Exports: map[string]GuestFunc{
		"postStatus": func(_ context.Context, g *Guest, _ []int32) (int32, error) {
			var post watchdogPost
			if err := json.Unmarshal(g.Input(), &post); err != nil {
				watchdogRespond(g, fmt.Sprintf("cannot parse %v", err))
				return 400, nil
			}
			ts := watchdogSave(g, post.Name)
			watchdogRespond(g, fmt.Sprintf("status for '%s' saved for timestamp %d, thanks", post.Name, ts))
			return 200, nil
		},
		"addStatus": func(_ context.Context, g *Guest, _ []int32) (int32, error) {
			name := g.InputHeaders()["x-moc-path-param-service"]
			ts := watchdogSave(g, name)
			watchdogRespond(g, fmt.Sprintf("status for '%s' saved for timestamp %d, thanks", name, ts))
			return 200, nil
		},
		"getStatus": func(_ context.Context, g *Guest, _ []int32) (int32, error) {
			status := watchdogStatus{Description: "everything ok", Services: map[string]watchdogService{}}
			h := g.API.PersistenceGetSubset([]byte(watchdogPrefix))
			if h == hostfuncs.StatusFailed {
				return 500, nil
			}
			entries, err := wireformat.DecodeMap(g.ReadBuffer(h))
			if err != nil {
				return 0, err
			}
			for k, v := range entries {
				if !strings.HasSuffix(k, "/timestamp") {
					continue
				}
				name := strings.TrimSuffix(strings.TrimPrefix(k, watchdogPrefix), "/timestamp")
				ts, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return 0, err
				}
				status.Services[name] = watchdogService{Timestamp: ts}
			}
			body, err := json.Marshal(status)
			if err != nil {
				return 0, err
			}
			g.Respond(body, "content-type", "application/json")
			return 200, nil
		},
		"multiply": func(_ context.Context, _ *Guest, args []int32) (int32, error) {
			if len(args) != 2 {
				return 0, fmt.Errorf("multiply takes 2 arguments, got %d", len(args))
			}
			return args[0] * args[1], nil
		},
	}}
}

func watchdogSave(g *Guest, name string) int64 {
	ts := g.API.GetTime() / 1000
	g.API.PersistenceSet([]byte(watchdogPrefix+name+"/timestamp"), []byte(strconv.FormatInt(ts, 10)))
	return ts
}

func watchdogRespond(g *Guest, message string) {
	body, _ := json.Marshal(watchdogMessage{Status: true, Message: message})
	g.Respond(body, "content-type", "application/json")
}
