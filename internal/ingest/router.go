package ingest

import "strings"

// Route is what an incoming MQTT topic asks the hub to do.
type Route struct {
	Handler string // "job" or "recording"
	Action  string // "start" or "stop" for recording routes
}

// routes is keyed by the topic's trailing segments. Any prefix is accepted
// as long as MQTT_TOPICS subscribes to it.
var routes = map[string]Route{
	"jobs":            {Handler: "job"},
	"job":             {Handler: "job"},
	"recording/start": {Handler: "recording", Action: "start"},
	"recording/stop":  {Handler: "recording", Action: "stop"},
}

// ParseTopic matches the last one or two segments of topic against the
// known routes. A bare "jobs" with no prefix is not routed, since it cannot
// be told apart from a stray publish.
func ParseTopic(topic string) (Route, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return Route{}, false
	}
	n := len(parts)
	if r, ok := routes[parts[n-2]+"/"+parts[n-1]]; ok {
		return r, true
	}
	r, ok := routes[parts[n-1]]
	return r, ok
}
