// Package bridge implements the bridge REST API: the Dispatcher that routes
// requests to resource handlers, and the handlers themselves.
package bridge

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
)

// Request is a parsed API call. Path is the URL path without query.
type Request struct {
	Method string
	Path   string
	Body   Body
}

// RouteHandler is one resource family of the API.
type RouteHandler interface {
	Name() string
	// TryHandle answers req when one of the family's routes matches.
	TryHandle(req Request) (Response, bool)
}

// Observer is told about every dispatched request.
type Observer interface {
	RequestHandled(family, method string)
	RequestUnhandled(method string)
}

type nopObserver struct{}

func (nopObserver) RequestHandled(string, string) {}
func (nopObserver) RequestUnhandled(string)       {}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithPublisher sets where resource change events go.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.pub = p }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher serializes API requests and hands each one to the first
// resource family that claims it. Rules, schedules and scripts re-enter it
// from their own goroutines; handlers never call back into it.
type Dispatcher struct {
	mu       sync.Mutex
	logger   *slog.Logger
	pub      events.Publisher
	observer Observer
	handlers []RouteHandler
}

// New builds a dispatcher serving the resources of ds.
func New(ds *datastore.Datastore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   slog.Default(),
		pub:      nopPublisher{},
		observer: nopObserver{},
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "dispatcher")

	h := &handler{ds: ds, pub: d.pub, logger: d.logger}
	d.handlers = []RouteHandler{
		lightRoutes(h),
		groupRoutes(h),
		scheduleRoutes(h),
		sceneRoutes(h),
		sensorRoutes(h),
		ruleRoutes(h),
		configurationRoutes(h),
		resourcelinkRoutes(h),
		capabilityRoutes(h),
		discoveryRoutes(h),
	}
	return d
}

// Dispatch answers req. Requests no family claims get a 404 with an empty
// body.
func (d *Dispatcher) Dispatch(req Request) Response {
	switch req.Method {
	case "GET", "PUT", "POST", "DELETE":
	default:
		d.observer.RequestUnhandled(req.Method)
		return notFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rh := range d.handlers {
		if resp, ok := rh.TryHandle(req); ok {
			d.logger.Debug("request", "method", req.Method, "path", req.Path, "handler", rh.Name())
			d.observer.RequestHandled(rh.Name(), req.Method)
			return resp
		}
	}
	d.logger.Debug("request not handled", "method", req.Method, "path", req.Path)
	d.observer.RequestUnhandled(req.Method)
	return notFound
}

// Fire dispatches an internal request and discards the response. url is
// the full path including the /api/<username> prefix.
func (d *Dispatcher) Fire(method, url string, body map[string]any) {
	resp := d.Dispatch(Request{
		Method: strings.ToUpper(method),
		Path:   url,
		Body:   BodyFromMap(body),
	})
	if !resp.Handled() {
		d.logger.Warn("internal request not handled", "method", method, "url", url)
	}
}

// handler carries what every resource family needs.
type handler struct {
	ds     *datastore.Datastore
	pub    events.Publisher
	logger *slog.Logger
}

func (h *handler) emit(typ, id string, data any) {
	h.pub.Publish(events.Event{Type: typ, ID: id, Data: data})
}

type route struct {
	method  string
	pattern *regexp.Regexp
	// public routes skip the whitelist check; all others carry the
	// username as the first capture.
	public bool
	serve  func(req Request, m []string) Response
}

// family is a RouteHandler backed by a route table.
type family struct {
	name   string
	h      *handler
	routes []route
}

func (f *family) Name() string { return f.name }

func (f *family) TryHandle(req Request) (Response, bool) {
	for _, rt := range f.routes {
		if rt.method != req.Method {
			continue
		}
		m := rt.pattern.FindStringSubmatch(req.Path)
		if m == nil {
			continue
		}
		if !rt.public && !f.h.ds.ValidUser(m[1]) {
			return errorResponse(NewAPIError(ErrUnauthorizedUser, "/config/whitelist/"+m[1])), true
		}
		return rt.serve(req, m), true
	}
	return Response{}, false
}

func get(pattern string, serve func(Request, []string) Response) route {
	return route{method: "GET", pattern: regexp.MustCompile(pattern), serve: serve}
}

func put(pattern string, serve func(Request, []string) Response) route {
	return route{method: "PUT", pattern: regexp.MustCompile(pattern), serve: serve}
}

func post(pattern string, serve func(Request, []string) Response) route {
	return route{method: "POST", pattern: regexp.MustCompile(pattern), serve: serve}
}

func del(pattern string, serve func(Request, []string) Response) route {
	return route{method: "DELETE", pattern: regexp.MustCompile(pattern), serve: serve}
}

func public(r route) route {
	r.public = true
	return r
}

func notAvailable(address string) Response {
	return errorResponse(NewAPIError(ErrResourceNotFound, address))
}

func internalError(address string) Response {
	return errorResponse(NewAPIError(ErrInternal, address))
}

// failure maps a datastore error to the matching protocol error.
func failure(err error, address string) Response {
	if errors.Is(err, datastore.ErrNotFound) {
		return notAvailable(address)
	}
	return internalError(address)
}
