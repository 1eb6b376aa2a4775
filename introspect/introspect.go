package introspect

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/algo"
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/registry"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/version"
)

// Option configures the handler.
type Option func(*handler)

// WithLogger sets the request logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *handler) { h.log = l }
}

// WithScheduler exposes the run driving the pipeline on /stats and /health.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(h *handler) { h.sched = s }
}

// WithRegistry exposes the registered process types on /types.
func WithRegistry(r *registry.Registry) Option {
	return func(h *handler) { h.types = r }
}

// WithAlgorithms exposes the registered algorithms on /algorithms.
func WithAlgorithms(r *algo.Registry) Option {
	return func(h *handler) { h.algos = r }
}

type handler struct {
	p     *pipeline.Pipeline
	log   *logger.Logger
	sched scheduler.Scheduler
	types *registry.Registry
	algos *algo.Registry
}

// Handler returns a read-only JSON view of p:
//
//	GET /pipeline          name, setup state, processes, clusters, order
//	GET /processes         every process with its state
//	GET /processes/:name   ports, config and neighbours of one process
//	GET /clusters/:name    the inner pipeline of a cluster
//	GET /edges             edge counters
//	GET /version           engine build
//	GET /health            run health, 503 when a process failed
//	GET /stats             scheduler stats, when a scheduler is given
//	GET /types             process types, when a registry is given
//	GET /algorithms        algorithms, when an algorithm registry is given
func Handler(p *pipeline.Pipeline, opts ...Option) *gin.Engine {
	h := &handler{p: p}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logger.OrNop(h.log).WithComponent("introspect")

	r := gin.New()
	r.Use(recovery(h.log), requestID(), requestLogger(h.log))

	r.GET("/pipeline", h.pipeline)
	r.GET("/processes", h.processes)
	r.GET("/processes/:name", h.process)
	r.GET("/clusters/:name", h.cluster)
	r.GET("/edges", h.edges)
	r.GET("/version", func(c *gin.Context) { respondOK(c, version.Get()) })
	r.GET("/health", h.health)
	if h.sched != nil {
		r.GET("/stats", func(c *gin.Context) { respondOK(c, h.sched.Stats()) })
	}
	if h.types != nil {
		r.GET("/types", h.processTypes)
	}
	if h.algos != nil {
		r.GET("/algorithms", h.algorithms)
	}
	return r
}

// PipelineView summarizes a pipeline.
type PipelineView struct {
	Name            string                `json:"name"`
	Setup           bool                  `json:"setup"`
	SetupSuccessful bool                  `json:"setup_successful"`
	Processes       []string              `json:"processes"`
	Clusters        []string              `json:"clusters,omitempty"`
	Order           []string              `json:"order,omitempty"`
	Terminals       []string              `json:"terminals,omitempty"`
	Connections     []pipeline.Connection `json:"connections"`
}

// ProcessView describes one process.
type ProcessView struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	State      string            `json:"state"`
	Steps      int64             `json:"steps"`
	Quiescent  bool              `json:"quiescent"`
	Cluster    bool              `json:"cluster,omitempty"`
	Inputs     []PortView        `json:"inputs,omitempty"`
	Outputs    []PortView        `json:"outputs,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	Upstream   []string          `json:"upstream,omitempty"`
	Downstream []string          `json:"downstream,omitempty"`
}

// PortView describes one port. Type is the resolved type when known.
type PortView struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Flags       string   `json:"flags"`
	Description string   `json:"description,omitempty"`
	Peers       []string `json:"peers,omitempty"`
}

// TypeView describes a registered process type or algorithm.
type TypeView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func viewPipeline(p *pipeline.Pipeline) PipelineView {
	return PipelineView{
		Name:            p.Name(),
		Setup:           p.IsSetup(),
		SetupSuccessful: p.SetupSuccessful(),
		Processes:       p.ProcessNames(),
		Clusters:        p.ClusterNames(),
		Order:           p.TopoOrder(),
		Terminals:       p.Terminals(),
		Connections:     p.Connections(),
	}
}

func (h *handler) pipeline(c *gin.Context) {
	respondOK(c, viewPipeline(h.p))
}

func (h *handler) processes(c *gin.Context) {
	names := h.p.ProcessNames()
	views := make([]ProcessView, 0, len(names))
	for _, name := range names {
		proc, err := h.p.ProcessByName(name)
		if err != nil {
			continue
		}
		views = append(views, summary(proc))
	}
	respondOK(c, views)
}

func summary(proc *process.Process) ProcessView {
	_, nested := proc.Impl().(pipeline.Nested)
	return ProcessView{
		Name:      proc.Name(),
		Type:      proc.Type(),
		State:     proc.State().String(),
		Steps:     proc.Steps(),
		Quiescent: proc.Quiescent(),
		Cluster:   nested,
	}
}

func (h *handler) process(c *gin.Context) {
	name := c.Param("name")
	proc, err := h.p.ProcessByName(name)
	if err != nil {
		respondError(c, err)
		return
	}

	v := summary(proc)
	for _, spec := range proc.InputPorts() {
		pv := h.port(process.Input, name, spec)
		for _, a := range h.p.UpstreamForPort(name, spec.Name) {
			pv.Peers = append(pv.Peers, a.String())
		}
		v.Inputs = append(v.Inputs, pv)
	}
	for _, spec := range proc.OutputPorts() {
		pv := h.port(process.Output, name, spec)
		for _, a := range h.p.DownstreamForPort(name, spec.Name) {
			pv.Peers = append(pv.Peers, a.String())
		}
		v.Outputs = append(v.Outputs, pv)
	}
	v.Config = proc.Config().ToMap()
	v.Upstream = h.p.UpstreamForProcess(name)
	v.Downstream = h.p.DownstreamForProcess(name)
	respondOK(c, v)
}

func (h *handler) port(dir process.Direction, proc string, spec process.PortSpec) PortView {
	typ := spec.Type
	if resolved, err := h.p.PortType(dir, proc, spec.Name); err == nil {
		typ = resolved
	}
	return PortView{Name: spec.Name, Type: typ, Flags: spec.Flags.String(), Description: spec.Description}
}

func (h *handler) cluster(c *gin.Context) {
	inner, err := h.p.ClusterByName(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	if inner == nil {
		respondError(c, errors.PipelineNotSetup("introspect cluster"))
		return
	}
	respondOK(c, viewPipeline(inner))
}

func (h *handler) edges(c *gin.Context) {
	edges := h.p.Edges()
	stats := make([]edge.Stats, 0, len(edges))
	for _, e := range edges {
		stats = append(stats, e.Stats())
	}
	respondOK(c, stats)
}

func (h *handler) health(c *gin.Context) {
	var st scheduler.Stats
	if h.sched != nil {
		st = h.sched.Stats()
	}

	rh := observability.NewRunHealth(h.p.Name(), st.RunID, version.Get().Version)
	for _, name := range h.p.ProcessNames() {
		proc, err := h.p.ProcessByName(name)
		if err != nil {
			continue
		}
		rh.AddProcess(observability.ProcessHealth(name, proc.State().String(), proc.Quiescent(), nil))
	}
	if st.State == scheduler.StateFailed {
		rh.AddProcess(observability.Health{
			Name:    "scheduler",
			Status:  observability.HealthStatusDown,
			State:   st.State,
			Message: st.Error,
		})
	}

	status := http.StatusOK
	if rh.Status == observability.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, DataResponse{Data: rh})
}

func (h *handler) processTypes(c *gin.Context) {
	names := h.types.Types()
	views := make([]TypeView, 0, len(names))
	for _, name := range names {
		desc, _ := h.types.Description(name)
		views = append(views, TypeView{Name: name, Description: desc})
	}
	respondOK(c, views)
}

func (h *handler) algorithms(c *gin.Context) {
	out := make(map[string][]TypeView)
	for _, group := range h.algos.Groups() {
		for _, name := range h.algos.Names(group) {
			attrs, _ := h.algos.Attributes(group, name)
			out[group] = append(out[group], TypeView{Name: name, Description: attrs.Description})
		}
	}
	respondOK(c, out)
}
