package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/resilience"
)

// maxSteps guards against wiring mistakes that would loop the DAG.
const maxSteps = 16

// Pipeline owns a DAG of components and routes between them by edge label.
// Pipelines are stateless: all per-run data travels in the payload, so a
// single Pipeline value is safe for concurrent Run calls.
type Pipeline struct {
	name       string
	entry      string
	lastAdded  string
	components map[string]Component
	edges      map[string]map[string]string // from -> edge label -> to
}

// New creates an empty pipeline. The first component added becomes the
// entry node.
func New(name string) *Pipeline {
	return &Pipeline{
		name:       name,
		components: make(map[string]Component),
		edges:      make(map[string]map[string]string),
	}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Add registers a component and chains it onto the previous one via the
// default edge. Returns p for building pipelines in one expression.
func (p *Pipeline) Add(c Component) *Pipeline {
	name := c.Name()
	if p.entry == "" {
		p.entry = name
	} else {
		// Chain onto the most recently added leaf.
		p.Connect(p.lastAdded, EdgeDefault, name)
	}
	p.components[name] = c
	p.lastAdded = name
	return p
}

// Connect routes the given edge label from one component to another.
func (p *Pipeline) Connect(from, edge, to string) *Pipeline {
	if p.edges[from] == nil {
		p.edges[from] = make(map[string]string)
	}
	p.edges[from][edge] = to
	return p
}

// Outputs maps component name to that component's output payload.
type Outputs map[string]Payload

// Last returns the output of the final component that ran.
func (o Outputs) Last(name string) Payload { return o[name] }

// Run executes the DAG from the entry component. Every component's output
// is retained in Outputs keyed by component name; the walk follows each
// component's returned edge label and stops when no edge matches.
func (p *Pipeline) Run(ctx context.Context, in Payload) (Outputs, string, error) {
	if p.entry == "" {
		return nil, "", resilience.PipelineFailure(p.name, fmt.Errorf("pipeline has no components"))
	}

	sessionID := in.String("session_id")
	logger.PipelineCall(p.name, sessionID, len(in))
	start := time.Now()

	outputs := make(Outputs, len(p.components))
	current := p.entry
	payload := in
	lastEdge := EdgeDefault

	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			return outputs, lastEdge, resilience.PipelineFailure(p.name,
				fmt.Errorf("component walk exceeded %d steps at %q", maxSteps, current))
		}
		component, ok := p.components[current]
		if !ok {
			return outputs, lastEdge, resilience.PipelineFailure(p.name,
				fmt.Errorf("unknown component %q", current))
		}

		stepStart := time.Now()
		out, edge, err := component.Run(ctx, payload)
		metrics.RecordComponentDuration(p.name, current, time.Since(stepStart).Seconds())
		if err != nil {
			logger.PipelineResult(p.name, sessionID, StatusError, time.Since(start).Seconds(),
				"component", current, "error", err)
			metrics.RecordPipelineExecution(p.name, StatusError, time.Since(start).Seconds())
			return outputs, EdgeError, resilience.PipelineFailure(p.name, fmt.Errorf("%s: %w", current, err))
		}

		outputs[current] = out
		payload = out
		lastEdge = edge

		next, ok := p.edges[current][edge]
		if !ok {
			break
		}
		current = next
	}

	status := payload.String("status")
	if status == "" {
		status = StatusSuccess
	}
	logger.PipelineResult(p.name, sessionID, status, time.Since(start).Seconds())
	metrics.RecordPipelineExecution(p.name, status, time.Since(start).Seconds())
	return outputs, lastEdge, nil
}
