package pipeline

// Logger is the narrow logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NextFunc forwards an entity to the transform's successors.
type NextFunc func(Entity) error

// Transform is one node of the pipeline: a typed input guard and an apply
// operation that may emit entities to its successors through next.
// Transforms may be stateful; a pipeline instance belongs to one source.
type Transform interface {
	Name() string
	Guard(Entity) bool
	Apply(e Entity, next NextFunc) (Entity, error)
}

// Pipeline is an ordered transform chain. An entity entering the pipeline is
// handled by the first transform whose guard matches; entities that
// transform emits continue with its successors, so branching falls out of
// guard matching rather than an explicit graph.
type Pipeline struct {
	transforms []Transform
	logger     Logger
}

// New creates a pipeline over the given transforms.
func New(transforms ...Transform) *Pipeline {
	return &Pipeline{
		transforms: transforms,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) { p.logger = logger }

// Add appends a transform to the chain.
func (p *Pipeline) Add(t Transform) { p.transforms = append(p.transforms, t) }

// Run feeds an entity into the head of the pipeline.
func (p *Pipeline) Run(e Entity) error {
	return p.dispatch(0, e)
}

// dispatch hands the entity to the first guard-matching transform at or
// after index from. An unmatched entity is dropped with a debug record.
func (p *Pipeline) dispatch(from int, e Entity) error {
	for i := from; i < len(p.transforms); i++ {
		t := p.transforms[i]
		if !t.Guard(e) {
			continue
		}
		next := func(out Entity) error {
			return p.dispatch(i+1, out)
		}
		if _, err := t.Apply(e, next); err != nil {
			return err
		}
		return nil
	}

	p.logger.Debug("no transform matched entity", "entity", e.EntityName())
	return nil
}
