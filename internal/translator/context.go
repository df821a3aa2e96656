package translator

// Binding ties a lambda variable to a SQL expression plus the fragment that
// expression is valid against.
type Binding struct {
	Expr   string // SQL expression, in terms of the owning CTE's aliases
	Source string // fragment name the expression reads from
	Type   string // declared type, if known
}

// frame is one lambda scope's bindings.
type frame map[string]Binding

// Context is the mutable-but-scoped state threaded through one translation:
// the current row-set, accumulated path segments, pending sub-expression
// results and the lambda-variable binding stack. A Context must not be
// shared across concurrent translations.
type Context struct {
	// Table, IDCol and ResourceCol identify the backing resource table.
	Table       string
	IDCol       string
	ResourceCol string

	// ResourceType is the leading resource-type segment, once seen.
	ResourceType string

	path            []string
	source          string // current fragment name; "" = resource table
	sourceIsElement bool   // src.value holds the navigation root

	pendingResult  *operand // completed whole-expression result
	pendingLiteral *operand // just-visited literal value

	stack []frame
}

// NewContext returns a Context over the given resource table.
func NewContext(table, idCol, resourceCol string) *Context {
	return &Context{Table: table, IDCol: idCol, ResourceCol: resourceCol}
}

// AppendPath accumulates path segments for deferred extraction.
func (c *Context) AppendPath(segments ...string) {
	c.path = append(c.path, segments...)
}

// Path returns the accumulated path segments.
func (c *Context) Path() []string { return c.path }

// ClearPath discards the accumulated path.
func (c *Context) ClearPath() { c.path = nil }

// Source returns the current fragment name ("" = resource table).
func (c *Context) Source() string { return c.source }

// SetSource redirects navigation to a fragment's row-set. isElement marks
// whether the fragment's value column is the navigation root (as opposed to
// the whole resource document).
func (c *Context) SetSource(name string, isElement bool) {
	c.source = name
	c.sourceIsElement = isElement
}

// RootExpr returns the SQL expression for the current navigation root,
// valid inside a CTE whose src is the current source.
func (c *Context) RootExpr() string {
	if c.source == "" && !c.sourceIsElement {
		return SourceAlias + "." + c.ResourceCol
	}
	return SourceAlias + "." + ValueColumn
}

// Push enters a lambda scope. The returned function pops the frame and must
// run on every exit path.
func (c *Context) Push(bindings map[string]Binding) func() {
	f := make(frame, len(bindings))
	for k, v := range bindings {
		f[k] = v
	}
	c.stack = append(c.stack, f)
	return func() {
		c.stack = c.stack[:len(c.stack)-1]
	}
}

// Resolve looks a variable up, innermost scope first.
func (c *Context) Resolve(name string) (Binding, bool) {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if b, ok := c.stack[i][name]; ok {
			return b, true
		}
	}
	return Binding{}, false
}

// InLambda reports whether any lambda scope is active.
func (c *Context) InLambda() bool { return len(c.stack) > 0 }

// Snapshot is an immutable point-in-time copy of the context, used to roll
// back speculative sub-translation.
type Snapshot struct {
	resourceType    string
	path            []string
	source          string
	sourceIsElement bool
	pendingResult   *operand
	pendingLiteral  *operand
	stack           []frame
}

// Snapshot captures the current context state.
func (c *Context) Snapshot() Snapshot {
	path := make([]string, len(c.path))
	copy(path, c.path)
	stack := make([]frame, len(c.stack))
	for i, f := range c.stack {
		cp := make(frame, len(f))
		for k, v := range f {
			cp[k] = v
		}
		stack[i] = cp
	}
	return Snapshot{
		resourceType:    c.ResourceType,
		path:            path,
		source:          c.source,
		sourceIsElement: c.sourceIsElement,
		pendingResult:   c.pendingResult,
		pendingLiteral:  c.pendingLiteral,
		stack:           stack,
	}
}

// Restore rolls the context back to a snapshot; equivalent to never having
// made the intervening mutations.
func (c *Context) Restore(s Snapshot) {
	c.ResourceType = s.resourceType
	c.path = make([]string, len(s.path))
	copy(c.path, s.path)
	c.source = s.source
	c.sourceIsElement = s.sourceIsElement
	c.pendingResult = s.pendingResult
	c.pendingLiteral = s.pendingLiteral
	c.stack = make([]frame, len(s.stack))
	for i, f := range s.stack {
		cp := make(frame, len(f))
		for k, v := range f {
			cp[k] = v
		}
		c.stack[i] = cp
	}
}
