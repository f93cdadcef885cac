package workflow

// Context threads results between the steps of one running workflow.
// It lives only for the duration of the driver; the persisted step
// records carry the same information for post-hoc inspection.
type Context struct {
	WorkflowID    string
	WorkflowName  string
	Input         any
	Results       []any
	ResultsByName map[string]any
	CurrentStep   int
}

func newContext(id, name string, input any, totalSteps int) *Context {
	return &Context{
		WorkflowID:    id,
		WorkflowName:  name,
		Input:         input,
		Results:       make([]any, totalSteps),
		ResultsByName: make(map[string]any, totalSteps),
	}
}

// PreviousResult returns the result of the step immediately before the
// current one. The second return is false when there is no previous
// step or it produced nothing (skipped or failed before storing).
func (c *Context) PreviousResult() (any, bool) {
	return c.Result(c.CurrentStep - 1)
}

// Result returns the result of step i by index.
func (c *Context) Result(i int) (any, bool) {
	if i < 0 || i >= len(c.Results) || c.Results[i] == nil {
		return nil, false
	}
	return c.Results[i], true
}

// ResultByName returns the result of the named step; with duplicate
// names the last writer wins.
func (c *Context) ResultByName(name string) (any, bool) {
	v, ok := c.ResultsByName[name]
	return v, ok
}

func (c *Context) setResult(i int, name string, v any) {
	if i >= 0 && i < len(c.Results) {
		c.Results[i] = v
	}
	c.ResultsByName[name] = v
}
