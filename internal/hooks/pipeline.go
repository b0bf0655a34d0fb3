package hooks

import (
	"context"
	"fmt"

	"github.com/haasonsaas/forge/internal/observability"
)

// Pipeline executes hooks sequentially in registration order. A hook error
// or panic is logged and counted, then the pipeline continues; a broken hook
// must not take the turn down with it.
type Pipeline struct {
	pre     []PreHook
	post    []PostHook
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewPipeline returns an empty pipeline.
func NewPipeline(log *observability.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{log: log.WithFields("component", "hooks"), metrics: metrics}
}

// Pre appends pre-hooks.
func (p *Pipeline) Pre(hooks ...PreHook) *Pipeline {
	p.pre = append(p.pre, hooks...)
	return p
}

// Post appends post-hooks.
func (p *Pipeline) Post(hooks ...PostHook) *Pipeline {
	p.post = append(p.post, hooks...)
	return p
}

// RunPre runs matching pre-hooks. The first denial short-circuits the rest.
func (p *Pipeline) RunPre(ctx context.Context, call *Call) *Denial {
	for _, h := range p.pre {
		if !matchPattern(h.Pattern(), call.Tool) {
			continue
		}
		denial, err := p.runPre(ctx, h, call)
		if err != nil {
			p.hookFailed(ctx, h.Name(), err)
			continue
		}
		if denial != nil {
			return denial
		}
	}
	return nil
}

// RunPost runs matching post-hooks and collects their injections.
func (p *Pipeline) RunPost(ctx context.Context, call *Call, result *Result) []Injection {
	var injections []Injection
	for _, h := range p.post {
		if !matchPattern(h.Pattern(), call.Tool) {
			continue
		}
		inj, err := p.runPost(ctx, h, call, result)
		if err != nil {
			p.hookFailed(ctx, h.Name(), err)
			continue
		}
		if inj != nil {
			injections = append(injections, *inj)
		}
	}
	return injections
}

func (p *Pipeline) runPre(ctx context.Context, h PreHook, call *Call) (denial *Denial, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h.Before(ctx, call)
}

func (p *Pipeline) runPost(ctx context.Context, h PostHook, call *Call, result *Result) (inj *Injection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h.After(ctx, call, result)
}

func (p *Pipeline) hookFailed(ctx context.Context, name string, err error) {
	p.log.Error(ctx, "hook failed", "hook", name, "error", err)
	if p.metrics != nil {
		p.metrics.HookErrors.WithLabelValues(name).Inc()
	}
}
