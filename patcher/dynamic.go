package patcher

import (
	"context"
	"slices"

	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/logiface"
)

type (
	// Registration is one app's state within a [Dispatcher].
	Registration struct {
		d      *Dispatcher
		logger *logiface.Logger[logiface.Event]
		app    App
		// styles are the captured style and link elements, in insertion
		// order
		styles []*styleRecord
		// placeholders maps each intercepted script to its comment
		placeholders map[*dom.Node]*dom.Node
		// queue holds the external sync scripts, in insertion order
		queue []*scriptJob
	}

	// DynamicAppendPatch is one application of the dynamic insertion
	// patch, for one phase.
	DynamicAppendPatch struct {
		reg   *Registration
		phase Phase
	}

	// styleRebuild re-appends the captured style elements that are no
	// longer in the container.
	styleRebuild struct {
		reg *Registration
	}

	styleRecord struct {
		node *dom.Node
		// rules snapshots the sheet of a style element with no text
		rules []string
		// refNo is the original sibling position, or -1
		refNo int
		head  bool
	}

	scriptJob struct {
		node    *dom.Node
		err     error
		src     string
		code    string
		fetched bool
	}
)

// Name returns the app name.
func (r *Registration) Name() string { return r.app.Name }

// Styles returns the captured style and link elements.
func (r *Registration) Styles() []*dom.Node {
	nodes := make([]*dom.Node, len(r.styles))
	for i, rec := range r.styles {
		nodes[i] = rec.node
	}
	return nodes
}

// Patch applies the dynamic insertion patch for phase.
func (r *Registration) Patch(phase Phase) (*DynamicAppendPatch, error) {
	r.d.counters.Increase(r.app.Name, phase)
	r.d.install()
	return &DynamicAppendPatch{reg: r, phase: phase}, nil
}

// Free releases the patch, uninstalling the dispatcher once every app has
// released every patch, and snapshots the rules of generated style sheets.
func (p *DynamicAppendPatch) Free() (Rebuilder, error) {
	r := p.reg
	r.d.counters.Decrease(r.app.Name, p.phase)
	r.d.uninstall()
	r.snapshot()
	return &styleRebuild{reg: r}, nil
}

// snapshot records the rules of each style element without text content,
// which are lost once the element leaves the document.
func (r *Registration) snapshot() {
	for _, rec := range r.styles {
		if !rec.node.Is(`style`) || rec.node.TextContent() != `` {
			continue
		}
		if s := rec.node.Sheet(); s != nil {
			rec.rules = s.CSSRules()
		}
	}
}

func (x *styleRebuild) Rebuild() error {
	r := x.reg
	container := r.app.Container()
	if container == nil {
		return ErrNoContainer
	}
	for _, rec := range r.styles {
		if container.Contains(rec.node) {
			continue
		}
		mount := r.mountPoint(container, rec.head)
		var ref *dom.Node
		if rec.refNo >= 0 {
			// the original reference may be a script placeholder, which is
			// not rebuilt, in which case this appends
			if children := mount.ChildNodes(); rec.refNo < len(children) {
				ref = children[rec.refNo]
			}
		}
		if _, err := mount.RawInsertBefore(rec.node, ref); err != nil {
			return err
		}
		if len(rec.rules) != 0 && rec.node.Sheet() != nil {
			sheet := rec.node.Sheet()
			for _, rule := range rec.rules {
				if _, err := sheet.InsertRule(rule, sheet.Len()); err != nil {
					r.logger.Warning().Err(err).Str(`rule`, rule).Log(`patcher: failed to restore rule`)
				}
			}
		}
	}
	return nil
}

// mountPoint returns the container's stand-in for the document head, or
// the container itself.
func (r *Registration) mountPoint(container *dom.Node, head bool) *dom.Node {
	if head {
		if h := container.QuerySelector(ContainerHeadTag); h != nil {
			return h
		}
	}
	return container
}

func (r *Registration) excluded(n *dom.Node) bool {
	if r.app.Exclude == nil {
		return false
	}
	url, ok := n.Attr(`src`)
	if !ok {
		url, ok = n.Attr(`href`)
	}
	return ok && r.app.Exclude(url)
}

func (r *Registration) insert(head bool, child, ref *dom.Node) (*dom.Node, bool, error) {
	if r.excluded(child) {
		return nil, false, nil
	}

	container := r.app.Container()
	if container == nil {
		r.logger.Warning().Str(`tag`, child.TagName()).Log(`patcher: no container, inserting into the document`)
		return nil, false, nil
	}
	mount := r.mountPoint(container, head)
	if ref != nil && ref.Parent() != mount {
		ref = nil
	}

	if child.Is(`script`) {
		return r.insertScript(mount, child, ref)
	}

	refNo := -1
	if ref != nil {
		refNo = mount.IndexOf(ref)
	}
	result, err := mount.RawInsertBefore(child, ref)
	if err != nil {
		return nil, true, err
	}
	if !slices.ContainsFunc(r.styles, func(rec *styleRecord) bool { return rec.node == child }) {
		r.styles = append(r.styles, &styleRecord{node: child, refNo: refNo, head: head})
	}
	return result, true, nil
}

func (r *Registration) remove(child *dom.Node) (*dom.Node, bool, error) {
	if child.Is(`script`) {
		if comment := r.placeholders[child]; comment != nil {
			delete(r.placeholders, child)
			comment.Remove()
		}
		r.queue = slices.DeleteFunc(r.queue, func(job *scriptJob) bool { return job.node == child })
		return child, true, nil
	}

	r.styles = slices.DeleteFunc(r.styles, func(rec *styleRecord) bool { return rec.node == child })

	container := r.app.Container()
	if container == nil || !container.Contains(child) {
		// removed while unmounting, or never inserted
		r.logger.Warning().Str(`tag`, child.TagName()).Log(`patcher: removed node not in container`)
		return child, true, nil
	}
	result, err := child.Parent().RawRemoveChild(child)
	return result, true, err
}

func (r *Registration) insertScript(mount, child, ref *dom.Node) (*dom.Node, bool, error) {
	src, external := child.Attr(`src`)

	text := `dynamic inline script replaced by microapp`
	if external {
		text = `dynamic script ` + src + ` replaced by microapp`
	}
	comment := r.d.host.Document().CreateComment(text)
	if _, err := mount.RawInsertBefore(comment, ref); err != nil {
		return nil, true, err
	}
	r.placeholders[child] = comment

	if !external {
		if err := r.app.Exec(child.TextContent(), ``); err != nil {
			r.logger.Err().Err(err).Log(`patcher: inline script failed`)
		}
		return child, true, nil
	}

	job := &scriptJob{node: child, src: src}
	ordered := !child.HasAttr(`async`)
	if ordered {
		r.queue = append(r.queue, job)
	}
	fetcher := r.app.Fetcher
	r.d.host.Background(func(ctx context.Context) (err error) {
		job.code, err = fetcher.Fetch(ctx, src)
		return
	}, func(err error) {
		job.err = err
		job.fetched = true
		if ordered {
			r.drain()
		} else {
			r.run(job)
		}
	})

	return child, true, nil
}

// drain runs the fetched scripts at the head of the queue, so external sync
// scripts execute in insertion order.
func (r *Registration) drain() {
	for len(r.queue) != 0 && r.queue[0].fetched {
		job := r.queue[0]
		r.queue = r.queue[1:]
		r.run(job)
	}
}

func (r *Registration) run(job *scriptJob) {
	event := `load`
	if job.err != nil {
		r.logger.Warning().Err(job.err).Str(`src`, job.src).Log(`patcher: failed to fetch script`)
		event = `error`
	} else if err := r.app.Exec(job.code, job.src); err != nil {
		r.logger.Err().Err(err).Str(`src`, job.src).Log(`patcher: script failed`)
		event = `error`
	}
	if err := r.d.host.DispatchEvent(job.node, event); err != nil {
		r.logger.Err().Err(err).Str(`src`, job.src).Str(`event`, event).Log(`patcher: event handler failed`)
	}
}
