package entity

import (
	"context"

	"entityportal/pkg/rules"
)

type widgetData struct {
	ID   int
	Name string
	Tags []string
}

type widget struct {
	Base
	data  Fields[widgetData]
	parts *List[*part]
}

func newWidget(id int, name string) *widget {
	w := &widget{}
	w.Init(w, &w.data)
	w.data.V = widgetData{ID: id, Name: name}
	w.parts = NewList(newPart)
	if err := w.Own("Parts", w.parts); err != nil {
		panic(err)
	}
	w.ValidationRules().Add("Name", rules.StringRequired())
	w.CheckAllRules()
	return w
}

func (w *widget) IDValue() any { return w.data.V.ID }

func (w *widget) RuleEnv() map[string]any {
	return map[string]any{"Name": w.data.V.Name}
}

func (w *widget) Name() string { return ReadField(w, "Name", w.data.V.Name) }

func (w *widget) SetName(v string) error { return SetField(w, "Name", &w.data.V.Name, v) }

type partData struct {
	ID   int
	Name string
}

type part struct {
	Base
	data Fields[partData]
}

func newPart() *part {
	p := &part{}
	p.Init(p, &p.data)
	p.MarkAsChild()
	p.ValidationRules().Add("Name", rules.StringRequired())
	return p
}

func namedPart(id int, name string) *part {
	p := newPart()
	p.data.V = partData{ID: id, Name: name}
	p.CheckAllRules()
	return p
}

func oldPart(id int, name string) *part {
	p := namedPart(id, name)
	p.MarkOld()
	return p
}

func (p *part) IDValue() any { return p.data.V.ID }

func (p *part) RuleEnv() map[string]any {
	return map[string]any{"Name": p.data.V.Name}
}

func (p *part) SetName(v string) error { return SetField(p, "Name", &p.data.V.Name, v) }

type anonymous struct{}

func (anonymous) IDValue() any { return nil }

func names(l *List[*part]) []string {
	out := make([]string, 0, l.Len())
	for _, p := range l.Items() {
		out = append(out, p.data.V.Name)
	}
	return out
}

type recordingDispatcher struct {
	calls int
	seen  any
	out   any
	err   error
}

func (d *recordingDispatcher) Update(_ context.Context, obj any) (any, error) {
	d.calls++
	d.seen = obj
	if d.err != nil {
		return nil, d.err
	}
	if d.out != nil {
		return d.out, nil
	}
	return obj, nil
}
