package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// printer writes command results as text or indented JSON.
type printer struct {
	w      io.Writer
	asJSON bool
}

func (o *rootOptions) printer(w io.Writer) printer {
	return printer{w: w, asJSON: o.v.GetString(keyOutput) == "json"}
}

// print writes v as JSON, or calls text to write it as text.
func (p printer) print(v any, text func(io.Writer)) error {
	if !p.asJSON {
		text(p.w)
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}
