// Package transport carries portal requests over HTTP: a client-side proxy
// and the host that feeds remote calls into a router.
package transport

import (
	stderrors "errors"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"entityportal/internal/portal"
	"entityportal/pkg/domain"
)

type principalWire struct {
	Kind  string   `json:"kind"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

type contextWire struct {
	Principal *principalWire `json:"principal,omitempty"`
	Client    portal.Bag     `json:"client,omitempty"`
	Global    portal.Bag     `json:"global,omitempty"`
	Locale    string         `json:"locale,omitempty"`
	UILocale  string         `json:"uiLocale,omitempty"`
}

type requestWire struct {
	Type     string          `json:"type"`
	Criteria json.RawMessage `json:"criteria,omitempty"`
	Object   json.RawMessage `json:"object,omitempty"`
	Context  contextWire     `json:"context"`
}

type errorWire struct {
	Code      domain.ErrorCode   `json:"code,omitempty"`
	Op        string             `json:"op,omitempty"`
	Message   string             `json:"message"`
	Broken    domain.BrokenRules `json:"brokenRules,omitempty"`
	Fault     bool               `json:"fault,omitempty"`
	Operation domain.Operation   `json:"operation,omitempty"`
	Hook      domain.Hook        `json:"hook,omitempty"`
	Type      string             `json:"type,omitempty"`
	Object    json.RawMessage    `json:"object,omitempty"`
}

type responseWire struct {
	Type   string          `json:"type,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
	Global portal.Bag      `json:"global,omitempty"`
	Error  *errorWire      `json:"error,omitempty"`
}

func encodePrincipal(p domain.Principal) *principalWire {
	if p == nil {
		return nil
	}
	w := &principalWire{Kind: p.AuthenticationType(), Name: p.Name()}
	if rl, ok := p.(domain.RoleLister); ok {
		w.Roles = rl.RoleNames()
	}
	return w
}

func decodePrincipal(w *principalWire) domain.Principal {
	if w == nil {
		return nil
	}
	if w.Kind == domain.AuthTypeCustom {
		return domain.NewBusinessPrincipal(w.Name, w.Roles...)
	}
	return domain.HostPrincipal{Username: w.Name, Groups: w.Roles}
}

func encodeObject(reg *portal.Registry, obj any) (string, json.RawMessage, error) {
	if obj == nil {
		return "", nil, nil
	}
	name, err := reg.NameOf(obj)
	if err != nil {
		return "", nil, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", nil, errors.Wrapf(err, "encode %s", name)
	}
	return name, raw, nil
}

// EncodeRequest renders req as a request body.
func EncodeRequest(reg *portal.Registry, req *portal.Request) ([]byte, error) {
	w := requestWire{Type: req.TypeName}
	if req.Object != nil {
		name, raw, err := encodeObject(reg, req.Object)
		if err != nil {
			return nil, err
		}
		w.Type, w.Object = name, raw
	}
	if req.Criteria != nil {
		raw, err := json.Marshal(req.Criteria)
		if err != nil {
			return nil, errors.Wrap(err, "encode criteria")
		}
		w.Criteria = raw
	}
	if dc := req.Context; dc != nil {
		w.Context = contextWire{
			Principal: encodePrincipal(dc.Principal),
			Client:    dc.Client,
			Global:    dc.Global,
			Locale:    dc.Locale.String(),
			UILocale:  dc.UILocale.String(),
		}
	}
	return json.Marshal(w)
}

// DecodeRequest parses a request body for operation op.
func DecodeRequest(reg *portal.Registry, op domain.Operation, body []byte) (*portal.Request, error) {
	var w requestWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, errors.Wrap(err, "decode request")
	}
	req := &portal.Request{Operation: op, TypeName: w.Type}
	switch op {
	case domain.OpUpdate, domain.OpExecute:
		if len(w.Object) == 0 {
			return nil, errors.Errorf("%s request without an object", op)
		}
		obj, err := reg.Decode(w.Type, w.Object)
		if err != nil {
			return nil, err
		}
		req.Object = obj
	default:
		info, err := reg.Lookup(w.Type)
		if err != nil {
			return nil, err
		}
		c, err := info.DecodeCriteria(w.Criteria)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s criteria", w.Type)
		}
		req.Criteria = c
	}

	locale, err := portal.ParseLocale(w.Context.Locale)
	if err != nil {
		return nil, errors.Wrap(err, "locale")
	}
	uiLocale, err := portal.ParseLocale(w.Context.UILocale)
	if err != nil {
		return nil, errors.Wrap(err, "ui locale")
	}
	req.Context = &portal.DispatchContext{
		Principal: decodePrincipal(w.Context.Principal),
		Client:    w.Context.Client,
		Global:    w.Context.Global,
		Locale:    locale,
		UILocale:  uiLocale,
	}
	return req, nil
}

func errorCode(err error) domain.ErrorCode {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	if stderrors.Is(err, domain.ErrNotSupported) {
		return domain.CodeUnsupportedOperation
	}
	return ""
}

func encodeError(reg *portal.Registry, err error) *errorWire {
	if sf, ok := domain.AsServerFault(err); ok {
		w := describe(sf.Cause)
		w.Fault = true
		w.Operation, w.Hook, w.Type = sf.Operation, sf.Hook, sf.Type
		if _, raw, encErr := encodeObject(reg, sf.Object); encErr == nil {
			w.Object = raw
		}
		return w
	}
	return describe(err)
}

func describe(err error) *errorWire {
	if err == nil {
		return &errorWire{}
	}
	var de *domain.Error
	if errors.As(err, &de) {
		w := &errorWire{Code: de.Code, Op: de.Op, Message: de.Message, Broken: de.Broken}
		if de.Err != nil {
			w.Message += ": " + de.Err.Error()
		}
		return w
	}
	return &errorWire{Code: errorCode(err), Message: err.Error()}
}

func decodeError(reg *portal.Registry, w *errorWire) error {
	var cause error = stderrors.New(w.Message)
	if w.Code != "" {
		cause = &domain.Error{Code: w.Code, Op: w.Op, Message: w.Message, Broken: w.Broken}
	}
	if !w.Fault {
		return cause
	}
	sf := &domain.ServerFault{Operation: w.Operation, Type: w.Type, Hook: w.Hook, Cause: cause}
	if len(w.Object) > 0 && w.Type != "" {
		if obj, err := reg.Decode(w.Type, w.Object); err == nil {
			sf.Object = obj
		}
	}
	return sf
}

// EncodeResponse renders the outcome of a dispatch. A non-nil callErr is
// carried in the error envelope.
func EncodeResponse(reg *portal.Registry, resp *portal.Response, callErr error) ([]byte, error) {
	var w responseWire
	if resp != nil {
		w.Global = resp.Global
	}
	if callErr != nil {
		w.Error = encodeError(reg, callErr)
		return json.Marshal(w)
	}
	if resp != nil {
		name, raw, err := encodeObject(reg, resp.Object)
		if err != nil {
			return nil, err
		}
		w.Type, w.Object = name, raw
	}
	return json.Marshal(w)
}

// DecodeResponse parses a response body. The call's own failure, if any,
// comes back as callErr alongside the response; err reports an unreadable
// body.
func DecodeResponse(reg *portal.Registry, body []byte) (resp *portal.Response, callErr error, err error) {
	var w responseWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, nil, errors.Wrap(err, "decode response")
	}
	resp = &portal.Response{Global: w.Global}
	if resp.Global == nil {
		resp.Global = portal.Bag{}
	}
	if w.Error != nil {
		return resp, decodeError(reg, w.Error), nil
	}
	if len(w.Object) > 0 {
		obj, err := reg.Decode(w.Type, w.Object)
		if err != nil {
			return nil, nil, err
		}
		resp.Object = obj
	}
	return resp, nil, nil
}
