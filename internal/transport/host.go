package transport

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"entityportal/internal/portal"
	"entityportal/pkg/domain"
)

const maxRequestBytes = 8 << 20

// Headers a fronting authentication proxy sets for host authentication.
const (
	HeaderRemoteUser   = "X-Remote-User"
	HeaderRemoteGroups = "X-Remote-Groups"
)

// HostIdentity extracts the principal the hosting environment established
// for r. It returns nil for anonymous requests.
type HostIdentity func(r *http.Request) domain.Principal

// HeaderIdentity reads the user and comma separated groups set by a
// fronting authentication proxy.
func HeaderIdentity(r *http.Request) domain.Principal {
	user := strings.TrimSpace(r.Header.Get(HeaderRemoteUser))
	if user == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(r.Header.Get(HeaderRemoteGroups), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return domain.HostPrincipal{Username: user, Groups: groups}
}

// HandlerOption configures Handler.
type HandlerOption func(*server)

// WithHostIdentity sets how the principal of a host-authenticated call is
// established.
func WithHostIdentity(fn HostIdentity) HandlerOption {
	return func(s *server) { s.identity = fn }
}

// Handler exposes router to remote clients:
//
//	POST /portal/{operation}
//	GET  /healthz
//
// Calls arriving here are marked remote, so the router applies the
// configured principal checks. Under host authentication the principal
// comes from the HostIdentity option.
func Handler(router *portal.Router, logger *zap.SugaredLogger, opts ...HandlerOption) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	svr := &server{router: router, logger: logger}
	for _, opt := range opts {
		opt(svr)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", svr.getHealth).Methods("GET").Name("GetHealth")
	r.HandleFunc("/portal/{operation}", svr.postDispatch).Methods("POST").Name("PostDispatch")
	return r
}

type server struct {
	router   *portal.Router
	logger   *zap.SugaredLogger
	identity HostIdentity
}

// GET /healthz
func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// POST /portal/{operation}
func (s *server) postDispatch(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()

	op, err := domain.ParseOperation(mux.Vars(r)["operation"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reg := s.router.Registry()
	req, err := DecodeRequest(reg, op, raw)
	if err != nil {
		s.logger.Debugw("rejected portal request", "operation", op, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Context.Remote = true

	ctx := r.Context()
	if s.identity != nil {
		if p := s.identity(r); p != nil {
			ctx = portal.WithHostPrincipal(ctx, p)
		}
	}
	resp, callErr := s.router.Dispatch(ctx, req)
	out, err := EncodeResponse(reg, resp, callErr)
	if err != nil {
		s.logger.Errorw("encode portal response", "operation", op, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}
