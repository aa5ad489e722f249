package devapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sessionkit/internal/authclient"
	dErrors "sessionkit/pkg/domain-errors"
	"sessionkit/pkg/platform/httputil"
	"sessionkit/pkg/platform/middleware/auth"
	"sessionkit/pkg/platform/middleware/request"
)

// Handler serves the auth REST contract.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the auth routes. requireAuth guards the bearer routes.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Post(authclient.RouteLogin, h.HandleLogin)
	r.Post(authclient.RouteSignup, h.HandleSignup)
	r.Post(authclient.RouteRefresh, h.HandleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get(authclient.RouteMe, h.HandleMe)
		r.Post(authclient.RouteSwitchCompany, h.HandleSwitchCompany)
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, request.ID(ctx))
	if !ok {
		return
	}
	res, err := h.svc.Login(ctx, *req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SignupRequest](w, r, h.logger, request.ID(ctx))
	if !ok {
		return
	}
	res, err := h.svc.Signup(ctx, *req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RefreshRequest](w, r, h.logger, request.ID(ctx))
	if !ok {
		return
	}
	res, err := h.svc.Refresh(ctx, *req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := auth.FromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			"request_id", request.ID(ctx))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	user, err := h.svc.Me(ctx, principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleSwitchCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[SwitchCompanyRequest](w, r, h.logger, request.ID(ctx))
	if !ok {
		return
	}
	res, err := h.svc.SwitchCompany(ctx, principal, *req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
