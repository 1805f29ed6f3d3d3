// Package handler exposes the registry over HTTP under /v1.
//
// Queries are public. Mutations require a bearer token; the caller address
// it carries is what the service authorizes against registry state.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"soulid/internal/identity/models"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/httputil"
	authmw "soulid/pkg/platform/middleware/auth"
	"soulid/pkg/platform/middleware/metadata"
	request "soulid/pkg/platform/middleware/request"
	"soulid/pkg/platform/middleware/requesttime"
	"soulid/pkg/requestcontext"
)

const (
	defaultEventLimit = 100
)

// Service is the registry facade the handler drives.
type Service interface {
	Mint(ctx context.Context, caller, holder id.Address) (*models.Identity, error)
	MintWithName(ctx context.Context, caller, holder id.Address, name string, years int, metadataURI string) (*models.MintResult, error)
	Burn(ctx context.Context, caller id.Address, identityID id.IdentityID) error
	RegisterName(ctx context.Context, caller id.Address, identityID id.IdentityID, name string, years int, metadataURI string) (*models.NameBinding, error)
	ExtendName(ctx context.Context, caller id.Address, identityID id.IdentityID, years int) (*models.NameBinding, error)
	RenameName(ctx context.Context, caller id.Address, identityID id.IdentityID, newName string) (*models.NameBinding, error)
	SetMetadataURI(ctx context.Context, caller id.Address, identityID id.IdentityID, metadataURI string) (*models.NameBinding, error)
	SetNameRegistry(ctx context.Context, caller id.Address, namespace string) error
	TransferOperator(ctx context.Context, caller, next id.Address) error

	IsAvailable(ctx context.Context, name string) (bool, error)
	Identity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	IdentityOf(ctx context.Context, holder id.Address) (*models.Identity, error)
	ResolveName(ctx context.Context, name string) (*models.TokenData, error)
	NamesOfIdentity(ctx context.Context, identityID id.IdentityID) ([]string, error)
	NamesOfHolder(ctx context.Context, holder id.Address) ([]string, error)
	URIForID(ctx context.Context, identityID id.IdentityID) (string, error)
	URIForName(ctx context.Context, name string) (string, error)
	URIForHolder(ctx context.Context, holder id.Address) (string, error)
	Count(ctx context.Context) (uint64, error)
	TokenByIndex(ctx context.Context, index uint64) (id.IdentityID, error)
	BalanceOf(ctx context.Context, holder id.Address) (uint64, error)
	Info(ctx context.Context) (*models.CollectionInfo, error)
	Events(ctx context.Context, after uint64, limit int) ([]*models.Event, error)
}

// Handler serves the registry API.
type Handler struct {
	service  Service
	verifier authmw.CallerVerifier
	logger   *slog.Logger
	clock    func() time.Time
}

type Option func(*Handler)

// WithClock sets the source of each request's pinned time.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.clock = now
		}
	}
}

// New creates a registry Handler.
func New(service Service, verifier authmw.CallerVerifier, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the registry routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	v1 := chi.NewRouter()
	v1.Use(request.Recovery(h.logger))
	v1.Use(request.RequestID)
	v1.Use(metadata.ClientMetadata)
	v1.Use(request.Logger(h.logger))
	v1.Use(requesttime.WithClock(h.clock))
	v1.Use(apiVersion(id.APIVersionV1))

	v1.Get("/names/{name}", h.handleResolveName)
	v1.Get("/names/{name}/available", h.handleIsAvailable)
	v1.Get("/names/{name}/uri", h.handleURIForName)
	v1.Get("/identities", h.handleTokenByIndex)
	v1.Get("/identities/count", h.handleCount)
	v1.Get("/identities/{id}", h.handleGetIdentity)
	v1.Get("/identities/{id}/names", h.handleNamesOfIdentity)
	v1.Get("/identities/{id}/uri", h.handleURIForID)
	v1.Get("/holders/{address}", h.handleIdentityOf)
	v1.Get("/holders/{address}/names", h.handleNamesOfHolder)
	v1.Get("/holders/{address}/uri", h.handleURIForHolder)
	v1.Get("/holders/{address}/balance", h.handleBalanceOf)
	v1.Get("/registry", h.handleInfo)
	v1.Get("/events", h.handleEvents)

	v1.Group(func(r chi.Router) {
		r.Use(authmw.RequireCaller(h.verifier, h.logger))
		r.Post("/identities", h.handleMint)
		r.Delete("/identities/{id}", h.handleBurn)
		r.Post("/identities/{id}/name", h.handleRegisterName)
		r.Put("/identities/{id}/name", h.handleRenameName)
		r.Post("/identities/{id}/name/extend", h.handleExtendName)
		r.Put("/identities/{id}/name/metadata", h.handleSetMetadataURI)
		r.Put("/registry/names", h.handleSetNameRegistry)
		r.Put("/registry/operator", h.handleTransferOperator)
	})

	r.Mount(id.APIVersionV1.Prefix(), v1)
}

type identityResponse struct {
	*models.Identity
	URI string `json:"uri,omitempty"`
}

type availabilityResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type namesResponse struct {
	Names []string `json:"names"`
}

type uriResponse struct {
	URI string `json:"uri"`
}

type countResponse struct {
	Count uint64 `json:"count"`
}

type indexResponse struct {
	Index      uint64        `json:"index"`
	IdentityID id.IdentityID `json:"identity_id"`
}

type balanceResponse struct {
	Holder  id.Address `json:"holder"`
	Balance uint64     `json:"balance"`
}

type eventsResponse struct {
	Events []*models.Event `json:"events"`
	Next   uint64          `json:"next"`
}

// fail logs err at a level matching its code and writes the error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	attrs := []any{
		"operation", operation,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeInvariantViolation:
		h.logger.ErrorContext(ctx, "registry request failed", attrs...)
	default:
		h.logger.WarnContext(ctx, "registry request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) identityParam(w http.ResponseWriter, r *http.Request) (id.IdentityID, bool) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return identityID, true
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	holder, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return holder, true
}

func uintQuery(r *http.Request, key string) (uint64, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, true, dErrors.New(dErrors.CodeInvalidInput, key+" must be a non-negative integer")
	}
	return n, true, nil
}

// Queries

func (h *Handler) handleIsAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	available, err := h.service.IsAvailable(ctx, name)
	if err != nil {
		h.fail(ctx, w, "is_available", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, availabilityResponse{Name: name, Available: available})
}

func (h *Handler) handleResolveName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := h.service.ResolveName(ctx, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(ctx, w, "resolve_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

func (h *Handler) handleURIForName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, err := h.service.URIForName(ctx, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(ctx, w, "uri_for_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, uriResponse{URI: link})
}

func (h *Handler) handleTokenByIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, ok, err := uintQuery(r, "index")
	if err == nil && !ok {
		err = dErrors.New(dErrors.CodeInvalidInput, "index is required")
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identityID, err := h.service.TokenByIndex(ctx, index)
	if err != nil {
		h.fail(ctx, w, "token_by_index", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, indexResponse{Index: index, IdentityID: identityID})
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.service.Count(ctx)
	if err != nil {
		h.fail(ctx, w, "count", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countResponse{Count: count})
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	identity, err := h.service.Identity(ctx, identityID)
	if err != nil {
		h.fail(ctx, w, "identity", err)
		return
	}
	link, err := h.service.URIForID(ctx, identityID)
	if err != nil {
		h.fail(ctx, w, "identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identityResponse{Identity: identity, URI: link})
}

func (h *Handler) handleNamesOfIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	found, err := h.service.NamesOfIdentity(ctx, identityID)
	if err != nil {
		h.fail(ctx, w, "names_of_identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, namesResponse{Names: found})
}

func (h *Handler) handleURIForID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	link, err := h.service.URIForID(ctx, identityID)
	if err != nil {
		h.fail(ctx, w, "uri_for_id", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, uriResponse{URI: link})
}

func (h *Handler) handleIdentityOf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	identity, err := h.service.IdentityOf(ctx, holder)
	if err != nil {
		h.fail(ctx, w, "identity_of", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identityResponse{Identity: identity})
}

func (h *Handler) handleNamesOfHolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	found, err := h.service.NamesOfHolder(ctx, holder)
	if err != nil {
		h.fail(ctx, w, "names_of_holder", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, namesResponse{Names: found})
}

func (h *Handler) handleURIForHolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	link, err := h.service.URIForHolder(ctx, holder)
	if err != nil {
		h.fail(ctx, w, "uri_for_holder", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, uriResponse{URI: link})
}

func (h *Handler) handleBalanceOf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	balance, err := h.service.BalanceOf(ctx, holder)
	if err != nil {
		h.fail(ctx, w, "balance_of", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse{Holder: holder, Balance: balance})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := h.service.Info(ctx)
	if err != nil {
		h.fail(ctx, w, "info", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	after, _, err := uintQuery(r, "after")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, set, err := uintQuery(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !set || limit == 0 {
		limit = defaultEventLimit
	}
	page, err := h.service.Events(ctx, after, int(min(limit, 1<<20)))
	if err != nil {
		h.fail(ctx, w, "events", err)
		return
	}
	next := after
	if len(page) > 0 {
		next = page[len(page)-1].Seq
	}
	httputil.WriteJSON(w, http.StatusOK, eventsResponse{Events: page, Next: next})
}

// Mutations

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	caller := requestcontext.Caller(ctx)
	if req.Name == "" {
		identity, err := h.service.Mint(ctx, caller, req.holder)
		if err != nil {
			h.fail(ctx, w, "mint", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, models.MintResult{Identity: identity})
		return
	}
	result, err := h.service.MintWithName(ctx, caller, req.holder, req.Name, req.Years, req.MetadataURI)
	if err != nil {
		h.fail(ctx, w, "mint_with_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleBurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Burn(ctx, requestcontext.Caller(ctx), identityID); err != nil {
		h.fail(ctx, w, "burn", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRegisterName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegisterNameRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	binding, err := h.service.RegisterName(ctx, requestcontext.Caller(ctx), identityID, req.Name, req.Years, req.MetadataURI)
	if err != nil {
		h.fail(ctx, w, "register_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, binding)
}

func (h *Handler) handleExtendName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ExtendNameRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	binding, err := h.service.ExtendName(ctx, requestcontext.Caller(ctx), identityID, req.Years)
	if err != nil {
		h.fail(ctx, w, "extend_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, binding)
}

func (h *Handler) handleRenameName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RenameRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	binding, err := h.service.RenameName(ctx, requestcontext.Caller(ctx), identityID, req.Name)
	if err != nil {
		h.fail(ctx, w, "rename_name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, binding)
}

func (h *Handler) handleSetMetadataURI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, ok := h.identityParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[MetadataRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	binding, err := h.service.SetMetadataURI(ctx, requestcontext.Caller(ctx), identityID, req.MetadataURI)
	if err != nil {
		h.fail(ctx, w, "set_metadata_uri", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, binding)
}

func (h *Handler) handleSetNameRegistry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[NameRegistryRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetNameRegistry(ctx, requestcontext.Caller(ctx), req.Namespace); err != nil {
		h.fail(ctx, w, "set_name_registry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransferOperator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[OperatorRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.TransferOperator(ctx, requestcontext.Caller(ctx), req.operator); err != nil {
		h.fail(ctx, w, "transfer_operator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiVersion stamps responses with the version of the route family that
// served them.
func apiVersion(v id.APIVersion) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("API-Version", v.String())
			next.ServeHTTP(w, r)
		})
	}
}
