package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/vaultic/skillbridge/internal/bridge"
	"github.com/vaultic/skillbridge/internal/delivery"
	"github.com/vaultic/skillbridge/internal/descriptor"
	"github.com/vaultic/skillbridge/internal/event"
	"github.com/vaultic/skillbridge/internal/manifest"
	"github.com/vaultic/skillbridge/internal/notifier"
	"github.com/vaultic/skillbridge/internal/policy"
	"go.uber.org/zap"
)

// Store is the persistence surface the handlers need. *store.Store
// satisfies it.
type Store interface {
	SaveSkill(ctx context.Context, d *descriptor.SkillDescriptor) error
	GetSkill(ctx context.Context, id string) (*descriptor.SkillDescriptor, error)
	ListSkills(ctx context.Context) ([]*descriptor.SkillDescriptor, error)

	SaveAttachment(ctx context.Context, a *policy.Attachment) error
	GetAttachment(ctx context.Context, id string) (*policy.Attachment, error)
	UpdatePermissions(ctx context.Context, id string, pm policy.PermissionMap) error
	DeleteAttachment(ctx context.Context, id string) error
	ListInvocations(ctx context.Context, attachmentID string, limit int) ([]*bridge.InvocationRecord, error)

	SaveSubscription(ctx context.Context, sub *delivery.Subscription) error
	ListSubscriptions(ctx context.Context, ownerID string) ([]*delivery.Subscription, error)
	ActivateSubscription(ctx context.Context, id string) error
	DeleteSubscription(ctx context.Context, id string) error
}

// Publisher enqueues lifecycle events. *event.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store    Store
	bridge   *bridge.Bridge
	events   Publisher
	notifier *notifier.Notifier
	logger   *zap.Logger

	// Compiled manifests cached by skill id + version (compilation is pure,
	// so a version-keyed cache is always valid).
	cacheMu sync.Mutex
	cache   map[string]*compiled
}

type compiled struct {
	manifest *manifest.ToolManifest
	card     *manifest.CapabilityCard
}

// NewHandler creates a new API handler.
func NewHandler(store Store, b *bridge.Bridge, events Publisher, n *notifier.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		store:    store,
		bridge:   b,
		events:   events,
		notifier: n,
		logger:   logger,
		cache:    make(map[string]*compiled),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Skill catalog routes
		r.Post("/skills", h.createSkill)
		r.Get("/skills", h.listSkills)
		r.Get("/skills/{id}", h.getSkill)
		r.Get("/skills/{id}/manifest", h.getManifest)
		r.Get("/skills/{id}/card", h.getCard)

		// Attachment routes
		r.Post("/attachments", h.createAttachment)
		r.Get("/attachments/{id}", h.getAttachment)
		r.Delete("/attachments/{id}", h.deleteAttachment)
		r.Put("/attachments/{id}/permissions", h.updatePermissions)
		r.Get("/attachments/{id}/invocations", h.listInvocations)

		// Invocation entrypoint
		r.Post("/invoke", h.invoke)

		// Event subscription routes
		r.Post("/subscriptions", h.createSubscription)
		r.Get("/subscriptions", h.listSubscriptions)
		r.Delete("/subscriptions/{id}", h.deleteSubscription)
		r.Post("/subscriptions/{id}/activate", h.activateSubscription)

		// Lifecycle event producer entrypoint
		r.Post("/events", h.publishEvent)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "skillbridge"})
}

// --- Skills ---

func (h *Handler) createSkill(w http.ResponseWriter, r *http.Request) {
	var d descriptor.SkillDescriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Version == "" {
		d.Version = "1"
	}

	// Compile up front so invalid descriptors are rejected at registration.
	if _, _, err := manifest.Compile(&d); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if err := h.store.SaveSkill(r.Context(), &d); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.publishLifecycle(r.Context(), &d, event.KindSkillPublished)
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := h.store.ListSkills(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if skills == nil {
		skills = []*descriptor.SkillDescriptor{}
	}
	writeJSON(w, http.StatusOK, skills)
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetSkill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// compile returns the cached compilation for a skill, compiling on miss.
func (h *Handler) compile(d *descriptor.SkillDescriptor) (*compiled, error) {
	key := d.ID + "@" + d.Version
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()
	if c, ok := h.cache[key]; ok {
		return c, nil
	}
	m, card, err := manifest.Compile(d)
	if err != nil {
		return nil, err
	}
	c := &compiled{manifest: m, card: card}
	h.cache[key] = c
	return c, nil
}

// getManifest serves the compiled tool manifest. No authentication: the
// manifest describes capabilities, it does not grant access.
func (h *Handler) getManifest(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetSkill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}
	c, err := h.compile(d)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c.manifest)
}

func (h *Handler) getCard(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetSkill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}
	c, err := h.compile(d)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(c.card.Render()))
}

func (h *Handler) publishLifecycle(ctx context.Context, d *descriptor.SkillDescriptor, kind string) {
	if h.notifier != nil {
		h.notifier.SkillLifecycle(ctx, kind, d.Name)
	}
	if h.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"skill_id": d.ID,
		"slug":     d.Slug,
		"version":  d.Version,
	})
	ev := &event.Event{OwnerID: d.Slug, Kind: kind, Payload: payload}
	if err := h.events.Publish(ctx, ev); err != nil {
		h.logger.Warn("lifecycle event publish failed",
			zap.String("skill", d.ID), zap.String("kind", kind), zap.Error(err))
	}
}

// --- Attachments ---

type attachmentCreateRequest struct {
	SkillID     string               `json:"skill_id"`
	AgentID     string               `json:"agent_id"`
	OwnerID     string               `json:"owner_id"`
	Permissions policy.PermissionMap `json:"permissions,omitempty"`
}

type attachmentCreateResponse struct {
	policy.Attachment
	Token string `json:"token"` // revealed exactly once
}

func (h *Handler) createAttachment(w http.ResponseWriter, r *http.Request) {
	var req attachmentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.SkillID == "" || req.AgentID == "" || req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "skill_id, agent_id and owner_id are required"})
		return
	}
	if err := validatePermissions(req.Permissions); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := h.store.GetSkill(r.Context(), req.SkillID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}

	token, err := newSecret()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	perms := req.Permissions
	if perms == nil {
		perms = policy.PermissionMap{}
	}
	att := policy.Attachment{
		ID:          uuid.New().String(),
		SkillID:     req.SkillID,
		AgentID:     req.AgentID,
		OwnerID:     req.OwnerID,
		TokenHash:   bridge.HashToken(token),
		Permissions: perms,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := h.store.SaveAttachment(r.Context(), &att); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, attachmentCreateResponse{Attachment: att, Token: token})
}

func (h *Handler) getAttachment(w http.ResponseWriter, r *http.Request) {
	att, err := h.store.GetAttachment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachment not found"})
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAttachment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachment not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	var pm policy.PermissionMap
	if err := json.NewDecoder(r.Body).Decode(&pm); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := validatePermissions(pm); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.store.UpdatePermissions(r.Context(), chi.URLParam(r, "id"), pm); err != nil {
		if errors.Is(err, policy.ErrAttachmentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachment not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) listInvocations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListInvocations(r.Context(), chi.URLParam(r, "id"), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []*bridge.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func validatePermissions(pm policy.PermissionMap) error {
	for op, d := range pm {
		if !d.Valid() {
			return errors.New("invalid disposition " + string(d) + " for operation " + op)
		}
	}
	return nil
}

// --- Invocation ---

type invokeRequest struct {
	AttachmentID string                 `json:"attachment_id"`
	Operation    string                 `json:"operation"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
}

type invokeError struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	AttachmentID string `json:"attachment_id"`
	Operation    string `json:"operation"`
	Disposition  string `json:"disposition,omitempty"`
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bearer credential required"})
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.AttachmentID == "" || req.Operation == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "attachment_id and operation are required"})
		return
	}

	result, err := h.bridge.Invoke(r.Context(), token, req.AttachmentID, req.Operation, req.Arguments)
	if err != nil {
		h.writeInvokeError(w, &req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeInvokeError maps the bridge error taxonomy onto HTTP statuses. The
// response always echoes attachment id and operation so the agent runtime
// can correlate it.
func (h *Handler) writeInvokeError(w http.ResponseWriter, req *invokeRequest, err error) {
	out := invokeError{
		Error:        err.Error(),
		AttachmentID: req.AttachmentID,
		Operation:    req.Operation,
	}

	var dispErr *bridge.DispositionError
	if errors.As(err, &dispErr) {
		out.Disposition = string(dispErr.Disposition)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, policy.ErrAttachmentNotFound):
		status, out.Kind = http.StatusNotFound, "attachment_not_found"
	case errors.Is(err, bridge.ErrUnauthorized):
		status, out.Kind = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, bridge.ErrPermissionDenied):
		status, out.Kind = http.StatusForbidden, "permission_denied"
	case errors.Is(err, bridge.ErrConfirmationRequired):
		status, out.Kind = http.StatusConflict, "confirmation_required"
	case errors.Is(err, bridge.ErrBackendUnavailable):
		status, out.Kind = http.StatusBadGateway, "backend_unavailable"
		if strings.Contains(err.Error(), "timeout") {
			status = http.StatusGatewayTimeout
		}
	case errors.Is(err, context.Canceled):
		status, out.Kind = 499, "cancelled" // client closed request
	default:
		out.Kind = "internal"
	}
	writeJSON(w, status, out)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// --- Subscriptions ---

type subscriptionCreateRequest struct {
	OwnerID  string   `json:"owner_id"`
	Endpoint string   `json:"endpoint"`
	Kinds    []string `json:"kinds"`
}

type subscriptionCreateResponse struct {
	delivery.Subscription
	Secret string `json:"secret"` // revealed exactly once
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.OwnerID == "" || req.Endpoint == "" || len(req.Kinds) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id, endpoint and kinds are required"})
		return
	}

	secret, err := newSecret()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	sub := delivery.Subscription{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		Endpoint:  req.Endpoint,
		Kinds:     req.Kinds,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.SaveSubscription(r.Context(), &sub); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionCreateResponse{Subscription: sub, Secret: secret})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}
	subs, err := h.store.ListSubscriptions(r.Context(), ownerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if subs == nil {
		subs = []*delivery.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ActivateSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// --- Events ---

type eventPublishRequest struct {
	OwnerID string          `json:"owner_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req eventPublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.OwnerID == "" || req.Kind == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id and kind are required"})
		return
	}
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not initialized"})
		return
	}

	ev := &event.Event{OwnerID: req.OwnerID, Kind: req.Kind, Payload: req.Payload}
	if err := h.events.Publish(r.Context(), ev); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued", "event_id": ev.ID})
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
