package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ramsingla/acts-as-wiki/internal/records"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"go.uber.org/zap"
)

const (
	authorIDContextKey       = "wikirev_author_id"
	defaultHeartbeatInterval = 25 * time.Second
	currentVersionParam      = "current"
	orderAscending           = "asc"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingRecordsService = errors.New("records service dependency required")
	errMissingDispatcher     = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// AuthorTokenValidator resolves a bearer token to the author it was issued for.
type AuthorTokenValidator interface {
	ValidateToken(token string) (int64, error)
}

type Dependencies struct {
	Tokens            AuthorTokenValidator
	Records           *records.Service
	Events            *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Records == nil {
		return nil, errMissingRecordsService
	}
	if deps.Events == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		records:   deps.Records,
		events:    deps.Events,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/records/:type/:id", handler.handleGetRecord)
	router.GET("/records/:type/:id/events", handler.handleRecordEvents)
	router.GET("/records/:type/:id/fields/:field/revisions", handler.handleListRevisions)
	router.GET("/records/:type/:id/fields/:field/revisions/:version", handler.handleGetRevision)
	router.GET("/records/:type/:id/fields/:field/diff", handler.handleDiff)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/records/:type", handler.handleCreateRecord)
	protected.PATCH("/records/:type/:id", handler.handleUpdateRecord)
	protected.DELETE("/records/:type/:id", handler.handleDeleteRecord)
	protected.PUT("/records/:type/:id/fields/:field", handler.handleSaveField)
	protected.POST("/records/:type/:id/fields/:field/rollback", handler.handleRollback)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	tokens    AuthorTokenValidator
	records   *records.Service
	events    *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type fieldEditPayload struct {
	Data    *string `json:"data" binding:"required"`
	Summary *string `json:"summary"`
	Sources *string `json:"sources"`
}

type recordWritePayload struct {
	Attributes map[string]*string          `json:"attributes"`
	Fields     map[string]fieldEditPayload `json:"fields" binding:"omitempty,dive"`
}

type rollbackPayload struct {
	Version int64   `json:"version" binding:"required,min=1"`
	Summary *string `json:"summary"`
}

type historyQuery struct {
	After    int64  `form:"after" binding:"omitempty,min=0"`
	Before   int64  `form:"before" binding:"omitempty,min=0"`
	Order    string `form:"order" binding:"omitempty,oneof=asc desc"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Author   int64  `form:"author" binding:"omitempty,min=1"`
	Reverted *bool  `form:"reverted"`
}

type diffQuery struct {
	From int64 `form:"from" binding:"required,min=1"`
	To   int64 `form:"to" binding:"required,min=1"`
}

type revisionPayload struct {
	Version   int64     `json:"version"`
	AuthorID  int64     `json:"author_id"`
	Data      *string   `json:"data"`
	Summary   *string   `json:"summary"`
	Sources   *string   `json:"sources"`
	Reverted  bool      `json:"reverted"`
	CreatedAt time.Time `json:"created_at"`
}

type fieldPayload struct {
	Name      string     `json:"name"`
	Data      *string    `json:"data"`
	Version   int64      `json:"version"`
	AuthorID  int64      `json:"author_id,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type recordPayload struct {
	ID         int64              `json:"id"`
	Type       string             `json:"type"`
	Attributes map[string]*string `json:"attributes"`
	Fields     []fieldPayload     `json:"fields"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type recordWriteResponse struct {
	Record recordPayload     `json:"record"`
	Saved  []wiki.SavedField `json:"saved"`
}

type fieldSaveResponse struct {
	Field    string          `json:"field"`
	Created  bool            `json:"created"`
	Revision revisionPayload `json:"revision"`
}

func (h *httpHandler) handleCreateRecord(c *gin.Context) {
	authorID := c.GetInt64(authorIDContextKey)
	ownerType, err := records.NewOwnerType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_type"})
		return
	}
	var request recordWritePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.records.New(ownerType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.stageWrite(c, entry, authorID, request) {
		return
	}
	saved, err := h.records.Save(c.Request.Context(), entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondRecordWrite(c, http.StatusCreated, entry, saved)
}

func (h *httpHandler) handleUpdateRecord(c *gin.Context) {
	authorID := c.GetInt64(authorIDContextKey)
	entry, ok := h.loadEntry(c)
	if !ok {
		return
	}
	var request recordWritePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.stageWrite(c, entry, authorID, request) {
		return
	}
	saved, err := h.records.Save(c.Request.Context(), entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondRecordWrite(c, http.StatusOK, entry, saved)
}

func (h *httpHandler) handleGetRecord(c *gin.Context) {
	entry, ok := h.loadEntry(c)
	if !ok {
		return
	}
	payload, err := h.describeRecord(c.Request.Context(), entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	entry, ok := h.loadEntry(c)
	if !ok {
		return
	}
	if err := h.records.Destroy(c.Request.Context(), entry); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListRevisions(c *gin.Context) {
	proxy, ok := h.loadField(c)
	if !ok {
		return
	}
	var query historyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	criteria := revisions.Criteria{
		AfterVersion:  query.After,
		BeforeVersion: query.Before,
		AuthorID:      query.Author,
		Reverted:      query.Reverted,
		Limit:         query.Limit,
	}
	if query.Order == orderAscending {
		criteria.Order = revisions.Ascending
	}
	found, err := proxy.Find(c.Request.Context(), criteria)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]revisionPayload, 0, len(found))
	for _, revision := range found {
		response = append(response, toRevisionPayload(revision))
	}
	c.JSON(http.StatusOK, gin.H{"field": proxy.Field(), "revisions": response})
}

func (h *httpHandler) handleGetRevision(c *gin.Context) {
	proxy, ok := h.loadField(c)
	if !ok {
		return
	}
	ref, err := parseVersionRef(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}
	revision, found, err := proxy.Attributes(c.Request.Context(), ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}
	c.JSON(http.StatusOK, toRevisionPayload(revision))
}

func (h *httpHandler) handleDiff(c *gin.Context) {
	proxy, ok := h.loadField(c)
	if !ok {
		return
	}
	var query diffQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	changes, err := proxy.Diff(c.Request.Context(), query.From, query.To)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"field":   proxy.Field(),
		"from":    query.From,
		"to":      query.To,
		"changed": revisions.HasChanges(changes),
		"changes": changes,
	})
}

func (h *httpHandler) handleSaveField(c *gin.Context) {
	authorID := c.GetInt64(authorIDContextKey)
	proxy, ok := h.loadField(c)
	if !ok {
		return
	}
	var request fieldEditPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	proxy.Edit(wiki.Changes{Data: request.Data, AuthorID: &authorID, Summary: request.Summary, Sources: request.Sources})

	ctx := c.Request.Context()
	version, saved, err := proxy.Save(ctx, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !saved && len(proxy.Errors()) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": proxy.Errors()})
		return
	}
	status := http.StatusOK
	if saved {
		status = http.StatusCreated
		h.records.Tracker().Publish(proxy, version)
	}
	h.respondFieldSave(c, status, proxy, saved)
}

func (h *httpHandler) handleRollback(c *gin.Context) {
	authorID := c.GetInt64(authorIDContextKey)
	proxy, ok := h.loadField(c)
	if !ok {
		return
	}
	var request rollbackPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	version, saved, err := proxy.Rollback(c.Request.Context(), request.Version, wiki.AuthorID(authorID), request.Summary)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !saved {
		if missingVersion(proxy.Errors()) {
			c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": proxy.Errors()})
		return
	}
	h.records.Tracker().Publish(proxy, version)
	h.respondFieldSave(c, http.StatusCreated, proxy, true)
}

func (h *httpHandler) handleRecordEvents(c *gin.Context) {
	entry, ok := h.loadEntry(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, entry.OwnerType(), entry.ID())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, message)
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": time.Now().UTC()})
		}
		c.Writer.Flush()
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	authorID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(authorIDContextKey, authorID)
	c.Next()
}

// stageWrite copies plain attributes and tracked field edits onto entry.
func (h *httpHandler) stageWrite(c *gin.Context, entry *records.Entry, authorID int64, request recordWritePayload) bool {
	registry := h.records.Tracker().Registry()
	for name, value := range request.Attributes {
		if registry.Tracked(entry.OwnerType(), name) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tracked_attribute", "field": name})
			return false
		}
		entry.WriteAttribute(name, value)
	}
	for name, edit := range request.Fields {
		changes := wiki.Changes{Data: edit.Data, AuthorID: &authorID, Summary: edit.Summary, Sources: edit.Sources}
		if _, err := entry.Fields().Apply(name, changes); err != nil {
			h.respondError(c, err)
			return false
		}
	}
	return true
}

func (h *httpHandler) loadEntry(c *gin.Context) (*records.Entry, bool) {
	ownerType, err := records.NewOwnerType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_type"})
		return nil, false
	}
	id, err := records.ParseRecordID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_id"})
		return nil, false
	}
	entry, err := h.records.Find(c.Request.Context(), ownerType, id)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return entry, true
}

func (h *httpHandler) loadField(c *gin.Context) (*wiki.FieldProxy, bool) {
	entry, ok := h.loadEntry(c)
	if !ok {
		return nil, false
	}
	proxy, err := entry.Fields().Field(c.Param("field"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return proxy, true
}

func (h *httpHandler) describeRecord(ctx context.Context, entry *records.Entry) (recordPayload, error) {
	payload := recordPayload{
		ID:         entry.ID(),
		Type:       entry.OwnerType(),
		Attributes: entry.Attributes(),
		CreatedAt:  entry.CreatedAt(),
		UpdatedAt:  entry.UpdatedAt(),
	}
	for _, proxy := range entry.Fields().All() {
		field := fieldPayload{Name: proxy.Field(), Data: proxy.Target()}
		current, found, err := proxy.Attributes(ctx, revisions.Current)
		if err != nil {
			return recordPayload{}, err
		}
		if found {
			updatedAt := current.CreatedAt
			field.Version = current.Version
			field.AuthorID = current.AuthorID
			field.UpdatedAt = &updatedAt
		}
		payload.Fields = append(payload.Fields, field)
	}
	return payload, nil
}

func (h *httpHandler) respondRecordWrite(c *gin.Context, status int, entry *records.Entry, saved []wiki.SavedField) {
	payload, err := h.describeRecord(c.Request.Context(), entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if saved == nil {
		saved = []wiki.SavedField{}
	}
	c.JSON(status, recordWriteResponse{Record: payload, Saved: saved})
}

func (h *httpHandler) respondFieldSave(c *gin.Context, status int, proxy *wiki.FieldProxy, created bool) {
	current, _, err := proxy.Attributes(c.Request.Context(), revisions.Current)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, fieldSaveResponse{Field: proxy.Field(), Created: created, Revision: toRevisionPayload(current)})
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	var ownerErr *wiki.OwnerValidationError
	if errors.As(err, &ownerErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": ownerErr.Failures})
		return
	}

	status, reason := classifyError(err)
	body := gin.H{"error": reason}
	if status == http.StatusUnprocessableEntity {
		body["fields"] = revisions.FieldErrors(err)
	}
	var serviceErr *revisions.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, revisions.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, records.ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found"
	case errors.Is(err, wiki.ErrUntrackedOwnerType):
		return http.StatusNotFound, "untracked_record_type"
	case errors.Is(err, wiki.ErrUntrackedField):
		return http.StatusNotFound, "untracked_field"
	case errors.Is(err, revisions.ErrVersionNotFound), errors.Is(err, revisions.ErrSourceVersionNotFound):
		return http.StatusNotFound, "version_not_found"
	case errors.Is(err, revisions.ErrConstraintViolation):
		return http.StatusConflict, "conflict"
	case errors.Is(err, revisions.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func parseVersionRef(raw string) (revisions.Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, currentVersionParam) {
		return revisions.Current, nil
	}
	version, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || version <= 0 {
		return revisions.Ref{}, errors.New("version must be a positive integer or current")
	}
	return revisions.At(version), nil
}

func missingVersion(fieldErrors []revisions.FieldError) bool {
	for _, fieldErr := range fieldErrors {
		if fieldErr.Field == "version" && fieldErr.Reason == revisions.ReasonDoesNotExist {
			return true
		}
	}
	return false
}

func toRevisionPayload(revision revisions.Revision) revisionPayload {
	return revisionPayload{
		Version:   revision.Version,
		AuthorID:  revision.AuthorID,
		Data:      revision.Data,
		Summary:   revision.Summary,
		Sources:   revision.Sources,
		Reverted:  revision.Reverted,
		CreatedAt: revision.CreatedAt,
	}
}
