package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/time/rate"

	"personachat/internal/chatlog"
	"personachat/internal/conversation"
	"personachat/internal/csrf"
	"personachat/internal/models"
	"personachat/internal/profile"
	"personachat/internal/render"
	"personachat/internal/worker"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const maxMessageLength = 4000

// ProfileLoader loads personas for the profile screen and full profiles for
// opening a chat.
type ProfileLoader interface {
	Persona(ctx context.Context, characterID string) (*models.Profile, error)
	Load(ctx context.Context, characterID string) (*models.Profile, error)
}

// ViewRegistry owns the open chat views.
type ViewRegistry interface {
	Open(p *models.Profile) (*worker.View, error)
	Get(viewID string) (*worker.View, error)
	Close(viewID string)
	Len() int
}

// Handler wires HTTP routes to the profile loader and the view registry.
type Handler struct {
	profiles  ProfileLoader
	views     ViewRegistry
	guard     *csrf.Guard
	limiter   *rate.Limiter
	logger    *slog.Logger
	templates *template.Template
}

// NewHandler constructs a Handler instance. limiter may be nil.
func NewHandler(profiles ProfileLoader, views ViewRegistry, guard *csrf.Guard, limiter *rate.Limiter, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"render": func(text string) template.HTML { return render.Render(text, models.SenderAssistant) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{
		profiles:  profiles,
		views:     views,
		guard:     guard,
		limiter:   limiter,
		logger:    logger,
		templates: tmpl,
	}, nil
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	static, err := fs.Sub(staticFS, "static")
	if err == nil {
		router.StaticFS("/static", http.FS(static))
	}
	router.GET("/healthz", h.health)
	router.GET("/", h.showProfile)

	chat := router.Group("/chat/views")
	chat.POST("", h.openView)
	chat.GET("/:view", h.showChat)
	chat.GET("/:view/state", h.viewState)
	guarded := chat.Group("/:view")
	guarded.Use(h.guard.Middleware())
	guarded.POST("/messages", h.postMessage)
	guarded.DELETE("", h.closeView)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "views": h.views.Len()})
}

type profilePage struct {
	CharacterID string
	Persona     *models.Profile
	Error       string
}

func (h *Handler) showProfile(c *gin.Context) {
	characterID, err := profile.ResolveCharacterID(c.Request.URL.Query())
	if err != nil {
		h.renderProfileError(c, characterID, err)
		return
	}
	persona, err := h.profiles.Persona(c.Request.Context(), characterID)
	if err != nil {
		h.renderProfileError(c, characterID, err)
		return
	}
	h.renderHTML(c, http.StatusOK, "profile.html", profilePage{CharacterID: characterID, Persona: persona})
}

func (h *Handler) renderProfileError(c *gin.Context, characterID string, err error) {
	status, msg := profile.Describe(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("profile load failed", "character", characterID, "error", err)
	}
	h.renderHTML(c, status, "profile.html", profilePage{CharacterID: characterID, Error: msg})
}

func (h *Handler) openView(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.renderHTML(c, http.StatusTooManyRequests, "profile.html", profilePage{Error: "Too many chats are being opened right now. Please try again in a moment."})
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		h.renderProfileError(c, "", profile.ErrMissingIdentity)
		return
	}
	characterID, err := profile.ResolveCharacterID(c.Request.Form)
	if err != nil {
		h.renderProfileError(c, "", err)
		return
	}
	p, err := h.profiles.Load(c.Request.Context(), characterID)
	if err != nil {
		h.renderProfileError(c, characterID, err)
		return
	}
	view, err := h.views.Open(p)
	if err != nil {
		if errors.Is(err, worker.ErrRegistryFull) {
			h.renderHTML(c, http.StatusServiceUnavailable, "profile.html", profilePage{CharacterID: characterID, Error: "The server is busy. Please try again later."})
			return
		}
		h.logger.Error("open view failed", "character", characterID, "error", err)
		h.renderHTML(c, http.StatusInternalServerError, "profile.html", profilePage{CharacterID: characterID, Error: "The chat could not be opened."})
		return
	}
	if _, err := h.guard.Ensure(c); err != nil {
		h.logger.Error("issue csrf token failed", "error", err)
	}
	c.Redirect(http.StatusSeeOther, "/chat/views/"+url.PathEscape(view.ID))
}

type chatPage struct {
	ViewID     string
	Persona    *models.Profile
	Snapshot   conversation.Snapshot
	CSRFHeader string
	CSRFCookie string
}

func (h *Handler) showChat(c *gin.Context) {
	view, err := h.views.Get(c.Param("view"))
	if err != nil {
		h.renderHTML(c, http.StatusNotFound, "profile.html", profilePage{Error: "This chat has expired. Please open it again from the profile page."})
		return
	}
	if _, err := h.guard.Ensure(c); err != nil {
		h.logger.Error("issue csrf token failed", "error", err)
	}
	h.renderHTML(c, http.StatusOK, "chat.html", chatPage{
		ViewID:     view.ID,
		Persona:    view.Persona,
		Snapshot:   view.Controller.Snapshot(),
		CSRFHeader: h.guard.HeaderName(),
		CSRFCookie: h.guard.CookieName(),
	})
}

func (h *Handler) viewState(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"view_id":      view.ID,
		"persona":      view.Persona,
		"conversation": view.Controller.Snapshot(),
	})
}

func (h *Handler) closeView(c *gin.Context) {
	h.views.Close(c.Param("view"))
	c.Status(http.StatusNoContent)
}

type messageRequest struct {
	Message  string            `json:"message"`
	Viewport *chatlog.Viewport `json:"viewport"`
}

func (r messageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.RuneLength(0, maxMessageLength)),
	)
}

func (h *Handler) postMessage(c *gin.Context) {
	view, ok := h.lookupView(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Viewport != nil {
		view.Controller.ObserveViewport(*req.Viewport)
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// the send outlives a dropped connection, so write failures only stop output
	broken := false
	sendEvent := func(event string, payload interface{}) error {
		if broken {
			return nil
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			broken = true
			return err
		}
		flusher.Flush()
		return nil
	}

	outcome := view.Controller.Submit(c.Request.Context(), req.Message, func(ev conversation.Event) {
		if err := sendEvent(string(ev.Type), ev); err != nil {
			h.logger.Debug("sse write failed", "view", view.ID, "error", err)
		}
	})
	h.logger.Info("message handled", "view", view.ID, "character", view.CharacterID, "outcome", outcome)
}

func (h *Handler) lookupView(c *gin.Context) (*worker.View, bool) {
	view, err := h.views.Get(c.Param("view"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return nil, false
	}
	return view, true
}

func (h *Handler) renderHTML(c *gin.Context, status int, name string, data interface{}) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := h.templates.ExecuteTemplate(c.Writer, name, data); err != nil {
		h.logger.Error("render template failed", "template", name, "error", err)
	}
}
