package collector

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/meikuraledutech/checkpoint"
)

// Options configure the collector app.
type Options struct {
	// Token, when set, must be presented as a bearer token.
	Token string
	// BodyLimit caps request bodies in bytes. Zero keeps fiber's default.
	BodyLimit int
	Logger    zerolog.Logger
}

type handler struct {
	store Store
	token string
	log   zerolog.Logger
}

// New returns the collector HTTP app backed by store.
func New(store Store, opts Options) *fiber.App {
	h := &handler{store: store, token: opts.Token, log: opts.Logger}

	app := fiber.New(fiber.Config{
		AppName:     "checkpoint-collector",
		BodyLimit:   opts.BodyLimit,
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	app.Use(h.logRequests, h.authorize)

	// ── Traces ────────────────────────────────────────────────────────
	app.Post("/org/:org/traces", h.createTrace)
	app.Get("/org/:org/traces", h.listTraces)
	app.Get("/org/:org/traces/:id", h.getTrace)
	app.Put("/org/:org/traces/:id", h.updateTrace)
	app.Delete("/org/:org/traces/:id", h.deleteTrace)

	return app
}

func (h *handler) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("request")
	return err
}

func (h *handler) authorize(c fiber.Ctx) error {
	if h.token == "" {
		return c.Next()
	}
	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

// payload decodes a write body, gzip or plain JSON.
func payload(c fiber.Ctx) (*checkpoint.Payload, error) {
	p, err := checkpoint.DecodePayload(c.BodyRaw())
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if err := ValidatePayload(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *handler) createTrace(c fiber.Ctx) error {
	p, err := payload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	t, err := h.store.CreateTrace(c.Context(), NewTrace(c.Params("org"), p))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	h.log.Info().
		Str("org", t.Org).
		Str("trace", t.ID).
		Str("execution", t.ExecutionID).
		Msg("trace created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ack(t)})
}

func (h *handler) updateTrace(c fiber.Ctx) error {
	p, err := payload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	t := NewTrace(c.Params("org"), p)
	t.ID = c.Params("id")

	applied, err := h.store.UpdateTrace(c.Context(), t)
	if errors.Is(err, ErrTraceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "trace not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !applied {
		h.log.Debug().Str("trace", t.ID).Int("version", t.Version).Msg("stale checkpoint ignored")
	}
	return c.JSON(fiber.Map{"data": ack(t)})
}

func (h *handler) getTrace(c fiber.Ctx) error {
	t, err := h.store.GetTrace(c.Context(), c.Params("org"), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if t == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "trace not found"})
	}
	execution, err := checkpoint.DecodeExecution(t.RawExecution)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"trace": t, "execution": execution}})
}

func (h *handler) listTraces(c fiber.Ctx) error {
	traces, err := h.store.ListTraces(c.Context(), c.Params("org"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if traces == nil {
		traces = []Trace{}
	}
	return c.JSON(fiber.Map{"data": traces})
}

func (h *handler) deleteTrace(c fiber.Ctx) error {
	if err := h.store.DeleteTrace(c.Context(), c.Params("org"), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func ack(t *Trace) fiber.Map {
	return fiber.Map{
		"traceId":      t.ID,
		"executionId":  t.ExecutionID,
		"workflowName": t.WorkflowName,
		"version":      t.Version,
	}
}
