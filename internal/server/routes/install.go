package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/shellcache/shellcache/internal/installprompt"
)

// RegisterInstallRoutes 暴露安装横幅会话接口：创建会话、查询状态、上报事件。
func RegisterInstallRoutes(app *fiber.App, controller *installprompt.Controller) {
	if app == nil || controller == nil {
		return
	}

	app.Post("/-/install/sessions", func(c fiber.Ctx) error {
		var opts installprompt.SessionOptions
		if len(c.Body()) > 0 {
			if err := c.Bind().JSON(&opts); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
			}
		}
		if opts.UserAgent == "" {
			opts.UserAgent = c.Get(fiber.HeaderUserAgent)
		}
		return c.Status(fiber.StatusCreated).JSON(controller.NewSession(opts))
	})

	app.Get("/-/install/sessions/:id", func(c fiber.Ctx) error {
		view, err := controller.Get(c.Params("id"))
		if err != nil {
			return renderInstallError(c, err)
		}
		return c.JSON(view)
	})

	app.Post("/-/install/sessions/:id/events", func(c fiber.Ctx) error {
		var ev installprompt.Event
		if err := c.Bind().JSON(&ev); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		view, err := controller.Apply(c.Params("id"), ev)
		if err != nil {
			return renderInstallError(c, err)
		}
		return c.JSON(view)
	})
}

func renderInstallError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, installprompt.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session_not_found"})
	case errors.Is(err, installprompt.ErrNoDeferredPrompt):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_deferred_prompt"})
	case errors.Is(err, installprompt.ErrUnknownEvent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_event"})
	case errors.Is(err, installprompt.ErrInvalidOutcome):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_outcome"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "install_session_failed"})
	}
}
