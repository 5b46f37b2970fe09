package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/recovery"
)

// PaymentAdmin is the part of the billing service the admin routes use.
type PaymentAdmin interface {
	GetPaymentDetail(ctx context.Context, paymentID string) (*billing.PaymentDetail, error)
	Cancel(ctx context.Context, paymentID, reason string) (billing.Result, error)
}

// RecoveryRunner exposes the recovery jobs to operators.
type RecoveryRunner interface {
	Stats(ctx context.Context) (recovery.Stats, error)
	RunStuckSweepOnce(ctx context.Context) (recovery.JobStats, error)
	RunCleanupOnce(ctx context.Context) (recovery.JobStats, error)
}

// WebhookCounters reads the per-provider outcome counters.
type WebhookCounters interface {
	Snapshot(ctx context.Context, providers ...string) (map[string]map[string]int64, error)
}

// AdminController handles the operator API
type AdminController struct {
	payments PaymentAdmin
	recovery RecoveryRunner
	counters WebhookCounters
}

func NewAdminController(payments PaymentAdmin, runner RecoveryRunner, counters WebhookCounters) *AdminController {
	return &AdminController{payments: payments, recovery: runner, counters: counters}
}

// HandleWebhookStats returns webhook outcome counters per provider.
func (ac *AdminController) HandleWebhookStats(c *fiber.Ctx) error {
	if ac.counters == nil {
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{}})
	}
	snapshot, err := ac.counters.Snapshot(c.UserContext(), models.ProviderEpayco, models.ProviderDaimo)
	if err != nil {
		return ac.handleError(c, "Failed to load webhook counters", err)
	}
	return c.JSON(fiber.Map{"success": true, "data": snapshot})
}

// HandleRecoveryStats returns last-run metadata and the open payment backlog.
func (ac *AdminController) HandleRecoveryStats(c *fiber.Ctx) error {
	stats, err := ac.recovery.Stats(c.UserContext())
	if err != nil {
		return ac.handleError(c, "Failed to load recovery stats", err)
	}
	return c.JSON(fiber.Map{"success": true, "data": stats})
}

// HandleRunSweep triggers one stuck payment sweep.
func (ac *AdminController) HandleRunSweep(c *fiber.Ctx) error {
	return ac.runJob(c, recovery.JobStuckSweep, ac.recovery.RunStuckSweepOnce)
}

// HandleRunCleanup triggers one abandoned payment cleanup.
func (ac *AdminController) HandleRunCleanup(c *fiber.Ctx) error {
	return ac.runJob(c, recovery.JobAbandonCleanup, ac.recovery.RunCleanupOnce)
}

func (ac *AdminController) runJob(c *fiber.Ctx, name string, run func(context.Context) (recovery.JobStats, error)) error {
	stats, err := run(c.UserContext())
	if errors.Is(err, recovery.ErrJobRunning) {
		return respondError(c, fiber.StatusConflict, "job_running", "JOB_RUNNING")
	}
	if err != nil {
		log.Errorf("[Admin] manual %s run: %v", name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"data":    stats,
		})
	}
	log.Infof("[Admin] manual %s run processed=%d", name, stats.Processed)
	return c.JSON(fiber.Map{"success": true, "data": stats})
}

// HandlePaymentDetail returns a payment with its ledger entries.
func (ac *AdminController) HandlePaymentDetail(c *fiber.Ctx) error {
	detail, err := ac.payments.GetPaymentDetail(c.UserContext(), c.Params("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, fiber.StatusNotFound, "payment_not_found", billing.CodeUnresolved)
	}
	if err != nil {
		return ac.handleError(c, "Failed to load payment", err)
	}
	return c.JSON(fiber.Map{"success": true, "data": detail})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// HandleCancelPayment moves an open payment to cancelled.
func (ac *AdminController) HandleCancelPayment(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, "invalid_payload", billing.CodeValidation)
		}
	}

	res, err := ac.payments.Cancel(c.UserContext(), c.Params("id"), strings.TrimSpace(req.Reason))
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"success": true, "data": res})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return respondError(c, fiber.StatusNotFound, "payment_not_found", billing.CodeUnresolved)
	case billing.IsKind(err, billing.KindTerminalState):
		return respondError(c, fiber.StatusConflict, "payment_terminal", billing.CodeTerminalState)
	default:
		return ac.handleError(c, "Failed to cancel payment", err)
	}
}

// handleError is a helper method for consistent error handling
func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return respondError(c, fiber.StatusInternalServerError, message, "INTERNAL_ERROR")
}
