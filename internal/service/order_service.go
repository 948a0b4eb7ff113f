package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/format"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	kindOrder    = "order"
	kindFeedback = "feedback"
)

var productFields = []string{"id", "title", "price", "discount_price"}

// OrderService handles order and feedback submissions.
type OrderService struct {
	store     clients.ItemStore
	mailer    clients.NotificationSender
	ledger    repository.Ledger
	publisher events.Publisher
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *logging.LoggerV2
	now       func() time.Time

	notifications sync.WaitGroup
}

// NewOrderService creates a new order service.
func NewOrderService(
	store clients.ItemStore,
	mailer clients.NotificationSender,
	ledger repository.Ledger,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		store:     store,
		mailer:    mailer,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		config:    cfg,
		logger:    logging.NewLoggerV2("order-service"),
		now:       time.Now,
	}
}

// orderRun tracks how far one submission got.
type orderRun struct {
	submission *repository.Submission
	stage      repository.Stage
	orderID    models.ItemID
	lines      []models.PricedLine
	total      decimal.Decimal
}

// SubmitOrder prices a cart from the catalog and persists it as an order with its
// line items. Writes already made are left in place when a later step fails.
func (s *OrderService) SubmitOrder(ctx context.Context, req *models.SubmitOrderRequest, meta models.RequestMeta) (*models.SubmitOrderResult, error) {
	if err := ValidateSubmitOrderRequest(req); err != nil {
		s.metrics.ObserveSubmission(kindOrder, metrics.OutcomeValidation)
		return nil, err
	}

	// Once writes start they run to the end even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	s.logger.Info("Submitting order", logging.Fields{
		"request_id": meta.RequestID,
		"lines":      len(req.Items),
		"ad_source":  req.AdSource,
	})

	sub, err := s.ledger.Begin(ctx, meta.IdempotencyKey)
	if errors.Is(err, repository.ErrDuplicateSubmission) {
		return s.replay(sub, meta)
	}
	if err != nil {
		s.logger.Error("Failed to journal submission", logging.Fields{
			"request_id": meta.RequestID,
			"error":      err.Error(),
		})
		s.metrics.ObserveSubmission(kindOrder, metrics.OutcomeRemoteError)
		return nil, err
	}

	contact := normaliseContact(req)
	run := &orderRun{submission: sub, stage: repository.StageStarted}

	if err := s.execute(ctx, run, req, contact); err != nil {
		s.abort(ctx, run, err)
		s.metrics.ObserveSubmission(kindOrder, outcomeOf(err))
		return nil, err
	}

	if err := s.ledger.Complete(ctx, sub.ID); err != nil {
		s.logger.Warn("Failed to complete submission journal", logging.Fields{
			"submission_id": sub.ID,
			"error":         err.Error(),
		})
	}

	if s.config.Features.EnableOrderEvents {
		if err := s.publisher.PublishOrderSubmitted(ctx, run.orderID, events.OrderSubmitted{
			SubmissionID: sub.ID,
			TotalAmount:  models.Number(run.total),
			Lines:        len(run.lines),
			AdSource:     req.AdSource,
		}); err != nil {
			s.logger.Error("Failed to publish order submitted event", logging.Fields{
				"order_id": run.orderID,
				"error":    err.Error(),
			})
		}
	}

	s.metrics.ObserveSubmission(kindOrder, metrics.OutcomeSuccess)
	s.logger.Info("Order submitted", logging.Fields{
		"order_id":      run.orderID,
		"submission_id": sub.ID,
		"total":         run.total.String(),
	})

	order := models.Order{
		ID:       run.orderID,
		Name:     contact.Name,
		Phone:    contact.Phone,
		Email:    contact.Email,
		City:     contact.City,
		Notes:    contact.Notes,
		AdSource: req.AdSource,
		Amount:   run.total,
	}
	s.notify(ctx, BuildOrderNotification(order, req.UTM, run.lines, meta, s.config.Submission.CurrencySymbol), logging.Fields{
		"order_id": run.orderID,
	})

	return &models.SubmitOrderResult{OrderID: run.orderID, TotalAmount: run.total}, nil
}

// execute creates the header, writes every line item and then the amount. The
// header write and the catalog read do not depend on each other.
func (s *OrderService) execute(ctx context.Context, run *orderRun, req *models.SubmitOrderRequest, contact contactFields) error {
	var products []models.Product

	var g errgroup.Group
	g.Go(func() error {
		id, err := s.createHeader(ctx, contact, req.AdSource)
		if err != nil {
			return err
		}
		run.orderID = id
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = s.readProducts(ctx, productIDs(req.Items))
		return err
	})
	err := g.Wait()

	if run.orderID != "" {
		run.stage = repository.StageHeaderCreated
		s.advance(ctx, run)
	}
	if err != nil {
		return err
	}

	lines, total, err := PriceLines(req.Items, NewCatalog(products))
	if err != nil {
		return err
	}
	run.lines, run.total = lines, total

	if err := s.writeLines(ctx, run.orderID, lines); err != nil {
		return err
	}
	run.stage = repository.StageItemsWritten
	s.advance(ctx, run)

	if _, err := s.store.Update(ctx, models.CollectionOrders, run.orderID, map[string]any{
		"amount": models.Number(total),
	}); err != nil {
		return err
	}
	run.stage = repository.StagePriced
	s.advance(ctx, run)

	return nil
}

func (s *OrderService) createHeader(ctx context.Context, contact contactFields, adSource string) (models.ItemID, error) {
	rec, err := s.store.Create(ctx, models.CollectionOrders, map[string]any{
		"name":      contact.Name,
		"phone":     contact.Phone,
		"email":     contact.Email,
		"city":      contact.City,
		"notes":     contact.Notes,
		"ad_source": adSource,
		"amount":    models.Number(decimal.Zero),
	})
	if err != nil {
		return "", err
	}
	return rec.ID()
}

func (s *OrderService) readProducts(ctx context.Context, ids []models.ItemID) ([]models.Product, error) {
	records, err := s.store.List(ctx, models.CollectionProducts, clients.Query{
		Filter: clients.In("id", ids),
		Fields: productFields,
		Limit:  -1,
	})
	if err != nil {
		return nil, err
	}
	return clients.DecodeAll[models.Product](records)
}

// writeLines attempts every line even when a sibling fails and returns the first error.
func (s *OrderService) writeLines(ctx context.Context, orderID models.ItemID, lines []models.PricedLine) error {
	limit := s.config.Submission.MaxConcurrentWrites
	if limit < 1 {
		limit = max(len(lines), 1)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, line := range lines {
		line := line
		g.Go(func() error {
			_, err := s.store.Create(ctx, models.CollectionOrderItems, map[string]any{
				"order":    orderID,
				"product":  line.ProductID,
				"quantity": line.Quantity,
				"price":    models.Number(line.UnitPrice),
			})
			if err != nil {
				s.logger.Error("Failed to write order item", logging.Fields{
					"order_id":   orderID,
					"product_id": line.ProductID,
					"error":      err.Error(),
				})
			}
			return err
		})
	}
	return g.Wait()
}

func (s *OrderService) advance(ctx context.Context, run *orderRun) {
	if err := s.ledger.Advance(ctx, run.submission.ID, run.stage, run.orderID, run.total); err != nil {
		s.logger.Warn("Failed to journal submission stage", logging.Fields{
			"submission_id": run.submission.ID,
			"stage":         run.stage,
			"error":         err.Error(),
		})
	}
}

// abort journals the failure and, once a header exists, announces the order as
// incomplete so it can be reconciled.
func (s *OrderService) abort(ctx context.Context, run *orderRun, cause error) {
	ctx = context.WithoutCancel(ctx)

	s.logger.Error("Order submission failed", logging.Fields{
		"submission_id": run.submission.ID,
		"order_id":      run.orderID,
		"stage":         run.stage,
		"error":         cause.Error(),
	})

	if err := s.ledger.Fail(ctx, run.submission.ID, run.stage, cause); err != nil {
		s.logger.Warn("Failed to journal submission failure", logging.Fields{
			"submission_id": run.submission.ID,
			"error":         err.Error(),
		})
	}

	if run.orderID == "" || !s.config.Features.EnableOrderEvents {
		return
	}
	if err := s.publisher.PublishOrderIncomplete(ctx, run.orderID, events.OrderIncomplete{
		SubmissionID: run.submission.ID,
		Stage:        string(run.stage),
		Error:        cause.Error(),
	}); err != nil {
		s.logger.Error("Failed to publish order incomplete event", logging.Fields{
			"order_id": run.orderID,
			"error":    err.Error(),
		})
	}
}

func (s *OrderService) replay(sub *repository.Submission, meta models.RequestMeta) (*models.SubmitOrderResult, error) {
	s.metrics.ObserveSubmission(kindOrder, metrics.OutcomeDuplicate)

	if sub == nil || (sub.Stage != repository.StageCompleted && sub.Stage != repository.StagePriced) {
		s.logger.Warn("Submission already in progress", logging.Fields{
			"idempotency_key": meta.IdempotencyKey,
		})
		return nil, apperrors.ErrSubmissionInProgress
	}

	s.logger.Info("Replaying priced submission", logging.Fields{
		"idempotency_key": meta.IdempotencyKey,
		"order_id":        sub.OrderID,
	})
	return sub.Result(), nil
}

// SubmitFeedback records a callback or feedback request as an unpriced order header.
func (s *OrderService) SubmitFeedback(ctx context.Context, req *models.SubmitFeedbackRequest, meta models.RequestMeta) (*models.SubmitFeedbackResult, error) {
	if err := ValidateSubmitFeedbackRequest(req); err != nil {
		s.metrics.ObserveSubmission(kindFeedback, metrics.OutcomeValidation)
		return nil, err
	}

	requestType := req.Type
	if requestType == "" {
		requestType = models.FeedbackTypeCallback
	}
	status := req.Status
	if status == "" {
		status = models.FeedbackDefaultStatus
	}
	created := s.now().UTC()
	dateText := created.Format(time.RFC3339)
	if req.DateCreated != "" {
		dateText = req.DateCreated
		if parsed, err := models.ParseTimestamp(req.DateCreated); err == nil {
			created = parsed
		}
	}

	display := *req
	display.Name = format.Name(req.Name)
	_, display.Phone = format.Phone(req.Phone)

	s.logger.Info("Submitting feedback", logging.Fields{
		"request_id": meta.RequestID,
		"type":       requestType,
	})

	rec, err := s.store.Create(ctx, models.CollectionOrders, map[string]any{
		"name":      display.Name,
		"phone":     display.Phone,
		"email":     "",
		"city":      "",
		"notes":     fmt.Sprintf("TYPE: %s. Status: %s. Date: %s", requestType, status, dateText),
		"ad_source": models.FeedbackAdSource,
		"amount":    models.Number(decimal.Zero),
	})
	if err != nil {
		return nil, s.feedbackFailed(meta, err)
	}
	id, err := rec.ID()
	if err != nil {
		return nil, s.feedbackFailed(meta, err)
	}

	if s.config.Features.EnableOrderEvents {
		if err := s.publisher.PublishFeedbackSubmitted(ctx, id, events.FeedbackSubmitted{Type: requestType}); err != nil {
			s.logger.Error("Failed to publish feedback submitted event", logging.Fields{
				"feedback_id": id,
				"error":       err.Error(),
			})
		}
	}

	s.metrics.ObserveSubmission(kindFeedback, metrics.OutcomeSuccess)
	s.logger.Info("Feedback submitted", logging.Fields{"feedback_id": id})

	s.notify(ctx, BuildFeedbackNotification(id, &display, status, created), logging.Fields{"feedback_id": id})

	return &models.SubmitFeedbackResult{Success: true, FeedbackID: id}, nil
}

func (s *OrderService) feedbackFailed(meta models.RequestMeta, err error) error {
	s.logger.Error("Feedback submission failed", logging.Fields{
		"request_id": meta.RequestID,
		"error":      err.Error(),
	})
	s.metrics.ObserveSubmission(kindFeedback, metrics.OutcomeRemoteError)
	return err
}

// notify dispatches n to the operator in the background. Failures are logged and
// counted only.
func (s *OrderService) notify(ctx context.Context, n *models.Notification, fields logging.Fields) {
	n.From = s.config.SMTP.From
	if s.config.SMTP.Operator != "" {
		n.To = []string{s.config.SMTP.Operator}
	}

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()

		sendCtx := context.WithoutCancel(ctx)
		if timeout := s.config.Submission.NotificationTimeout; timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(sendCtx, timeout)
			defer cancel()
		}

		if err := s.mailer.Send(sendCtx, n); err != nil {
			s.metrics.ObserveNotificationFailure()
			logFields := logging.Fields{"subject": n.Subject, "error": err.Error()}
			for k, v := range fields {
				logFields[k] = v
			}
			s.logger.Error("Failed to send notification", logFields)
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (s *OrderService) Wait() {
	s.notifications.Wait()
}

func outcomeOf(err error) string {
	switch {
	case apperrors.IsValidation(err):
		return metrics.OutcomeValidation
	case apperrors.IsProductNotFound(err):
		return metrics.OutcomeProductNotFound
	default:
		return metrics.OutcomeRemoteError
	}
}
