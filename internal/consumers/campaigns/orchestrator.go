// Package campaigns runs the delivery orchestrator: it consumes campaign
// jobs one at a time, resolves the audience, and dispatches personalized
// messages through the vendor adapter.
package campaigns

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/internal/segments"
	"github.com/echocrm/backend/internal/vendor"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/metrics"
)

const fallbackName = "Valued Customer"

var (
	namePlaceholder  = regexp.MustCompile(`(?i)\{\{name\}\}`)
	emailPlaceholder = regexp.MustCompile(`(?i)\{\{email\}\}`)
)

type campaignResolver interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CampaignStatus) error
}

type audienceFinder interface {
	FindMatching(ctx context.Context, pred segments.Predicate, now time.Time) ([]models.Customer, error)
}

type deliveryWriter interface {
	CreatePending(ctx context.Context, log *models.DeliveryLog) (*models.DeliveryLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Orchestrator consumes campaign jobs with a prefetch of one, serializing
// campaign processing globally while per-recipient idempotency rests on the
// delivery log's unique (campaign, customer) pair.
type Orchestrator struct {
	campaigns campaignResolver
	audience  audienceFinder
	logs      deliveryWriter
	sender    vendor.Sender
	logg      *logger.Logger
	metrics   *metrics.ConsumerMetrics
	queue     string
	prefetch  int
	now       func() time.Time
}

// NewOrchestrator builds the campaign delivery orchestrator.
func NewOrchestrator(campaigns campaignResolver, audience audienceFinder, logs deliveryWriter, sender vendor.Sender, logg *logger.Logger, consumerMetrics *metrics.ConsumerMetrics, queue string, prefetch int) (*Orchestrator, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository required")
	}
	if audience == nil {
		return nil, fmt.Errorf("audience finder required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if sender == nil {
		return nil, fmt.Errorf("vendor sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Orchestrator{
		campaigns: campaigns,
		audience:  audience,
		logs:      logs,
		sender:    sender,
		logg:      logg,
		metrics:   consumerMetrics,
		queue:     queue,
		prefetch:  prefetch,
		now:       time.Now,
	}, nil
}

// Run blocks consuming the campaign queue until the context is canceled or
// the delivery stream drops.
func (o *Orchestrator) Run(ctx context.Context, client *broker.Client) error {
	return client.Consume(ctx, o.queue, o.prefetch, o.Handle)
}

// Handle delivers one campaign end to end. Vendor failures are terminal per
// recipient and never abort the rest of the audience.
func (o *Orchestrator) Handle(ctx context.Context, body []byte) broker.AckPolicy {
	logCtx := o.logg.WithQueue(ctx, o.queue)

	var job events.CampaignJob
	if err := json.Unmarshal(body, &job); err != nil {
		o.logg.Error(logCtx, "failed to decode campaign job", err)
		o.metrics.IncDropped(o.queue)
		return broker.DropNack
	}
	campaignID, err := uuid.Parse(job.CampaignDefinitionID)
	if err != nil {
		o.logg.Error(logCtx, "campaign job carries a malformed id", err)
		o.metrics.IncDropped(o.queue)
		return broker.DropNack
	}

	logCtx = o.logg.WithCampaignID(logCtx, campaignID.String())

	campaign, err := o.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		o.logg.Error(logCtx, "failed to resolve campaign for delivery", err)
		o.metrics.IncDropped(o.queue)
		return broker.DropNack
	}

	pred := segments.Compile(campaign.Rules)
	audience, err := o.audience.FindMatching(ctx, pred, o.now())
	if err != nil {
		o.logg.Error(logCtx, "failed to resolve campaign audience", err)
		o.metrics.IncDropped(o.queue)
		return broker.DropNack
	}

	if len(audience) == 0 {
		o.logg.Info(logCtx, "campaign audience is empty, nothing to deliver")
		o.complete(ctx, logCtx, campaignID)
		o.metrics.IncProcessed(o.queue)
		return broker.Ack
	}

	sent, failed, skipped := 0, 0, 0
	for i := range audience {
		customer := &audience[i]
		message := RenderTemplate(campaign.MessageTemplate, customer)

		log, err := o.logs.CreatePending(ctx, &models.DeliveryLog{
			ID:         uuid.New(),
			CampaignID: campaignID,
			CustomerID: customer.ID,
			Message:    message,
			Status:     enums.DeliveryStatusPending,
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				// Another run of this job already handled the pair.
				skipped++
				continue
			}
			o.logg.Error(o.logg.WithCustomerID(logCtx, customer.ID.String()), "failed to create delivery log", err)
			failed++
			continue
		}

		if err := o.sender.Send(ctx, log.ID.String(), customer.Email, message); err != nil {
			if markErr := o.logs.MarkFailed(ctx, log.ID, err.Error()); markErr != nil {
				o.logg.Error(o.logg.WithCustomerID(logCtx, customer.ID.String()), "failed to record vendor failure", markErr)
			}
			failed++
			continue
		}
		sent++
	}

	o.logg.Info(o.logg.WithFields(logCtx, map[string]any{
		"audience": len(audience),
		"sent":     sent,
		"failed":   failed,
		"skipped":  skipped,
	}), "campaign delivery finished")

	o.complete(ctx, logCtx, campaignID)
	o.metrics.IncProcessed(o.queue)
	return broker.Ack
}

func (o *Orchestrator) complete(ctx context.Context, logCtx context.Context, campaignID uuid.UUID) {
	if err := o.campaigns.UpdateStatus(ctx, campaignID, enums.CampaignStatusCompleted); err != nil {
		o.logg.Error(logCtx, "failed to mark campaign completed", err)
	}
}

// RenderTemplate substitutes the {{name}} and {{email}} placeholders with
// literal, case-insensitive replacement. A customer without a stored name
// is greeted generically.
func RenderTemplate(template string, customer *models.Customer) string {
	name := strings.TrimSpace(customer.Name)
	if name == "" {
		name = fallbackName
	}
	out := namePlaceholder.ReplaceAllLiteralString(template, name)
	return emailPlaceholder.ReplaceAllLiteralString(out, customer.Email)
}
