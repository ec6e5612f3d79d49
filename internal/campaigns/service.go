package campaigns

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/internal/delivery"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/pagination"
)

const recentLogSample = 25

// Service exposes campaign creation and reporting. Creating a campaign
// also launches it: the definition is stored as PROCESSING and a job is
// enqueued for the delivery orchestrator.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Campaign, error)
	History(ctx context.Context, input HistoryInput) (*HistoryResult, error)
	Details(ctx context.Context, id uuid.UUID) (*Details, error)
}

type service struct {
	repo          Repository
	deliveryRepo  delivery.Repository
	dbClient      *db.Client
	publisher     broker.Publisher
	logg          *logger.Logger
	campaignQueue string
	quotaLimit    int
	now           func() time.Time
}

// NewService wires the campaign service.
func NewService(repo Repository, deliveryRepo delivery.Repository, dbClient *db.Client, publisher broker.Publisher, logg *logger.Logger, campaignQueue string, quotaLimit int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("campaign repository required")
	}
	if deliveryRepo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("broker publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:          repo,
		deliveryRepo:  deliveryRepo,
		dbClient:      dbClient,
		publisher:     publisher,
		logg:          logg,
		campaignQueue: campaignQueue,
		quotaLimit:    quotaLimit,
		now:           time.Now,
	}, nil
}

// Create stores the campaign and enqueues its delivery job. When the job
// cannot be enqueued the quota increment is rolled back and the campaign is
// parked as FAILED_TO_QUEUE so the failure is visible, not silent.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Campaign, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign name is required")
	}
	if input.CreatedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign owner is required")
	}

	now := s.now()
	campaign := &models.Campaign{
		ID:              uuid.New(),
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		Rules:           models.RuleList(input.Rules),
		Objective:       strings.TrimSpace(input.Objective),
		MessageTemplate: input.MessageTemplate,
		CreatedBy:       input.CreatedBy,
		Status:          enums.CampaignStatusProcessing,
		LastLaunchedAt:  &now,
	}

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		count, err := repo.QuotaCount(ctx, input.CreatedBy)
		if err != nil {
			return err
		}
		if s.quotaLimit > 0 && count >= s.quotaLimit {
			return pkgerrors.New(pkgerrors.CodeQuotaExceeded, "free tier campaign limit reached").
				WithDetails(map[string]any{"limit": s.quotaLimit})
		}

		if _, err := repo.Create(ctx, campaign); err != nil {
			if db.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "a campaign with this name already exists")
			}
			return err
		}
		return repo.AdjustQuota(ctx, input.CreatedBy, 1)
	})
	if err != nil {
		return nil, err
	}

	job := events.CampaignJob{CampaignDefinitionID: campaign.ID.String()}
	if !s.publisher.Publish(ctx, s.campaignQueue, job) {
		s.compensateFailedEnqueue(ctx, campaign)
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "failed to enqueue campaign for delivery")
	}
	return campaign, nil
}

// compensateFailedEnqueue undoes the quota increment and parks the campaign
// so the stored state never claims a delivery that was not queued.
func (s *service) compensateFailedEnqueue(ctx context.Context, campaign *models.Campaign) {
	logCtx := s.logg.WithCampaignID(ctx, campaign.ID.String())
	s.logg.Warn(logCtx, "campaign enqueue failed, rolling back quota")

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateStatus(ctx, campaign.ID, enums.CampaignStatusFailedToQueue); err != nil {
			return err
		}
		return repo.AdjustQuota(ctx, campaign.CreatedBy, -1)
	})
	if err != nil {
		s.logg.Error(logCtx, "failed to roll back campaign after enqueue failure", err)
	}
}

func (s *service) History(ctx context.Context, input HistoryInput) (*HistoryResult, error) {
	if _, err := pagination.ParseCursor(input.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pagination cursor")
	}

	page, err := s.repo.List(ctx, pagination.Params{Limit: input.Limit, Cursor: input.Cursor}, input.CreatedBy)
	if err != nil {
		return nil, err
	}

	result := &HistoryResult{
		Items:      make([]HistoryItem, 0, len(page.Campaigns)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, campaign := range page.Campaigns {
		stats, err := s.deliveryRepo.CountByStatus(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, HistoryItem{
			Campaign: campaign,
			Stats:    stats,
			Total:    sumCounts(stats),
		})
	}
	return result, nil
}

func (s *service) Details(ctx context.Context, id uuid.UUID) (*Details, error) {
	campaign, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
		}
		return nil, err
	}

	stats, err := s.deliveryRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	recent, err := s.deliveryRepo.ListRecent(ctx, id, recentLogSample)
	if err != nil {
		return nil, err
	}

	return &Details{
		Campaign:   *campaign,
		Stats:      stats,
		Total:      sumCounts(stats),
		RecentLogs: recent,
	}, nil
}

func sumCounts(stats []delivery.StatusCount) int64 {
	var total int64
	for _, s := range stats {
		total += s.Count
	}
	return total
}
