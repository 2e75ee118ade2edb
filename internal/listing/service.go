package listing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/frahmantamala/roomshare/internal"
	listingDatamodel "github.com/frahmantamala/roomshare/internal/core/datamodel/listing"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
)

// RepositoryAPI returns internal.ErrListingNotFound for unknown ids.
type RepositoryAPI interface {
	GetRoom(ctx context.Context, id string) (*listingDatamodel.Room, error)
	GetProfile(ctx context.Context, id string) (*listingDatamodel.Profile, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetContact(ctx context.Context, listingType, id string) (*Contact, error) {
	switch listingType {
	case payment.ListingTypeProfile:
		p, err := s.repo.GetProfile(ctx, id)
		if err != nil {
			return nil, s.lookupError(err, listingType, id)
		}
		return FromProfile(p), nil
	case payment.ListingTypeRoom, "":
		r, err := s.repo.GetRoom(ctx, id)
		if err != nil {
			return nil, s.lookupError(err, listingType, id)
		}
		return FromRoom(r), nil
	default:
		return nil, internal.NewValidationFieldError("listing_type", "unknown listing type", internal.ErrCodeValidationFailed)
	}
}

// RoomTitle returns the room title, or "" when the room cannot be loaded.
func (s *Service) RoomTitle(ctx context.Context, id string) string {
	r, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		if !errors.Is(err, internal.ErrListingNotFound) {
			s.logger.Warn("failed to load room title", "room_id", id, "error", err)
		}
		return ""
	}
	return r.Title
}

func (s *Service) lookupError(err error, listingType, id string) error {
	if errors.Is(err, internal.ErrListingNotFound) {
		return internal.ErrListingNotFound
	}
	s.logger.Error("failed to load listing", "listing_type", listingType, "listing_id", id, "error", err)
	return err
}
