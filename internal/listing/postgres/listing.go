package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/roomshare/internal"
	listingDatamodel "github.com/frahmantamala/roomshare/internal/core/datamodel/listing"
	"gorm.io/gorm"
)

type ListingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) GetRoom(ctx context.Context, id string) (*listingDatamodel.Room, error) {
	var room listingDatamodel.Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (r *ListingRepository) GetProfile(ctx context.Context, id string) (*listingDatamodel.Profile, error) {
	var profile listingDatamodel.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (r *ListingRepository) CreateRoom(ctx context.Context, room *listingDatamodel.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *ListingRepository) CreateProfile(ctx context.Context, profile *listingDatamodel.Profile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrListingNotFound
	}
	return err
}
