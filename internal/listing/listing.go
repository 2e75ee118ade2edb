package listing

import (
	listingDatamodel "github.com/frahmantamala/roomshare/internal/core/datamodel/listing"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
)

// Contact is what a payer unlocks: who to reach about a listing.
type Contact struct {
	ListingID   string `json:"listing_id"`
	ListingType string `json:"listing_type"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Location    string `json:"location,omitempty"`
}

func FromRoom(r *listingDatamodel.Room) *Contact {
	return &Contact{
		ListingID:   r.ID,
		ListingType: payment.ListingTypeRoom,
		Title:       r.Title,
		Name:        r.OwnerName,
		Email:       r.OwnerEmail,
		Phone:       r.OwnerPhone,
		Location:    r.Location,
	}
}

func FromProfile(p *listingDatamodel.Profile) *Contact {
	title := p.FullName
	if p.Occupation != "" {
		title = p.FullName + " (" + p.Occupation + ")"
	}
	return &Contact{
		ListingID:   p.ID,
		ListingType: payment.ListingTypeProfile,
		Title:       title,
		Name:        p.FullName,
		Email:       p.Email,
		Phone:       p.Phone,
		Location:    p.Location,
	}
}
