package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/frahmantamala/roomshare/internal"
	listingDatamodel "github.com/frahmantamala/roomshare/internal/core/datamodel/listing"
	listingPostgres "github.com/frahmantamala/roomshare/internal/listing/postgres"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample rooms and roommate profiles for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		deps, err := initializeDependencies(configPath)
		if err != nil {
			log.Fatalf("failed to init dependencies: %v", err)
		}
		defer deps.Close()

		ctx := context.Background()

		if clearData {
			// webhook events reference attempts, attempts reference listings by id only
			for _, table := range []string{"payment_webhook_events", "connection_attempts", "rooms", "profiles"} {
				if err := deps.Gorm.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing listings and payment attempts")
		}

		repo := listingPostgres.NewListingRepository(deps.Gorm)

		for _, room := range sampleRooms() {
			_, err := repo.GetRoom(ctx, room.ID)
			if err == nil {
				fmt.Println("room already exists:", room.Title)
				continue
			}
			if !errors.Is(err, internal.ErrListingNotFound) {
				log.Fatalf("failed to look up room %s: %v", room.ID, err)
			}
			if err := repo.CreateRoom(ctx, room); err != nil {
				log.Fatalf("failed to insert room %s: %v", room.Title, err)
			}
			fmt.Println("Seeded room:", room.Title)
		}

		for _, profile := range sampleProfiles() {
			_, err := repo.GetProfile(ctx, profile.ID)
			if err == nil {
				fmt.Println("profile already exists:", profile.FullName)
				continue
			}
			if !errors.Is(err, internal.ErrListingNotFound) {
				log.Fatalf("failed to look up profile %s: %v", profile.ID, err)
			}
			if err := repo.CreateProfile(ctx, profile); err != nil {
				log.Fatalf("failed to insert profile %s: %v", profile.FullName, err)
			}
			fmt.Println("Seeded profile:", profile.FullName)
		}

		fmt.Println("Seeding completed")
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the bcrypt hash for admin.password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}

func sampleRooms() []*listingDatamodel.Room {
	return []*listingDatamodel.Room{
		{
			ID:          "6f1c1c2e-3a59-4d8e-9a51-1f0d2b7c9a01",
			Title:       "Sunny room in Yaba",
			Location:    "Yaba, Lagos",
			MonthlyRent: decimal.NewFromInt(85000),
			OwnerName:   "Adaeze Okafor",
			OwnerEmail:  "adaeze@example.com",
			OwnerPhone:  "+2348010000001",
			Status:      "active",
		},
		{
			ID:          "6f1c1c2e-3a59-4d8e-9a51-1f0d2b7c9a02",
			Title:       "Shared flat near Wuse market",
			Location:    "Wuse 2, Abuja",
			MonthlyRent: decimal.NewFromInt(120000),
			OwnerName:   "Tunde Bello",
			OwnerEmail:  "tunde@example.com",
			OwnerPhone:  "+2348010000002",
			Status:      "active",
		},
	}
}

func sampleProfiles() []*listingDatamodel.Profile {
	return []*listingDatamodel.Profile{
		{
			ID:         "9b3e4f10-7c2d-4e61-8f0a-2c5d6e7f8a01",
			FullName:   "Chioma Eze",
			Email:      "chioma@example.com",
			Phone:      "+2348020000001",
			Occupation: "Software engineer",
			Location:   "Lekki, Lagos",
			Status:     "active",
		},
	}
}
