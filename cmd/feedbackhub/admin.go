package main

import (
	"errors"
	"fmt"

	"feedbackhub-backend/internal/config"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/server"

	"github.com/go-playground/validator"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type createAdminOptions struct {
	Name     string
	Email    string
	Password string
}

func newCreateAdminCommand() *cobra.Command {
	opts := &createAdminOptions{}

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an active administrator account",
		Long: `Create an active administrator account, for bootstrapping a fresh
installation where nobody can activate self-registered users yet.

Example:
  feedbackhub create-admin --name "Ada Admin" --email ada@example.com --password s3cret!`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := server.OpenDatabase(cfg.Database.DSN)
			if err != nil {
				return err
			}
			if err := models.AutoMigrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			user, err := createAdmin(db, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "administrator %s created (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "initial password, at least 6 characters (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func createAdmin(db *gorm.DB, opts *createAdminOptions) (*models.User, error) {
	user := &models.User{
		Name:     opts.Name,
		Email:    opts.Email,
		Password: opts.Password,
		Role:     models.RoleAdmin,
		Status:   models.UserStatusActive,
	}
	if err := validator.New().Struct(user); err != nil {
		return nil, err
	}

	err := db.Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("a user with email %s already exists", opts.Email)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
