package core

import (
	"context"
	"fmt"

	"github.com/edvin/photovault/internal/model"
)

// AdminService exposes the admin-user directory to the backup engine. Only
// the read path the failure-notification flow needs lives here; account
// management belongs to the main application.
type AdminService struct {
	db DB
}

func NewAdminService(db DB) *AdminService {
	return &AdminService{db: db}
}

func (s *AdminService) ListActiveAdmins(ctx context.Context) ([]model.AdminUser, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, email FROM admin_users WHERE active = true ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list active admins: %w", err)
	}
	defer rows.Close()

	var admins []model.AdminUser
	for rows.Next() {
		var a model.AdminUser
		if err := rows.Scan(&a.ID, &a.Email); err != nil {
			return nil, fmt.Errorf("scan admin user: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin users: %w", err)
	}
	return admins, nil
}
