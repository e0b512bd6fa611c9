// Package repository contains the data access layer: one interface
// file per store and a sqlite_*.go implementation for each.
package repository

import (
	"context"

	"github.com/commsapp/server/models"
)

// ServerRepository persists the server aggregate and its parts.
//
// Write methods return the number of affected rows. Zero means the
// statement matched nothing; callers treat that as a business no-op or
// a failure, never as success.
type ServerRepository interface {
	// WithTx runs fn against a transaction-bound copy of this
	// repository. Every call fn makes on that copy joins the same
	// transaction; fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(ServerRepository) error) error

	InsertServer(ctx context.Context, srv *models.Server) (int64, error)
	// GetServerByID materializes the structural aggregate (roles,
	// groups, channels, members) without permissions.
	GetServerByID(ctx context.Context, serverID string) (*models.Server, error)
	GetServerByInvitation(ctx context.Context, code string) (*models.Server, error)
	UpdateServerInfo(ctx context.Context, serverID string, name, description *string) (int64, error)

	InsertRole(ctx context.Context, role *models.Role) (int64, error)
	UpdateRole(ctx context.Context, role *models.Role) (int64, error)
	UpdateRoleHierarchy(ctx context.Context, roleID string, hierarchy int) (int64, error)
	// UpsertRolePermissions links each permission id to the role,
	// skipping links that already exist.
	UpsertRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (int64, error)
	// DeleteRolePermissionsNotIn removes every link of the role whose
	// permission id is not in keep. An empty keep removes them all.
	DeleteRolePermissionsNotIn(ctx context.Context, roleID string, keep []string) (int64, error)
	// InsertUserRole is idempotent: linking an already linked role
	// affects zero rows.
	InsertUserRole(ctx context.Context, userID, roleID, serverID string) (int64, error)
	DeleteUserRole(ctx context.Context, userID, roleID string) (int64, error)
	// DeleteUserRolesByServer clears every role link the listed users
	// hold on the server.
	DeleteUserRolesByServer(ctx context.Context, serverID string, userIDs []string) (int64, error)

	// InsertProfile affects zero rows when the user already has a
	// profile on the server.
	InsertProfile(ctx context.Context, member *models.Member) (int64, error)
	DeleteProfile(ctx context.Context, serverID, userID string) (int64, error)
	DeleteProfiles(ctx context.Context, serverID string, userIDs []string) (int64, error)
	// LoadMembers re-derives the member list of srv from profile and
	// role-link rows, attaching copies of srv's canonical roles.
	LoadMembers(ctx context.Context, srv *models.Server) ([]*models.Member, error)

	InsertChannelGroup(ctx context.Context, group *models.ChannelGroup) (int64, error)
	InsertChannel(ctx context.Context, channel *models.Channel) (int64, error)

	GetAllPermissions(ctx context.Context) ([]*models.Permission, error)
	UpsertPermission(ctx context.Context, perm *models.Permission) (int64, error)
	// AttachRolePermissions loads the server's role-permission rows and
	// propagates them onto the aggregate.
	AttachRolePermissions(ctx context.Context, srv *models.Server) error
}
