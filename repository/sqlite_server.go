package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/commsapp/server/aggregate"
	"github.com/commsapp/server/database"
	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg"
)

// sqliteServerRepo implements ServerRepository on SQLite.
//
// db is the active querier: the pool for a standalone repo, the
// transaction for a tx-bound copy. conn is kept so WithTx can open a
// transaction; it is nil on tx-bound copies, where WithTx simply joins
// the ambient transaction.
type sqliteServerRepo struct {
	db   database.TxQuerier
	conn *sql.DB
}

// NewSQLiteServerRepo creates a ServerRepository over the pool.
func NewSQLiteServerRepo(conn *sql.DB) ServerRepository {
	return &sqliteServerRepo{db: conn, conn: conn}
}

func (r *sqliteServerRepo) WithTx(ctx context.Context, fn func(ServerRepository) error) error {
	if r.conn == nil {
		// Already inside a transaction; nested scopes join it.
		return fn(r)
	}
	return database.WithTx(ctx, r.conn, func(tx *sql.Tx) error {
		return fn(&sqliteServerRepo{db: tx})
	})
}

func (r *sqliteServerRepo) InsertServer(ctx context.Context, srv *models.Server) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, invitation_code, custom_invitation_code, description, owner_id, icon_url, banner_url, server_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.InvitationCode, srv.CustomInvitationCode, srv.Description,
		srv.OwnerID, srv.IconURL, srv.BannerURL, int(srv.ServerType), srv.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert server: %w", err)
	}
	return res.RowsAffected()
}

// serverJoinQuery is the six-way aggregate load. The LEFT JOINs fan
// out into a row per (role x group-channel x member) combination; the
// aggregate.Builder folds the duplication back out.
const serverJoinQuery = `
	SELECT
		s.id, s.name, s.invitation_code, s.custom_invitation_code, s.description,
		s.owner_id, s.icon_url, s.banner_url, s.server_type, s.created_at,
		r.id, r.name, r.hex_colour, r.hierarchy, r.display_separately,
		usr.user_id, usr.role_id,
		cg.id, cg.name, cg.order_number,
		c.id, c.channel_group_id, c.name, c.order_number,
		sp.id, sp.user_id, u.username, sp.display_name, sp.avatar_url, sp.joined_at
	FROM servers s
	LEFT JOIN server_roles r ON r.server_id = s.id
	LEFT JOIN user_server_roles usr ON usr.role_id = r.id
	LEFT JOIN channel_groups cg ON cg.server_id = s.id
	LEFT JOIN channels c ON c.channel_group_id = cg.id
	LEFT JOIN server_profiles sp ON sp.server_id = s.id
	LEFT JOIN users u ON u.id = sp.user_id`

func (r *sqliteServerRepo) GetServerByID(ctx context.Context, serverID string) (*models.Server, error) {
	rows, err := r.db.QueryContext(ctx, serverJoinQuery+" WHERE s.id = ?", serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query server: %w", err)
	}
	defer rows.Close()

	srv, err := scanServerRows(rows)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, pkg.ErrNotFound)
	}
	return srv, nil
}

func (r *sqliteServerRepo) GetServerByInvitation(ctx context.Context, code string) (*models.Server, error) {
	rows, err := r.db.QueryContext(ctx,
		serverJoinQuery+" WHERE s.invitation_code = ? OR s.custom_invitation_code = ?", code, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query server by invitation: %w", err)
	}
	defer rows.Close()

	srv, err := scanServerRows(rows)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("invitation %s: %w", code, pkg.ErrNotFound)
	}
	return srv, nil
}

// scanServerRows folds the join result into at most one aggregate.
func scanServerRows(rows *sql.Rows) (*models.Server, error) {
	builder := aggregate.NewBuilder()

	for rows.Next() {
		var (
			srv     models.Server
			srvType int

			roleID, roleName, roleColour     sql.NullString
			roleHierarchy                    sql.NullInt64
			roleDisplaySeparately            sql.NullBool
			linkUserID, linkRoleID           sql.NullString
			groupID, groupName               sql.NullString
			groupOrder                       sql.NullInt64
			chanID, chanGroupID, chanName    sql.NullString
			chanOrder                        sql.NullInt64
			profID, profUserID, profUsername sql.NullString
			profDisplayName, profAvatarURL   sql.NullString
			profJoinedAt                     sql.NullTime
		)

		if err := rows.Scan(
			&srv.ID, &srv.Name, &srv.InvitationCode, &srv.CustomInvitationCode, &srv.Description,
			&srv.OwnerID, &srv.IconURL, &srv.BannerURL, &srvType, &srv.CreatedAt,
			&roleID, &roleName, &roleColour, &roleHierarchy, &roleDisplaySeparately,
			&linkUserID, &linkRoleID,
			&groupID, &groupName, &groupOrder,
			&chanID, &chanGroupID, &chanName, &chanOrder,
			&profID, &profUserID, &profUsername, &profDisplayName, &profAvatarURL, &profJoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		srv.ServerType = models.ServerType(srvType)

		row := aggregate.Row{Server: srv}

		if roleID.Valid {
			row.Role = &models.Role{
				ID:                roleID.String,
				ServerID:          srv.ID,
				Name:              roleName.String,
				HexColour:         roleColour.String,
				Hierarchy:         int(roleHierarchy.Int64),
				DisplaySeparately: roleDisplaySeparately.Bool,
			}
		}
		if linkUserID.Valid && linkRoleID.Valid {
			row.Link = &aggregate.UserRoleLink{UserID: linkUserID.String, RoleID: linkRoleID.String}
		}
		if groupID.Valid {
			row.Group = &models.ChannelGroup{
				ID:          groupID.String,
				ServerID:    srv.ID,
				Name:        groupName.String,
				OrderNumber: int(groupOrder.Int64),
			}
		}
		if chanID.Valid {
			row.Channel = &models.Channel{
				ID:             chanID.String,
				ChannelGroupID: chanGroupID.String,
				Name:           chanName.String,
				OrderNumber:    int(chanOrder.Int64),
			}
		}
		if profID.Valid {
			row.Member = &models.Member{
				ID:          profID.String,
				ServerID:    srv.ID,
				UserID:      profUserID.String,
				Username:    profUsername.String,
				DisplayName: profDisplayName.String,
				AvatarURL:   profAvatarURL.String,
				JoinedAt:    profJoinedAt.Time,
			}
		}

		builder.Add(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate server rows: %w", err)
	}

	return builder.Server(), nil
}

func (r *sqliteServerRepo) UpdateServerInfo(ctx context.Context, serverID string, name, description *string) (int64, error) {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, serverID)

	res, err := r.db.ExecContext(ctx,
		"UPDATE servers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update server info: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) InsertRole(ctx context.Context, role *models.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO server_roles (id, server_id, name, hex_colour, hierarchy, display_separately)
		VALUES (?, ?, ?, ?, ?, ?)`,
		role.ID, role.ServerID, role.Name, role.HexColour, role.Hierarchy, role.DisplaySeparately,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert role: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) UpdateRole(ctx context.Context, role *models.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE server_roles
		SET name = ?, hex_colour = ?, hierarchy = ?, display_separately = ?
		WHERE id = ?`,
		role.Name, role.HexColour, role.Hierarchy, role.DisplaySeparately, role.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update role: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) UpdateRoleHierarchy(ctx context.Context, roleID string, hierarchy int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE server_roles SET hierarchy = ? WHERE id = ?", hierarchy, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to update role hierarchy: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) UpsertRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (int64, error) {
	var total int64
	for _, permID := range permissionIDs {
		res, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO server_role_permissions (role_id, permission_id)
			VALUES (?, ?)`, roleID, permID)
		if err != nil {
			return total, fmt.Errorf("failed to upsert role permission: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *sqliteServerRepo) DeleteRolePermissionsNotIn(ctx context.Context, roleID string, keep []string) (int64, error) {
	query := "DELETE FROM server_role_permissions WHERE role_id = ?"
	args := []any{roleID}
	if len(keep) > 0 {
		query += " AND permission_id NOT IN (" + placeholders(len(keep)) + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete role permissions: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) InsertUserRole(ctx context.Context, userID, roleID, serverID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_server_roles (user_id, role_id, server_id)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM user_server_roles WHERE user_id = ? AND role_id = ?
		)`, userID, roleID, serverID, userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user role: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) DeleteUserRole(ctx context.Context, userID, roleID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_server_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user role: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) DeleteUserRolesByServer(ctx context.Context, serverID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	args := []any{serverID}
	for _, id := range userIDs {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_server_roles WHERE server_id = ? AND user_id IN ("+placeholders(len(userIDs))+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user roles: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) InsertProfile(ctx context.Context, member *models.Member) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO server_profiles (id, server_id, user_id, display_name, avatar_url, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID, member.ServerID, member.UserID, member.DisplayName, member.AvatarURL, member.JoinedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert profile: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) DeleteProfile(ctx context.Context, serverID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM server_profiles WHERE server_id = ? AND user_id = ?", serverID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profile: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) DeleteProfiles(ctx context.Context, serverID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	args := []any{serverID}
	for _, id := range userIDs {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM server_profiles WHERE server_id = ? AND user_id IN ("+placeholders(len(userIDs))+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) LoadMembers(ctx context.Context, srv *models.Server) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sp.id, sp.user_id, u.username, sp.display_name, sp.avatar_url, sp.joined_at, usr.role_id
		FROM server_profiles sp
		LEFT JOIN users u ON u.id = sp.user_id
		LEFT JOIN user_server_roles usr ON usr.user_id = sp.user_id AND usr.server_id = sp.server_id
		WHERE sp.server_id = ?`, srv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	everyone := srv.RoleByName(models.EveryoneRoleName)

	members := []*models.Member{}
	byID := make(map[string]*models.Member)

	for rows.Next() {
		var (
			id, userID             string
			username               sql.NullString
			displayName, avatarURL string
			joinedAt               time.Time
			roleID                 sql.NullString
		)
		if err := rows.Scan(&id, &userID, &username, &displayName, &avatarURL, &joinedAt, &roleID); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}

		m, ok := byID[id]
		if !ok {
			m = &models.Member{
				ID:          id,
				ServerID:    srv.ID,
				UserID:      userID,
				Username:    username.String,
				DisplayName: displayName,
				AvatarURL:   avatarURL,
				JoinedAt:    joinedAt,
				Roles:       []*models.Role{},
			}
			if everyone != nil {
				m.Roles = append(m.Roles, everyone.Clone())
			}
			byID[id] = m
			members = append(members, m)
		}

		if roleID.Valid && !m.HasRole(roleID.String) {
			if canonical := srv.RoleByID(roleID.String); canonical != nil {
				m.Roles = append(m.Roles, canonical.Clone())
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member rows: %w", err)
	}

	for _, m := range members {
		m.SortRoles()
	}
	return members, nil
}

func (r *sqliteServerRepo) InsertChannelGroup(ctx context.Context, group *models.ChannelGroup) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_groups (id, server_id, name, order_number)
		VALUES (?, ?, ?, ?)`,
		group.ID, group.ServerID, group.Name, group.OrderNumber,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert channel group: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) InsertChannel(ctx context.Context, channel *models.Channel) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (id, channel_group_id, name, order_number)
		VALUES (?, ?, ?, ?)`,
		channel.ID, channel.ChannelGroupID, channel.Name, channel.OrderNumber,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert channel: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) GetAllPermissions(ctx context.Context) ([]*models.Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, permission_type, permission_name FROM server_permissions ORDER BY permission_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []*models.Permission{}
	for rows.Next() {
		var p models.Permission
		var permType int
		if err := rows.Scan(&p.ID, &permType, &p.PermissionName); err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		p.PermissionType = models.PermissionType(permType)
		perms = append(perms, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission rows: %w", err)
	}
	return perms, nil
}

func (r *sqliteServerRepo) UpsertPermission(ctx context.Context, perm *models.Permission) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO server_permissions (id, permission_type, permission_name)
		VALUES (?, ?, ?)
		ON CONFLICT (permission_type) DO UPDATE SET permission_name = excluded.permission_name`,
		perm.ID, int(perm.PermissionType), perm.PermissionName,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert permission: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteServerRepo) AttachRolePermissions(ctx context.Context, srv *models.Server) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.permission_type, p.permission_name, rp.role_id
		FROM server_role_permissions rp
		JOIN server_permissions p ON p.id = rp.permission_id
		JOIN server_roles sr ON sr.id = rp.role_id
		WHERE sr.server_id = ?`, srv.ID)
	if err != nil {
		return fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var permRows []aggregate.PermissionRow
	for rows.Next() {
		var p models.Permission
		var permType int
		var roleID string
		if err := rows.Scan(&p.ID, &permType, &p.PermissionName, &roleID); err != nil {
			return fmt.Errorf("failed to scan role permission row: %w", err)
		}
		p.PermissionType = models.PermissionType(permType)
		permRows = append(permRows, aggregate.PermissionRow{Permission: &p, RoleID: roleID})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate role permission rows: %w", err)
	}

	aggregate.AttachPermissions(srv, permRows)
	return nil
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
