package models

// PermissionType enumerates every grantable server permission.
type PermissionType int

const (
	PermDisplayChannels PermissionType = iota
	PermManageChannels
	PermManageRoles
	PermViewLogs
	PermManageServer
	PermCreateInvite
	PermChangeNickname
	PermManageNicknames
	PermKickApproveMembers
	PermBanMembers
	PermTimeoutMembers
	PermSendMessages
	PermSendMessagesToThreads
	PermCreatePublicThreads
	PermCreatePrivateThreads
	PermEmbedLinks
	PermAttachFiles
	PermAddReactions
	PermManageMessages
	PermManageThreads
	PermReadMessageHistory
	PermAdminPrivileges
)

var permissionNames = map[PermissionType]string{
	PermDisplayChannels:       "DisplayChannels",
	PermManageChannels:        "ManageChannels",
	PermManageRoles:           "ManageRoles",
	PermViewLogs:              "ViewLogs",
	PermManageServer:          "ManageServer",
	PermCreateInvite:          "CreateInvite",
	PermChangeNickname:        "ChangeNickname",
	PermManageNicknames:       "ManageNicknames",
	PermKickApproveMembers:    "KickApproveMembers",
	PermBanMembers:            "BanMembers",
	PermTimeoutMembers:        "TimeoutMembers",
	PermSendMessages:          "SendMessages",
	PermSendMessagesToThreads: "SendMessagesToThreads",
	PermCreatePublicThreads:   "CreatePublicThreads",
	PermCreatePrivateThreads:  "CreatePrivateThreads",
	PermEmbedLinks:            "EmbedLinks",
	PermAttachFiles:           "AttachFiles",
	PermAddReactions:          "AddReactions",
	PermManageMessages:        "ManageMessages",
	PermManageThreads:         "ManageThreads",
	PermReadMessageHistory:    "ReadMessageHistory",
	PermAdminPrivileges:       "AdminPrivileges",
}

// String returns the catalog name of the permission type.
func (t PermissionType) String() string {
	if name, ok := permissionNames[t]; ok {
		return name
	}
	return "Unknown"
}

// AllPermissionTypes returns the full catalog in declaration order.
func AllPermissionTypes() []PermissionType {
	types := make([]PermissionType, 0, len(permissionNames))
	for t := PermDisplayChannels; t <= PermAdminPrivileges; t++ {
		types = append(types, t)
	}
	return types
}

// DefaultRolePermissions are the grants every new "@everyone" role
// starts with.
var DefaultRolePermissions = []PermissionType{
	PermDisplayChannels,
	PermChangeNickname,
	PermSendMessages,
	PermSendMessagesToThreads,
	PermCreatePublicThreads,
	PermCreatePrivateThreads,
	PermEmbedLinks,
	PermAttachFiles,
	PermAddReactions,
	PermReadMessageHistory,
}

// Permission is one entry of the global permission catalog.
type Permission struct {
	ID             string         `json:"id"`
	PermissionType PermissionType `json:"permission_type"`
	PermissionName string         `json:"permission_name"`
}
